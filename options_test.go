package gocbanalytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClusterOptions_Defaults(t *testing.T) {
	opts := NewClusterOptions()
	assert.Equal(t, defaultQueryTimeout, opts.Timeout)
	assert.Equal(t, "gocbanalytics", opts.UserAgentProduct)
}

func TestClusterOptionsBuilder_Build_Snapshot(t *testing.T) {
	opts := NewClusterOptions().WithTimeout(5 * time.Second).WithUserAgent("foo", "9.9.9")
	snap := opts.Build()

	assert.Equal(t, 5*time.Second, snap.timeout)
	assert.Equal(t, "foo", snap.userAgentProduct)
	assert.Equal(t, "9.9.9", snap.userAgentVersion)

	// mutating the builder after Build must not affect the already-taken
	// snapshot: callers must never be able to reach into an in-flight
	// Cluster's options through a builder they kept a reference to.
	opts.WithTimeout(time.Hour)
	assert.Equal(t, 5*time.Second, snap.timeout)
}

func TestQueryOptionsBuilder_NilSnapshotIsZeroValue(t *testing.T) {
	var opts *QueryOptionsBuilder
	snap := opts.snapshot()
	assert.Equal(t, queryOptionsSnapshot{}, snap)
}

func TestQueryOptionsBuilder_Snapshot(t *testing.T) {
	opts := NewQueryOptions().
		WithClientContextID("ccid-1").
		WithScanConsistency(ScanConsistencyRequestPlus).
		WithReadonly(true).
		WithPositionalParameters("a", 1)

	snap := opts.snapshot()
	require.NotNil(t, snap.readonly)
	assert.True(t, *snap.readonly)
	assert.Equal(t, "ccid-1", snap.clientContextID)
	assert.Equal(t, ScanConsistencyRequestPlus, snap.scanConsistency)
	assert.Equal(t, []any{"a", 1}, snap.positionalParams)
}
