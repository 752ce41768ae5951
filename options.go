package gocbanalytics

import (
	"log/slog"
	"time"

	"github.com/couchbase/gocbanalytics/internal/queryengine"
)

// ScanConsistency governs read visibility for an analytics query.
type ScanConsistency = queryengine.ScanConsistency

// Re-exported scan consistency values.
const (
	ScanConsistencyNotBounded  = queryengine.ScanConsistencyNotBounded
	ScanConsistencyRequestPlus = queryengine.ScanConsistencyRequestPlus
)

// defaultQueryTimeout is used when neither the cluster nor a per-query
// QueryOptionsBuilder supplies one.
const defaultQueryTimeout = 75 * time.Second

// ClusterOptionsBuilder accumulates cluster-wide defaults via chainable
// With* setters, then freezes them into an immutable ClusterOptions
// snapshot with Build(). Its fields are exported so ConnectionString.ApplyTo
// can apply query parameters to it by reflection; callers assembling a
// Cluster in code should still prefer the With* methods over setting
// fields directly.
type ClusterOptionsBuilder struct {
	Timeout          time.Duration
	TrustSource      TrustSource
	UserAgentProduct string
	UserAgentVersion string
	Deserializer     Deserializer
	Logger           *slog.Logger
}

// NewClusterOptions returns a builder seeded with the module's defaults.
func NewClusterOptions() *ClusterOptionsBuilder {
	return &ClusterOptionsBuilder{
		Timeout:          defaultQueryTimeout,
		TrustSource:      SystemTrustSource(),
		UserAgentProduct: "gocbanalytics",
		UserAgentVersion: "0.1.0",
	}
}

func (b *ClusterOptionsBuilder) WithTimeout(d time.Duration) *ClusterOptionsBuilder {
	b.Timeout = d
	return b
}

func (b *ClusterOptionsBuilder) WithTrustSource(t TrustSource) *ClusterOptionsBuilder {
	b.TrustSource = t
	return b
}

func (b *ClusterOptionsBuilder) WithUserAgent(product, version string) *ClusterOptionsBuilder {
	b.UserAgentProduct = product
	b.UserAgentVersion = version
	return b
}

func (b *ClusterOptionsBuilder) WithDeserializer(d Deserializer) *ClusterOptionsBuilder {
	b.Deserializer = d
	return b
}

func (b *ClusterOptionsBuilder) WithLogger(l *slog.Logger) *ClusterOptionsBuilder {
	b.Logger = l
	return b
}

// ClusterOptions is the immutable snapshot Build() produces. The live
// builder is never handed to a Cluster directly.
type ClusterOptions struct {
	timeout          time.Duration
	trustSource      TrustSource
	userAgentProduct string
	userAgentVersion string
	deserializer     Deserializer
	logger           *slog.Logger
}

// Build freezes the builder's current state into a ClusterOptions
// snapshot.
func (b *ClusterOptionsBuilder) Build() *ClusterOptions {
	return &ClusterOptions{
		timeout:          b.Timeout,
		trustSource:      b.TrustSource,
		userAgentProduct: b.UserAgentProduct,
		userAgentVersion: b.UserAgentVersion,
		deserializer:     b.Deserializer,
		logger:           b.Logger,
	}
}

// QueryOptionsBuilder accumulates per-query options via chainable With*
// setters. A fresh snapshot is taken at the start of every
// ExecuteQuery/ExecuteStreamingQuery call; no live mutable options object
// is ever handed to the engine.
type QueryOptionsBuilder struct {
	timeout          time.Duration
	clientContextID  string
	scanConsistency  ScanConsistency
	scanWait         time.Duration
	positionalParams []any
	namedParams      map[string]any
	readonly         *bool
	raw              map[string]any
	deserializer     Deserializer
}

// NewQueryOptions returns an empty builder; unset fields fall back to the
// Cluster's defaults (timeout, deserializer) or to the wire default
// (scan_consistency omitted, readonly omitted).
func NewQueryOptions() *QueryOptionsBuilder {
	return &QueryOptionsBuilder{}
}

func (b *QueryOptionsBuilder) WithTimeout(d time.Duration) *QueryOptionsBuilder {
	b.timeout = d
	return b
}

func (b *QueryOptionsBuilder) WithClientContextID(id string) *QueryOptionsBuilder {
	b.clientContextID = id
	return b
}

func (b *QueryOptionsBuilder) WithScanConsistency(c ScanConsistency) *QueryOptionsBuilder {
	b.scanConsistency = c
	return b
}

func (b *QueryOptionsBuilder) WithScanWait(d time.Duration) *QueryOptionsBuilder {
	b.scanWait = d
	return b
}

func (b *QueryOptionsBuilder) WithPositionalParameters(params ...any) *QueryOptionsBuilder {
	b.positionalParams = params
	return b
}

func (b *QueryOptionsBuilder) WithNamedParameters(params map[string]any) *QueryOptionsBuilder {
	b.namedParams = params
	return b
}

func (b *QueryOptionsBuilder) WithReadonly(readonly bool) *QueryOptionsBuilder {
	b.readonly = &readonly
	return b
}

func (b *QueryOptionsBuilder) WithRaw(raw map[string]any) *QueryOptionsBuilder {
	b.raw = raw
	return b
}

func (b *QueryOptionsBuilder) WithDeserializer(d Deserializer) *QueryOptionsBuilder {
	b.deserializer = d
	return b
}

// queryOptionsSnapshot is the frozen form consumed by Cluster/Database/
// Scope when dispatching a query.
type queryOptionsSnapshot struct {
	timeout          time.Duration
	clientContextID  string
	scanConsistency  ScanConsistency
	scanWait         time.Duration
	positionalParams []any
	namedParams      map[string]any
	readonly         *bool
	raw              map[string]any
	deserializer     Deserializer
}

func (b *QueryOptionsBuilder) snapshot() queryOptionsSnapshot {
	if b == nil {
		return queryOptionsSnapshot{}
	}

	return queryOptionsSnapshot{
		timeout:          b.timeout,
		clientContextID:  b.clientContextID,
		scanConsistency:  b.scanConsistency,
		scanWait:         b.scanWait,
		positionalParams: b.positionalParams,
		namedParams:      b.namedParams,
		readonly:         b.readonly,
		raw:              b.raw,
		deserializer:     b.deserializer,
	}
}
