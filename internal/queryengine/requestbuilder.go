package queryengine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScanConsistency is the analytics query option governing read visibility.
type ScanConsistency string

const (
	ScanConsistencyNotBounded  ScanConsistency = "not_bounded"
	ScanConsistencyRequestPlus ScanConsistency = "request_plus"
)

// serverTimeoutGrace is added to the caller's timeout when computing the
// server-side timeout sent in the request body, so the server has a
// chance to return a structured error before the client's local timeout
// fires.
const serverTimeoutGrace = 5 * time.Second

// RequestOptions is everything that influences one attempt's request
// body. The executor builds one per attempt from the query's
// QueryAttemptOptions, with that attempt's client_context_id.
type RequestOptions struct {
	Statement        string
	ClientContextID  string // caller-supplied; empty means mint one per attempt
	QueryContext     string // "" means no query_context field
	ScanConsistency  ScanConsistency
	ScanWait         time.Duration
	PositionalParams []any
	NamedParams      map[string]any
	Readonly         *bool
	Raw              map[string]any
}

// BuildRequestBody renders one attempt's JSON request body. callerTimeout
// is the per-attempt timeout (the retry loop's remaining deadline, which
// shrinks across attempts); the server-side timeout sent in the body is
// callerTimeout+5s so the server can return a structured error before the
// client's local timeout fires.
func BuildRequestBody(opts RequestOptions, callerTimeout time.Duration) ([]byte, string, error) {
	payload := map[string]any{
		"statement": opts.Statement,
	}

	if callerTimeout > 0 {
		serverTimeout := callerTimeout + serverTimeoutGrace
		payload["timeout"] = fmt.Sprintf("%dms", serverTimeout.Milliseconds())
	}

	if opts.QueryContext != "" {
		payload["query_context"] = opts.QueryContext
	}

	clientContextID := opts.ClientContextID
	if clientContextID == "" {
		clientContextID = uuid.NewString()
	}
	payload["client_context_id"] = clientContextID

	if opts.ScanConsistency != "" {
		payload["scan_consistency"] = opts.ScanConsistency
		if opts.ScanConsistency != ScanConsistencyNotBounded && opts.ScanWait > 0 {
			payload["scan_wait"] = fmt.Sprintf("%dms", opts.ScanWait.Milliseconds())
		}
	}

	if len(opts.PositionalParams) > 0 {
		payload["args"] = opts.PositionalParams
	}

	for key, val := range opts.NamedParams {
		payload[namedParamKey(key)] = val
	}

	if opts.Readonly != nil {
		payload["readonly"] = *opts.Readonly
	}

	for key, val := range opts.Raw {
		payload[key] = val
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal query request: %w", err)
	}

	return body, clientContextID, nil
}

// namedParamKey prefixes a named parameter key with "$" unless it already
// carries the prefix.
func namedParamKey(key string) string {
	if strings.HasPrefix(key, "$") {
		return key
	}

	return "$" + key
}
