package gocbanalytics

import (
	"encoding/json"
	"time"

	"github.com/couchbase/gocbanalytics/internal/queryengine"
)

// QueryMetadata holds the sibling fields of a query response other than
// the rows themselves. Metrics and warnings are kept as raw JSON and
// decoded lazily, each time they are accessed.
type QueryMetadata struct {
	requestID       string
	clientContextID string
	status          string
	signature       json.RawMessage
	metricsRaw      json.RawMessage
	warningsRaw     json.RawMessage
}

func newQueryMetadata(parsed *queryengine.ParsedResponse) *QueryMetadata {
	if parsed == nil {
		return &QueryMetadata{}
	}

	return &QueryMetadata{
		requestID:       parsed.RequestID,
		clientContextID: parsed.ClientContextID,
		status:          parsed.Status,
		signature:       parsed.Signature,
		metricsRaw:      parsed.Metrics,
		warningsRaw:     parsed.Warnings,
	}
}

// RequestID returns the server-assigned request identifier.
func (m *QueryMetadata) RequestID() string { return m.requestID }

// ClientContextID returns the client_context_id the server echoed back.
func (m *QueryMetadata) ClientContextID() string { return m.clientContextID }

// Status returns the server-reported query status string (e.g. "success").
func (m *QueryMetadata) Status() string { return m.status }

// Signature returns the query's result signature as raw JSON, or nil if
// the response did not carry one.
func (m *QueryMetadata) Signature() json.RawMessage { return m.signature }

// Metrics decodes and returns the response's metrics object.
func (m *QueryMetadata) Metrics() QueryMetrics {
	return newQueryMetrics(m.metricsRaw)
}

// Warnings decodes and returns the response's warnings array. Warnings are
// not errors: they accompany a successful response.
func (m *QueryMetadata) Warnings() []QueryWarning {
	if len(m.warningsRaw) == 0 {
		return nil
	}

	var raw []struct {
		Code    int    `json:"code"`
		Message string `json:"msg"`
	}
	if err := json.Unmarshal(m.warningsRaw, &raw); err != nil {
		return nil
	}

	warnings := make([]QueryWarning, 0, len(raw))
	for _, w := range raw {
		warnings = append(warnings, QueryWarning{Code: w.Code, Message: w.Message})
	}

	return warnings
}

// QueryWarning is one element of a response's warnings array.
type QueryWarning struct {
	Code    int
	Message string
}

// QueryMetrics exposes the response's metrics object. elapsedTime and
// executionTime are Go-duration strings on the wire and are parsed on
// each access; the integer counters default to zero when absent.
type QueryMetrics struct {
	raw json.RawMessage
}

func newQueryMetrics(raw json.RawMessage) QueryMetrics {
	return QueryMetrics{raw: raw}
}

type wireMetrics struct {
	ElapsedTime      string `json:"elapsedTime"`
	ExecutionTime    string `json:"executionTime"`
	ResultCount      int64  `json:"resultCount"`
	ResultSize       int64  `json:"resultSize"`
	ProcessedObjects int64  `json:"processedObjects"`
}

func (m QueryMetrics) decode() wireMetrics {
	var w wireMetrics
	if len(m.raw) == 0 {
		return w
	}

	_ = json.Unmarshal(m.raw, &w)

	return w
}

// ElapsedTime returns the total time taken to execute the query, from
// when it was received until the results were returned.
func (m QueryMetrics) ElapsedTime() time.Duration {
	d, _ := time.ParseDuration(m.decode().ElapsedTime)
	return d
}

// ExecutionTime returns the time taken to actually execute the query, once
// it was accepted for processing.
func (m QueryMetrics) ExecutionTime() time.Duration {
	d, _ := time.ParseDuration(m.decode().ExecutionTime)
	return d
}

// ResultCount returns the number of results returned by the query.
func (m QueryMetrics) ResultCount() int64 { return m.decode().ResultCount }

// ResultSize returns the size, in bytes, of the results returned.
func (m QueryMetrics) ResultSize() int64 { return m.decode().ResultSize }

// ProcessedObjects returns the number of objects the server processed
// while evaluating the query.
func (m QueryMetrics) ProcessedObjects() int64 { return m.decode().ProcessedObjects }

// QueryResult is the fully-buffered result of executeQuery: every row held
// in memory as raw JSON bytes, plus the response's metadata.
type QueryResult struct {
	rows     []Row
	metadata *QueryMetadata
}

// Rows returns the buffered rows, in wire order.
func (r *QueryResult) Rows() []Row { return r.rows }

// MetaData returns the response's metadata.
func (r *QueryResult) MetaData() *QueryMetadata { return r.metadata }
