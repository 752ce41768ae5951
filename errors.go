package gocbanalytics

import (
	"github.com/couchbase/gocbanalytics/internal/queryengine"
)

// Public error taxonomy. Each kind is a distinct Go type so
// callers can dispatch with errors.As; all are aliases of the internal
// engine's classification so a single import gives callers both the
// facade and its errors.
type (
	// AnalyticsError is the base of the taxonomy: every error kind below
	// implements it, so a caller can catch any analytics failure with
	//
	//	var ae gocbanalytics.AnalyticsError
	//	if errors.As(err, &ae) { ... }
	//
	// before dispatching on the concrete kind.
	AnalyticsError = queryengine.AnalyticsError

	// QueryError is raised when the server's response carried an errors
	// array, or when the engine synthesized a retriable failure for a
	// non-conforming 503 response. Primary() returns the ErrorRecord the
	// engine used to decide retriability.
	QueryError = queryengine.QueryFailedError

	// InvalidCredentialsError is raised on HTTP 401.
	InvalidCredentialsError = queryengine.InvalidCredentialsError

	// TimeoutError is raised when the overall caller deadline, or a
	// transport-level timeout translating to it, is exceeded.
	TimeoutError = queryengine.TimeoutError

	// CancelledError is raised when the caller's context is cancelled.
	CancelledError = queryengine.CancelledError

	// TLSHandshakeError wraps a TLS handshake failure with guidance toward
	// the likely root cause: TrustSource misconfiguration.
	TLSHandshakeError = queryengine.TLSHandshakeError

	// TransportError wraps a non-TLS, non-timeout transport failure.
	TransportError = queryengine.TransportError

	// ProtocolError is raised when the response body is truncated,
	// malformed, or never carried a requestID.
	ProtocolError = queryengine.ProtocolError

	// DataConversionError is raised when a Row fails to decode into the
	// caller-requested type.
	DataConversionError = queryengine.DataConversionError

	// ErrorRecord is the parsed {code, message, retriable, reason, context}
	// tuple from one server error entry.
	ErrorRecord = queryengine.ErrorRecord

	// TerminalError wraps a non-retriable terminal error together with the
	// most recent retriable QueryError the retry loop gave up on
	// superseding.
	TerminalError = queryengine.TerminalError
)
