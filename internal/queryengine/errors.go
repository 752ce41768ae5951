package queryengine

import "fmt"

// AnalyticsError is the root of the error taxonomy: every error kind this
// package raises implements it, so callers can catch "any analytics
// error" with a single errors.As target before dispatching on the
// concrete kind.
type AnalyticsError interface {
	error
	analyticsError()
}

// QueryFailedError is raised when the server's response carries an
// /errors array, or when the engine synthesizes a retriable failure for a
// non-conforming 503 response.
type QueryFailedError struct {
	Records   []ErrorRecord
	Retriable bool
}

func (e *QueryFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Records))
	for _, r := range e.Records {
		errs = append(errs, recordError{r})
	}

	return errs
}

// recordError adapts a single ErrorRecord to the error interface so it can
// be surfaced via QueryFailedError.Unwrap as a suppressed/sibling error.
type recordError struct{ ErrorRecord }

func (r recordError) Error() string {
	return fmt.Sprintf("analytics: error code=%d: %s", r.Code, r.Message)
}

func (e *QueryFailedError) Error() string {
	if len(e.Records) == 0 {
		return "analytics: query failed"
	}

	primary := primaryErrorRecord(e.Records)

	return fmt.Sprintf("analytics: query failed (code=%d): %s", primary.Code, primary.Message)
}

// Primary returns the error record the engine used to decide
// retriability: the first non-retriable record, or the first record if
// every record is retriable.
func (e *QueryFailedError) Primary() ErrorRecord {
	return primaryErrorRecord(e.Records)
}

// TerminalError wraps a non-retriable terminal error together with the
// most recent retriable QueryFailedError the retry loop had seen before
// giving up. errors.As/errors.Is on Err still see through to the wrapped
// terminal error via Unwrap.
type TerminalError struct {
	Err        error
	Suppressed error
}

func (e *TerminalError) Error() string {
	if e.Suppressed == nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("%s (previous retriable error: %v)", e.Err, e.Suppressed)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// InvalidCredentialsError is raised on HTTP 401, or when a dynamic
// credential's supplier fails to produce a credential for an attempt.
type InvalidCredentialsError struct {
	Cause error
}

func (e *InvalidCredentialsError) Error() string {
	if e.Cause == nil {
		return "analytics: invalid credentials"
	}

	return fmt.Sprintf("analytics: invalid credentials: %v", e.Cause)
}

func (e *InvalidCredentialsError) Unwrap() error { return e.Cause }

// TimeoutError is raised when the overall caller deadline (or a transport
// read/write timeout translating to it) is exceeded. Cause, when set, is
// either the underlying transport or body-read error that hit the
// deadline, or the most recent retriable QueryFailedError that was
// superseded by the timeout.
type TimeoutError struct {
	Reason string
	Cause  error
}

func (e *TimeoutError) Error() string {
	if e.Reason == "" {
		return "analytics: operation timed out"
	}

	return fmt.Sprintf("analytics: operation timed out: %s", e.Reason)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// CancelledError is raised when the caller's context is cancelled (as
// opposed to timing out against the engine's own deadline arithmetic).
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return "analytics: operation cancelled"
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// TLSHandshakeError wraps a TLS handshake failure with guidance toward the
// likely root cause: trust-source misconfiguration.
type TLSHandshakeError struct {
	Cause error
}

func (e *TLSHandshakeError) Error() string {
	return fmt.Sprintf(
		"analytics: TLS handshake failed, check that the configured TrustSource trusts the server's certificate chain: %v",
		e.Cause,
	)
}

func (e *TLSHandshakeError) Unwrap() error { return e.Cause }

// TransportError wraps a non-TLS, non-timeout transport failure (DNS
// failure, connection refused, reset, and similar).
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("analytics: transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ProtocolError is raised when the response body is truncated, malformed,
// or well-formed JSON that nonetheless never carried a requestID. Cause,
// when set, is the underlying read or decode error, preserved so the
// executor can tell a socket timeout mid-read apart from genuinely
// malformed JSON.
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("analytics: protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// DataConversionError is raised when a Row fails to decode into the
// caller-requested type.
type DataConversionError struct {
	Cause error
}

func (e *DataConversionError) Error() string {
	return fmt.Sprintf("analytics: data conversion error: %v", e.Cause)
}

func (e *DataConversionError) Unwrap() error { return e.Cause }

// Marker methods rooting every concrete kind under AnalyticsError.
func (e *QueryFailedError) analyticsError()        {}
func (e *TerminalError) analyticsError()           {}
func (e *InvalidCredentialsError) analyticsError() {}
func (e *TimeoutError) analyticsError()            {}
func (e *CancelledError) analyticsError()          {}
func (e *TLSHandshakeError) analyticsError()       {}
func (e *TransportError) analyticsError()          {}
func (e *ProtocolError) analyticsError()           {}
func (e *DataConversionError) analyticsError()     {}
