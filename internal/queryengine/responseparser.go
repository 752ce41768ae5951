package queryengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// RowCallback is invoked once per element of the response's results
// array, in document order, with that element's raw JSON bytes. The
// bytes are only valid for the duration of the call unless the callback
// copies them. Returning a non-nil error aborts parsing; that exact error
// is what ParseResponse returns (wrapped so the executor can recognize and
// re-raise it verbatim - see IsRowCallbackError).
type RowCallback func(raw json.RawMessage) error

// ParsedResponse holds the sibling fields captured while streaming the
// response body, available once ParseResponse returns (successfully or
// not - whatever was captured before failure is still populated; only a
// body that does not open as a JSON object yields a nil ParsedResponse).
type ParsedResponse struct {
	RequestID       string
	ClientContextID string
	Status          string
	Signature       json.RawMessage
	Plans           json.RawMessage
	Metrics         json.RawMessage
	Warnings        json.RawMessage
}

// rowCallbackError marks an error returned by the caller's RowCallback so
// the executor can distinguish it from parser/transport failures and
// re-raise it unwrapped.
type rowCallbackError struct {
	cause error
}

func (e *rowCallbackError) Error() string { return e.cause.Error() }
func (e *rowCallbackError) Unwrap() error { return e.cause }

// IsRowCallbackError reports whether err originated from a RowCallback
// and, if so, returns the exact error the callback returned.
func IsRowCallbackError(err error) (error, bool) {
	var rce *rowCallbackError
	if errors.As(err, &rce) {
		return rce.cause, true
	}

	return nil, false
}

// ParseResponse consumes body incrementally, invoking rowCallback for
// each element of the results array as it arrives rather than
// materializing the document. Sibling fields are captured whenever they
// appear, before or after results. A top-level errors field aborts
// parsing with a *QueryFailedError. Truncated or malformed JSON, or a
// response that never carries a requestID, is reported as a
// *ProtocolError.
func ParseResponse(body io.Reader, rowCallback RowCallback) (*ParsedResponse, error) {
	dec := json.NewDecoder(body)

	tok, err := dec.Token()
	if err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("reading response: %v", err), Cause: err}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, &ProtocolError{Message: "response is not a JSON object"}
	}

	parsed := &ParsedResponse{}
	sawRequestID := false

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return parsed, &ProtocolError{Message: fmt.Sprintf("reading response field name: %v", err), Cause: err}
		}

		key, ok := keyTok.(string)
		if !ok {
			return parsed, &ProtocolError{Message: "malformed response: expected field name"}
		}

		switch key {
		case "requestID":
			if err := dec.Decode(&parsed.RequestID); err != nil {
				return parsed, &ProtocolError{Message: fmt.Sprintf("decoding requestID: %v", err), Cause: err}
			}
			sawRequestID = true

		case "clientContextID":
			if err := dec.Decode(&parsed.ClientContextID); err != nil {
				return parsed, &ProtocolError{Message: fmt.Sprintf("decoding clientContextID: %v", err), Cause: err}
			}

		case "status":
			if err := dec.Decode(&parsed.Status); err != nil {
				return parsed, &ProtocolError{Message: fmt.Sprintf("decoding status: %v", err), Cause: err}
			}

		case "signature":
			if err := dec.Decode(&parsed.Signature); err != nil {
				return parsed, &ProtocolError{Message: fmt.Sprintf("decoding signature: %v", err), Cause: err}
			}

		case "plans":
			if err := dec.Decode(&parsed.Plans); err != nil {
				return parsed, &ProtocolError{Message: fmt.Sprintf("decoding plans: %v", err), Cause: err}
			}

		case "metrics":
			if err := dec.Decode(&parsed.Metrics); err != nil {
				return parsed, &ProtocolError{Message: fmt.Sprintf("decoding metrics: %v", err), Cause: err}
			}

		case "warnings":
			if err := dec.Decode(&parsed.Warnings); err != nil {
				return parsed, &ProtocolError{Message: fmt.Sprintf("decoding warnings: %v", err), Cause: err}
			}

		case "errors":
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return parsed, &ProtocolError{Message: fmt.Sprintf("decoding errors: %v", err), Cause: err}
			}

			records := parseErrorRecords(raw)
			return parsed, &QueryFailedError{
				Records:   records,
				Retriable: allRetriable(records),
			}

		case "results":
			if err := streamResults(dec, rowCallback); err != nil {
				return parsed, err
			}

		default:
			var discard any
			if err := dec.Decode(&discard); err != nil {
				return parsed, &ProtocolError{Message: fmt.Sprintf("decoding field %q: %v", key, err), Cause: err}
			}
		}
	}

	if _, err := dec.Token(); err != nil {
		return parsed, &ProtocolError{Message: fmt.Sprintf("reading end of response: %v", err), Cause: err}
	}

	if !sawRequestID {
		return parsed, &ProtocolError{Message: "response did not match expected format: missing requestID"}
	}

	return parsed, nil
}

// streamResults walks the /results array, decoding each element to its
// raw bytes and invoking rowCallback synchronously, in order, without
// ever holding more than one element's bytes at a time.
func streamResults(dec *json.Decoder, rowCallback RowCallback) error {
	tok, err := dec.Token()
	if err != nil {
		return &ProtocolError{Message: fmt.Sprintf("reading results: %v", err), Cause: err}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return &ProtocolError{Message: "results is not a JSON array"}
	}

	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return &ProtocolError{Message: fmt.Sprintf("decoding result row: %v", err), Cause: err}
		}

		if rowCallback != nil {
			if err := rowCallback(raw); err != nil {
				return &rowCallbackError{cause: err}
			}
		}
	}

	if _, err := dec.Token(); err != nil {
		return &ProtocolError{Message: fmt.Sprintf("reading end of results: %v", err), Cause: err}
	}

	return nil
}
