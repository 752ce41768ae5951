package queryengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// synthesizedServiceUnavailableCode is the error code the engine attaches
// to a synthesized retriable failure when the server returns HTTP 503
// with a body that is empty or does not parse as a query response. 23000
// is the server's own "service unavailable" code.
const synthesizedServiceUnavailableCode = 23000

// QueryAttemptOptions is everything one call to ExecuteStreaming needs:
// the request content plus the caller's overall timeout. It is built once
// by the facade and reused, unmodified, across every retry attempt - only
// the per-attempt client_context_id and per-attempt HTTP timeout vary.
type QueryAttemptOptions struct {
	Statement        string
	QueryContext     string
	ClientContextID  string // caller override for attempt 0 only; "" mints one
	ScanConsistency  ScanConsistency
	ScanWait         time.Duration
	PositionalParams []any
	NamedParams      map[string]any
	Readonly         *bool
	Raw              map[string]any
	Timeout          time.Duration
}

// Executor is the query execution engine: it orchestrates one attempt
// (build -> send -> stream-parse -> deliver rows -> classify outcome) and
// the retry loop bounded by the caller's overall deadline.
type Executor struct {
	transport  HttpTransport
	endpoint   string
	credential func() Credential
	userAgent  string
	backoff    BackoffCalculator
	logger     *slog.Logger
}

// NewExecutor builds an Executor. endpoint is the fixed
// "https://host:port/api/v1/request" URL; credential is called fresh for
// every attempt so credential rotation on the owning Cluster is observed
// immediately, including mid-retry.
func NewExecutor(
	transport HttpTransport,
	endpoint string,
	credential func() Credential,
	userAgent string,
	backoff BackoffCalculator,
	logger *slog.Logger,
) *Executor {
	if backoff == nil {
		backoff = DefaultBackoffCalculator()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		transport:  transport,
		endpoint:   endpoint,
		credential: credential,
		userAgent:  userAgent,
		backoff:    backoff,
		logger:     logger,
	}
}

// ExecuteStreaming runs the retry loop, forwarding rows to rowCallback
// synchronously and in order as they arrive. It returns the parsed sibling
// fields of the response that ultimately succeeded.
func (e *Executor) ExecuteStreaming(
	ctx context.Context, opts QueryAttemptOptions, rowCallback RowCallback,
) (*ParsedResponse, error) {
	deadline := NewDeadline(opts.Timeout)

	var lastRetriable *QueryFailedError

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{Cause: err}
		}

		perAttemptTimeout, ok := deadline.Remaining()
		if !ok {
			return nil, attachSuppressed(&TimeoutError{Reason: "deadline exceeded"}, lastRetriable)
		}

		// Once a row has reached the caller the attempt is committed: a
		// retry would deliver it a second time.
		rowDelivered := false
		countingCallback := func(raw json.RawMessage) error {
			rowDelivered = true
			return rowCallback(raw)
		}

		parsed, reuseAllowed, err := e.attemptOnce(ctx, opts, attempt, perAttemptTimeout, countingCallback)
		if err == nil {
			return parsed, nil
		}

		if !reuseAllowed {
			e.logger.Debug("evicting pooled connections after non-reusable failure", "attempt", attempt, "error", err)
			e.transport.EvictAll()
		}

		if cause, ok := IsRowCallbackError(err); ok {
			return nil, cause
		}

		var qfe *QueryFailedError
		if errors.As(err, &qfe) && qfe.Retriable && !rowDelivered {
			lastRetriable = qfe

			delay := e.backoff(attempt)
			if !deadline.HasRemaining(delay) {
				return nil, &TimeoutError{Reason: "would sleep past deadline", Cause: lastRetriable}
			}

			e.logger.Debug("retrying query", "attempt", attempt, "delay", delay, "code", qfe.Primary().Code)

			if !sleepInterruptible(ctx, delay) {
				return nil, &CancelledError{Cause: ctx.Err()}
			}

			continue
		}

		return nil, attachSuppressed(err, lastRetriable)
	}
}

// attemptOnce performs one send/receive cycle. It returns the parsed
// response on success, and otherwise an error already classified into one
// of the engine's taxonomy kinds, plus whether the underlying connection
// may be reused (true only on clean completion or a row-callback error).
func (e *Executor) attemptOnce(
	ctx context.Context, opts QueryAttemptOptions, attempt int, timeout time.Duration, rowCallback RowCallback,
) (*ParsedResponse, bool, error) {
	clientContextID := opts.ClientContextID
	if attempt > 0 || clientContextID == "" {
		clientContextID = uuid.NewString()
	}

	body, clientContextID, err := BuildRequestBody(RequestOptions{
		Statement:        opts.Statement,
		ClientContextID:  clientContextID,
		QueryContext:     opts.QueryContext,
		ScanConsistency:  opts.ScanConsistency,
		ScanWait:         opts.ScanWait,
		PositionalParams: opts.PositionalParams,
		NamedParams:      opts.NamedParams,
		Readonly:         opts.Readonly,
		Raw:              opts.Raw,
	}, timeout)
	if err != nil {
		return nil, false, &TransportError{Cause: err}
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", e.userAgent)

	if e.credential != nil {
		cred := e.credential()
		if resolver, ok := cred.(CredentialResolver); ok {
			resolved, rerr := resolver.Resolve(ctx)
			if rerr != nil {
				return nil, false, &InvalidCredentialsError{Cause: rerr}
			}
			cred = resolved
		}
		if cred != nil {
			if authz, ok := cred.AuthorizationHeader(); ok {
				headers.Set("Authorization", authz)
			}
		}
	}

	e.logger.Debug("sending query request", "attempt", attempt, "client_context_id", clientContextID)

	resp, err := e.transport.Do(ctx, Request{URL: e.endpoint, Headers: headers, Body: body}, timeout)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, false, &InvalidCredentialsError{}

	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, false, e.handleServiceUnavailable(resp.Body)

	case resp.StatusCode != http.StatusOK:
		return nil, false, e.handleUnexpectedStatus(resp.StatusCode, resp.Body)
	}

	parsed, perr := ParseResponse(resp.Body, rowCallback)
	if perr == nil {
		return parsed, true, nil
	}

	if _, ok := IsRowCallbackError(perr); ok {
		return nil, true, perr
	}

	if errors.Is(perr, context.DeadlineExceeded) {
		return nil, false, &TimeoutError{Reason: "timed out reading response body", Cause: perr}
	}

	if ctx.Err() != nil {
		return nil, false, &CancelledError{Cause: ctx.Err()}
	}

	return nil, false, perr
}

// handleServiceUnavailable: a 503 with a body that is empty or does not
// parse as a query response is synthesized into a retriable
// QueryFailed(23000); a 503 that does carry a conforming body (e.g. a
// genuine errors array) is classified from that body instead.
func (e *Executor) handleServiceUnavailable(body io.ReadCloser) error {
	raw, _ := io.ReadAll(body)
	if len(raw) == 0 {
		return synthesizedServiceUnavailable()
	}

	_, perr := ParseResponse(bytes.NewReader(raw), nil)
	if perr == nil {
		return synthesizedServiceUnavailable()
	}

	var qfe *QueryFailedError
	if errors.As(perr, &qfe) {
		return qfe
	}

	return synthesizedServiceUnavailable()
}

func (e *Executor) handleUnexpectedStatus(statusCode int, body io.ReadCloser) error {
	raw, _ := io.ReadAll(body)

	if len(raw) > 0 {
		if _, perr := ParseResponse(bytes.NewReader(raw), nil); perr != nil {
			var qfe *QueryFailedError
			if errors.As(perr, &qfe) {
				return qfe
			}
		}
	}

	return &ProtocolError{Message: fmt.Sprintf("unexpected HTTP status %d", statusCode)}
}

func synthesizedServiceUnavailable() *QueryFailedError {
	return &QueryFailedError{
		Records: []ErrorRecord{{
			Code:      synthesizedServiceUnavailableCode,
			Message:   "service not available from intermediary",
			Retriable: true,
		}},
		Retriable: true,
	}
}

func attachSuppressed(err error, lastRetriable *QueryFailedError) error {
	if lastRetriable == nil {
		return err
	}

	if te, ok := err.(*TimeoutError); ok {
		if te.Cause == nil {
			te.Cause = lastRetriable
		}

		return te
	}

	return &TerminalError{Err: err, Suppressed: lastRetriable}
}

func sleepInterruptible(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
