package queryengine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedResponse is one canned reply a fakeTransport hands back for one
// Do call, in order.
type scriptedResponse struct {
	status int
	body   string
	err    error
	delay  time.Duration
}

// fakeTransport is a scripted HttpTransport: it returns scriptedResponses
// in order and records every request body's client_context_id plus how
// many times EvictAll was called, so tests can assert on the retry loop's
// observable side effects.
type fakeTransport struct {
	mu          sync.Mutex
	responses   []scriptedResponse
	calls       int
	clientCtxID []string
	evictCount  int32
}

func (f *fakeTransport) Do(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()

	var decoded map[string]any
	_ = json.Unmarshal(req.Body, &decoded)
	if ccid, ok := decoded["client_context_id"].(string); ok {
		f.mu.Lock()
		f.clientCtxID = append(f.clientCtxID, ccid)
		f.mu.Unlock()
	}

	if idx >= len(f.responses) {
		return nil, errors.New("fakeTransport: no more scripted responses")
	}
	sr := f.responses[idx]

	if sr.delay > 0 {
		select {
		case <-time.After(sr.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if sr.err != nil {
		return nil, sr.err
	}

	return &Response{
		StatusCode: sr.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(sr.body)),
	}, nil
}

func (f *fakeTransport) EvictAll() {
	atomic.AddInt32(&f.evictCount, 1)
}

func (f *fakeTransport) evictions() int {
	return int(atomic.LoadInt32(&f.evictCount))
}

func (f *fakeTransport) contextIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clientCtxID...)
}

func fakeCredential() func() Credential {
	return func() Credential { return staticCredential{} }
}

type staticCredential struct{}

func (staticCredential) AuthorizationHeader() (string, bool) { return "Basic dGVzdDp0ZXN0", true }

func (staticCredential) ClientCertificates() ([]tls.Certificate, bool) { return nil, false }

// resolvingCredential counts Resolve calls so tests can assert the
// executor resolves a deferred credential exactly once per attempt.
type resolvingCredential struct {
	staticCredential

	resolves int32
	err      error
}

func (c *resolvingCredential) Resolve(ctx context.Context) (Credential, error) {
	atomic.AddInt32(&c.resolves, 1)
	if c.err != nil {
		return nil, c.err
	}

	return staticCredential{}, nil
}

func newTestExecutor(transport *fakeTransport) *Executor {
	return NewExecutor(transport, "https://analytics.example.com/api/v1/request", fakeCredential(), "test-agent/1.0", nil, nil)
}

// A single-row success: the row reaches the callback, metadata carries the
// requestID, and nothing is evicted.
func TestExecutor_SingleRowSuccess(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r1","results":[{"g":"hello world"}],"status":"success","metrics":{}}`},
	}}
	exec := newTestExecutor(transport)

	var rows []json.RawMessage
	parsed, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT ? AS g", PositionalParams: []any{"hello world"}, Timeout: time.Second,
	}, func(raw json.RawMessage) error {
		rows = append(rows, raw)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"g":"hello world"}`, string(rows[0]))
	assert.Equal(t, "r1", parsed.RequestID)
	assert.Equal(t, 0, transport.evictions())
}

// Ten rows delivered in order.
func TestExecutor_StreamsRowsInOrder(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r2","results":[0,1,2,3,4,5,6,7,8,9]}`},
	}}
	exec := newTestExecutor(transport)

	var seen []int
	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT RAW i FROM ARRAY_RANGE(0,10) AS i", Timeout: time.Second,
	}, func(raw json.RawMessage) error {
		var n int
		require.NoError(t, json.Unmarshal(raw, &n))
		seen = append(seen, n)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
}

// One retry, distinct client_context_ids, and one row delivered only
// from the second attempt.
func TestExecutor_RetriableThenSuccess(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r1","errors":[{"code":23003,"msg":"x","retriable":true}]}`},
		{status: 200, body: `{"requestID":"r3","results":[{"a":1}]}`},
	}}
	exec := NewExecutor(transport, "https://analytics.example.com/api/v1/request", fakeCredential(), "test-agent/1.0",
		NewBackoffCalculator(5*time.Millisecond, 20*time.Millisecond), nil)

	var rows []json.RawMessage
	parsed, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(raw json.RawMessage) error {
		rows = append(rows, raw)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "r3", parsed.RequestID)
	assert.Equal(t, 1, transport.evictions(), "the failed first attempt must evict the pool exactly once")

	ids := transport.contextIDs()
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1], "each attempt must send a fresh client_context_id")
}

// The retry loop must fail fast with a Timeout rather than sleeping past
// the deadline, and must not make a second HTTP call.
func TestExecutor_TimeoutDuringRetrySleep(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r1","errors":[{"code":23003,"msg":"x","retriable":true}]}`, delay: 30 * time.Millisecond},
	}}
	exec := NewExecutor(transport, "https://analytics.example.com/api/v1/request", fakeCredential(), "test-agent/1.0",
		NewBackoffCalculator(500*time.Millisecond, time.Minute), nil)

	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: 50 * time.Millisecond,
	}, func(json.RawMessage) error { return nil })

	require.Error(t, err)
	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.NotNil(t, timeoutErr.Cause, "the superseded retriable error should be attached as the suppressed cause")
	assert.Equal(t, 1, transport.calls, "no second HTTP call should be made once the deadline is exhausted")
}

// The callback's own error propagates unwrapped, no further callbacks
// fire, and the connection is not evicted.
func TestExecutor_RowCallbackErrorPropagatesAndKeepsConnection(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r1","results":[1,2,3]}`},
	}}
	exec := newTestExecutor(transport)

	boom := errors.New("boom")
	var calls int
	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(json.RawMessage) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls, "no callback after the one that errored")
	assert.Equal(t, 0, transport.evictions(), "a row-callback error must not evict pooled connections")
}

// A retriable failure whose backoff delay would exceed the remaining
// deadline must short-circuit to Timeout without sleeping past it, and
// must not issue the next HTTP call.
func TestExecutor_RetryGating_NeverSleepsPastDeadline(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r1","errors":[{"code":1,"msg":"x","retriable":true}]}`},
		{status: 200, body: `{"requestID":"r2","results":[1]}`},
	}}
	exec := NewExecutor(transport, "https://analytics.example.com/api/v1/request", fakeCredential(), "test-agent/1.0",
		NewBackoffCalculator(time.Hour, time.Hour), nil)

	start := time.Now()
	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: 30 * time.Millisecond,
	}, func(json.RawMessage) error { return nil })
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, time.Second, "must fail fast rather than sleeping for the full backoff delay")
	assert.Equal(t, 1, transport.calls)
}

// Connection eviction happens exactly once after a
// non-callback failure, and not at all after success or a callback error.
func TestExecutor_ConnectionEviction_OnNonRetriableFailure(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r1","errors":[{"code":1,"msg":"x","retriable":false}]}`},
	}}
	exec := newTestExecutor(transport)

	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(json.RawMessage) error { return nil })

	require.Error(t, err)
	assert.Equal(t, 1, transport.evictions())
}

func TestExecutor_InvalidCredentials_Is401(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 401, body: ""},
	}}
	exec := newTestExecutor(transport)

	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(json.RawMessage) error { return nil })

	var credErr *InvalidCredentialsError
	require.True(t, errors.As(err, &credErr))
	assert.Equal(t, 1, transport.evictions())
}

func TestExecutor_ServiceUnavailable_EmptyBody_IsRetriable(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 503, body: ""},
		{status: 200, body: `{"requestID":"r2","results":[1]}`},
	}}
	exec := NewExecutor(transport, "https://analytics.example.com/api/v1/request", fakeCredential(), "test-agent/1.0",
		NewBackoffCalculator(1*time.Millisecond, 5*time.Millisecond), nil)

	parsed, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(json.RawMessage) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "r2", parsed.RequestID)
}

func TestExecutor_ProtocolError_NonRetriable(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"results":[1]}`}, // no requestID
	}}
	exec := newTestExecutor(transport)

	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(json.RawMessage) error { return nil })

	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, transport.evictions())
}

// A deferred credential is resolved exactly once per attempt, with a
// second resolution only when a retry produces a second attempt.
func TestExecutor_ResolvesCredentialOncePerAttempt(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r1","errors":[{"code":23003,"msg":"x","retriable":true}]}`},
		{status: 200, body: `{"requestID":"r2","results":[1]}`},
	}}
	cred := &resolvingCredential{}
	exec := NewExecutor(transport, "https://analytics.example.com/api/v1/request",
		func() Credential { return cred }, "test-agent/1.0",
		NewBackoffCalculator(time.Millisecond, 5*time.Millisecond), nil)

	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(json.RawMessage) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&cred.resolves))
}

func TestExecutor_CredentialResolveFailureIsInvalidCredentials(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r1","results":[1]}`},
	}}
	cred := &resolvingCredential{err: errors.New("vault unreachable")}
	exec := NewExecutor(transport, "https://analytics.example.com/api/v1/request",
		func() Credential { return cred }, "test-agent/1.0", nil, nil)

	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(json.RawMessage) error { return nil })

	var credErr *InvalidCredentialsError
	require.True(t, errors.As(err, &credErr))
	assert.Equal(t, 0, transport.calls, "no request is dispatched without a resolved credential")
}

// An attempt that has already delivered a row to the caller is committed,
// so a retriable errors field arriving after the results array must
// surface rather than re-enter the retry loop and deliver the rows a
// second time.
func TestExecutor_NoRetryAfterRowDelivered(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r1","results":[1,2],"errors":[{"code":23003,"msg":"x","retriable":true}]}`},
		{status: 200, body: `{"requestID":"r2","results":[1,2]}`},
	}}
	exec := NewExecutor(transport, "https://analytics.example.com/api/v1/request", fakeCredential(), "test-agent/1.0",
		NewBackoffCalculator(time.Millisecond, time.Millisecond), nil)

	var rows int
	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(json.RawMessage) error {
		rows++
		return nil
	})

	var qfe *QueryFailedError
	require.True(t, errors.As(err, &qfe))
	assert.Equal(t, 2, rows, "rows from the committed attempt must not be delivered again")
	assert.Equal(t, 1, transport.calls, "no retry once a row has been delivered")
}

// timeoutBodyTransport hands back a body that streams a partial response
// and then fails with a deadline error, as a socket read does when the
// per-attempt timeout fires mid-stream.
type timeoutBodyTransport struct {
	evictCount int32
}

func (t *timeoutBodyTransport) Do(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	body := &timeoutAfterReader{prefix: `{"requestID":"r1","results":[1,2,`}
	return &Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(body)}, nil
}

func (t *timeoutBodyTransport) EvictAll() {
	atomic.AddInt32(&t.evictCount, 1)
}

type timeoutAfterReader struct {
	prefix string
	pos    int
}

func (r *timeoutAfterReader) Read(p []byte) (int, error) {
	if r.pos < len(r.prefix) {
		n := copy(p, r.prefix[r.pos:])
		r.pos += n
		return n, nil
	}

	return 0, fmt.Errorf("read response body: %w", context.DeadlineExceeded)
}

// A deadline firing mid-read must classify as Timeout, not as a protocol
// error for the truncated JSON it leaves behind, and must still evict the
// pool.
func TestExecutor_BodyReadTimeout_IsTimeout(t *testing.T) {
	transport := &timeoutBodyTransport{}
	exec := NewExecutor(transport, "https://analytics.example.com/api/v1/request", fakeCredential(), "test-agent/1.0", nil, nil)

	_, err := exec.ExecuteStreaming(context.Background(), QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(json.RawMessage) error { return nil })

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, int32(1), atomic.LoadInt32(&transport.evictCount))
}

func TestExecutor_CancelledContext(t *testing.T) {
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, body: `{"requestID":"r1","results":[1]}`},
	}}
	exec := newTestExecutor(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.ExecuteStreaming(ctx, QueryAttemptOptions{
		Statement: "SELECT 1", Timeout: time.Second,
	}, func(json.RawMessage) error { return nil })

	var cancelErr *CancelledError
	require.True(t, errors.As(err, &cancelErr))
}
