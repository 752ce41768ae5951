package queryengine

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// Request is what the executor asks a HttpTransport to send: a POST with
// a JSON body to a fixed URL, plus whatever headers the attempt needs
// (Authorization, User-Agent, Content-Type).
type Request struct {
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is what a HttpTransport hands back. Body must be closed by the
// caller; it is a stream, never required to be read fully into memory by
// the transport itself.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// HttpTransport executes a built request interruptibly and returns
// status + headers + a body reader, honoring a per-call deadline that
// bounds both connect and total response read time. It also exposes an
// operation to evict all pooled connections, used by the executor when a
// failure might indicate a degraded server node (see Executor's
// connection reuse policy).
//
// Implementations must be safe for concurrent use by many callers.
type HttpTransport interface {
	Do(ctx context.Context, req Request, timeout time.Duration) (*Response, error)
	EvictAll()
}

// Credential supplies the per-request authentication material: either an
// Authorization header value (password/basic auth) or TLS client
// certificates (mutual TLS, no Authorization header).
type Credential interface {
	// AuthorizationHeader returns the HTTP Basic Authorization header
	// value to set, if any.
	AuthorizationHeader() (value string, ok bool)
	// ClientCertificates returns TLS client certificates to present during
	// the handshake, if any.
	ClientCertificates() ([]tls.Certificate, bool)
}

// CredentialResolver is implemented by credentials that defer to a
// supplier. The executor resolves such a credential exactly once per
// attempt, with the attempt's context, and uses the resolved credential
// for every header decision in that attempt.
type CredentialResolver interface {
	Resolve(ctx context.Context) (Credential, error)
}

// TLSConfigSource produces the *tls.Config the default transport's
// connection pool uses. It is consumed once at transport construction
// time; credential rotation that changes TLS key material requires a new
// transport (see Cluster.RotateCredential in the public package).
type TLSConfigSource func() (*tls.Config, error)

// defaultTransport is the HttpTransport implementation wrapping an
// http.Client over a pooled stdlib http.Transport. The analytics service
// speaks HTTP/1.1 over TLS 1.3, so HTTP/1.1 is the base protocol;
// http2.ConfigureTransport layers h2 on top via ALPN for servers that
// offer it, falling back to HTTP/1.1 otherwise. This transport does not
// retry internally - the engine's retry loop owns that decision, since
// only it knows whether a given failure is retriable.
type defaultTransport struct {
	client    *http.Client
	transport *http.Transport
}

// NewDefaultTransport builds the default transport. tlsConfigSource is
// called once to obtain the *tls.Config; MinVersion/MaxVersion are forced
// to TLS 1.3 regardless of what the source returns. Cipher suites default
// to the Go runtime's TLS 1.3 AEAD suite set, which - unlike TLS 1.2 and
// earlier - is not independently configurable via tls.Config.CipherSuites.
func NewDefaultTransport(tlsConfigSource TLSConfigSource) (HttpTransport, error) {
	tlsConfig, err := tlsConfigSource()
	if err != nil {
		return nil, fmt.Errorf("build TLS config: %w", err)
	}
	if tlsConfig == nil {
		tlsConfig = &tls.Config{} //nolint:gosec // MinVersion/MaxVersion set below
	}

	tlsConfig = tlsConfig.Clone()
	tlsConfig.MinVersion = tls.VersionTLS13
	tlsConfig.MaxVersion = tls.VersionTLS13

	t1 := &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	if err := http2.ConfigureTransport(t1); err != nil {
		return nil, fmt.Errorf("configure HTTP/2 fallback: %w", err)
	}

	return &defaultTransport{
		client:    &http.Client{Transport: t1},
		transport: t1,
	}, nil
}

func (t *defaultTransport) Do(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	// The per-call deadline must keep bounding the body stream after Do
	// returns, so its cancel func is released by Body.Close rather than
	// before returning.
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.Headers != nil {
		httpReq.Header = req.Headers
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyDoError(ctx, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// cancelOnCloseBody releases the per-call deadline's resources once the
// caller is done streaming the response body.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()

	return err
}

// EvictAll closes all idle pooled connections. The executor calls this
// whenever a failure could indicate a degraded server node, since there
// is no per-connection API to poison just the one that failed.
func (t *defaultTransport) EvictAll() {
	t.transport.CloseIdleConnections()
}

// classifyDoError turns a raw net/http.Client.Do error into one of the
// engine's transport-level error kinds: cancellation, timeout, TLS
// handshake, or a generic transport error. The per-call timeout is the
// retry loop's remaining deadline, so a transport-level deadline firing
// means the overall deadline is exhausted too.
func classifyDoError(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return &CancelledError{Cause: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Reason: "transport deadline exceeded", Cause: err}
	}

	var tlsErr *tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return &TLSHandshakeError{Cause: err}
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return &TLSHandshakeError{Cause: err}
	}

	return &TransportError{Cause: err}
}
