package gocbanalytics

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"sync/atomic"

	"github.com/couchbase/gocbanalytics/internal/queryengine"
)

// credentialTag identifies which concrete variant a Credential is, so
// rotation can reject a tag change: TLS key material cannot be hot-swapped
// on an already-established connection pool.
type credentialTag int

const (
	tagPassword credentialTag = iota + 1
	tagCertificate
	tagDynamic
)

// Credential supplies the per-request authentication material: either an
// Authorization header value (password/basic auth) or TLS client
// certificates (mutual TLS, no Authorization header). It implements
// queryengine.Credential directly so it can be handed straight to the
// executor.
type Credential interface {
	AuthorizationHeader() (value string, ok bool)
	ClientCertificates() ([]tls.Certificate, bool)

	tag() credentialTag
}

// PasswordCredential authenticates with HTTP Basic auth.
type PasswordCredential struct {
	Username string
	Password string
}

func (c PasswordCredential) AuthorizationHeader() (string, bool) {
	token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
	return "Basic " + token, true
}

func (c PasswordCredential) ClientCertificates() ([]tls.Certificate, bool) { return nil, false }
func (c PasswordCredential) tag() credentialTag                           { return tagPassword }

// CertificateCredential authenticates via mutual TLS; no Authorization
// header is sent.
type CertificateCredential struct {
	Certificate tls.Certificate
}

func (c CertificateCredential) AuthorizationHeader() (string, bool) { return "", false }

func (c CertificateCredential) ClientCertificates() ([]tls.Certificate, bool) {
	return []tls.Certificate{c.Certificate}, true
}

func (c CertificateCredential) tag() credentialTag { return tagCertificate }

// DynamicCredential resolves the active credential lazily through
// Supplier. The executor resolves it exactly once per attempt, with the
// attempt's context, via Resolve. The resolved credential must keep the
// same variant across calls within one executor's lifetime. Nothing checks
// this: the executor uses whatever Supplier returns, and
// Cluster.RotateCredential compares only the outer variant, so a
// DynamicCredential can be replaced by another DynamicCredential whatever
// its Supplier resolves to.
type DynamicCredential struct {
	Supplier func(context.Context) (Credential, error)
}

// Resolve invokes Supplier once. The executor calls this at the start of
// each attempt and uses the resolved credential for the whole attempt.
func (c DynamicCredential) Resolve(ctx context.Context) (queryengine.Credential, error) {
	cred, err := c.Supplier(ctx)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, errors.New("credential supplier returned nil")
	}

	return cred, nil
}

// AuthorizationHeader and ClientCertificates satisfy the Credential
// interface for callers outside a query attempt (transport construction
// reads ClientCertificates once); they resolve with a background context.
func (c DynamicCredential) AuthorizationHeader() (string, bool) {
	cred, err := c.Supplier(context.Background())
	if err != nil || cred == nil {
		return "", false
	}

	return cred.AuthorizationHeader()
}

func (c DynamicCredential) ClientCertificates() ([]tls.Certificate, bool) {
	cred, err := c.Supplier(context.Background())
	if err != nil || cred == nil {
		return nil, false
	}

	return cred.ClientCertificates()
}

func (c DynamicCredential) tag() credentialTag { return tagDynamic }

// ErrCredentialTagChanged is returned by Cluster.RotateCredential when the
// replacement credential is a different variant (e.g. password -> client
// certificate) than the one currently active, since that would require
// renegotiating TLS key material on an existing, pooled connection.
var ErrCredentialTagChanged = errors.New(
	"gocbanalytics: cannot rotate credential across variants (e.g. password to client-certificate); " +
		"construct a new Cluster instead",
)

// credentialBox holds the active Credential behind an atomic pointer so it
// can be swapped between in-flight requests without a lock.
type credentialBox struct {
	v atomic.Pointer[Credential]
}

func newCredentialBox(initial Credential) *credentialBox {
	b := &credentialBox{}
	b.v.Store(&initial)

	return b
}

func (b *credentialBox) get() Credential {
	return *b.v.Load()
}

// rotate swaps the active credential, rejecting a change of variant.
func (b *credentialBox) rotate(next Credential) error {
	current := b.get()
	if current.tag() != next.tag() {
		return ErrCredentialTagChanged
	}

	b.v.Store(&next)

	return nil
}
