package gocbanalytics

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// TrustSource is an opaque, exclusive selector of how server certificates
// are verified. Exactly one variant is active; building a transport from a
// TrustSource that somehow carries more than one is a programmer error and
// panics at construction rather than surfacing as a runtime query failure,
// since it can only result from static wiring code.
type TrustSource struct {
	pem             []byte
	system          bool
	platformFactory func() (*x509.CertPool, error)
	insecure        bool

	variants int
}

func (t TrustSource) checkExclusive() {
	if t.variants > 1 {
		panic("gocbanalytics: TrustSource must select exactly one of {PEM, system, platform, insecure}")
	}
}

// PEMTrustSource trusts only the certificates in one or more PEM-encoded
// blocks.
func PEMTrustSource(pem []byte) TrustSource {
	return TrustSource{pem: pem, variants: 1}
}

// SystemTrustSource trusts the host's system certificate pool.
func SystemTrustSource() TrustSource {
	return TrustSource{system: true, variants: 1}
}

// PlatformTrustSource defers pool construction to factory, for callers that
// need to build it lazily (e.g. reading a platform keychain).
func PlatformTrustSource(factory func() (*x509.CertPool, error)) TrustSource {
	return TrustSource{platformFactory: factory, variants: 1}
}

// InsecureTrustSource disables server certificate verification entirely.
// It is only honored when a Cluster is explicitly constructed with it -
// never as the connection-string default.
func InsecureTrustSource() TrustSource {
	return TrustSource{insecure: true, variants: 1}
}

// nonProdTrustSource is the trust source selected by the connection-string
// special key security.trust_only_non_prod. The module bundles no non-prod
// CA certificates: it returns the system trust pool.
func nonProdTrustSource() TrustSource {
	return SystemTrustSource()
}

// TLSConfig builds the *tls.Config the default transport's connection pool
// uses, per the variant this TrustSource selects.
func (t TrustSource) TLSConfig() (*tls.Config, error) {
	t.checkExclusive()

	switch {
	case t.insecure:
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // explicit opt-in only

	case t.pem != nil:
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(t.pem) {
			return nil, fmt.Errorf("gocbanalytics: no certificates found in PEM trust source")
		}

		return &tls.Config{RootCAs: pool}, nil

	case t.platformFactory != nil:
		pool, err := t.platformFactory()
		if err != nil {
			return nil, fmt.Errorf("gocbanalytics: build platform trust pool: %w", err)
		}

		return &tls.Config{RootCAs: pool}, nil

	case t.system:
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("gocbanalytics: load system trust pool: %w", err)
		}

		return &tls.Config{RootCAs: pool}, nil

	default:
		return &tls.Config{}, nil
	}
}
