package takcert

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/trakbridge/trakbridge/internal/models"
)

// BuildTLSConfig assembles a *tls.Config for a TAKServer row, applying the
// configured minimum TLS version and server-certificate verification policy
// (spec.md §4.2 "TLS is performed as part of dial... verification is
// governed by verify_server_cert"). externalCA, if non-nil, becomes the root
// pool; only when it is nil is the CA chain embedded in the client bundle
// used instead. The two pools are not merged.
func BuildTLSConfig(server *models.TAKServer, bundle *Bundle, externalCA *x509.CertPool) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         server.Host,
		InsecureSkipVerify: !server.VerifyServerCert, //nolint:gosec // operator-controlled, explicit opt-out
	}

	switch server.TLSVersion {
	case models.TLSVersion13:
		cfg.MinVersion = tls.VersionTLS13
	case models.TLSVersion12, "":
		cfg.MinVersion = tls.VersionTLS12
	default:
		return nil, fmt.Errorf("takcert: unknown tls_version %q", server.TLSVersion)
	}

	// externalCA (the server row's dedicated CA trust field) takes
	// precedence; fall back to any chain embedded in the client bundle
	// (PKCS#12 containers commonly carry their issuing chain).
	pool := externalCA
	if bundle != nil {
		cfg.Certificates = bundle.Certificates
		if pool == nil {
			pool = bundle.CAPool
		}
	}
	if pool != nil {
		cfg.RootCAs = pool
	}

	return cfg, nil
}
