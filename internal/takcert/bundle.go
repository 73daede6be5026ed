// Package takcert loads TLS client certificate bundles for TAK server
// connections, grounded on the teacher's certificates package (see
// certificates/cert.go, certificates/certs, certificates/ca): PKCS#12 or
// PEM+key client identity, plus an optional CA trust bundle. Bundle
// passwords are read verbatim — no environment interpolation — per
// spec.md §4.2 "Mutual TLS".
package takcert

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/pkcs12"
)

// Bundle holds the parsed material needed to build a *tls.Config for one
// TAK server connection.
type Bundle struct {
	Certificates []tls.Certificate
	CAPool       *x509.CertPool
}

// LoadClientBundle parses a client certificate bundle that is either a
// PKCS#12 container (any data that fails PEM decoding is parsed as
// PKCS#12) or a PEM-encoded certificate+key pair. password is
// used verbatim for PKCS#12 and ignored for PEM (PEM private keys are
// assumed unencrypted, matching the teacher's AddCertificatePairFile path).
func LoadClientBundle(data []byte, password string) (*Bundle, error) {
	if len(data) == 0 {
		return &Bundle{}, nil
	}

	if block, _ := pem.Decode(data); block != nil {
		return loadPEMPair(data)
	}

	return loadPKCS12(data, password)
}

func loadPKCS12(data []byte, password string) (*Bundle, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("takcert: decode pkcs12: %w", err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}

	pool := x509.NewCertPool()
	for _, c := range caCerts {
		pool.AddCert(c)
	}

	return &Bundle{
		Certificates: []tls.Certificate{tlsCert},
		CAPool:       pool,
	}, nil
}

// loadPEMPair expects data to contain a certificate PEM block followed by a
// private key PEM block (concatenated, as commonly stored for TAK client
// identities).
func loadPEMPair(data []byte) (*Bundle, error) {
	var certPEM, keyPEM []byte
	rest := data

	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certPEM = append(certPEM, pem.EncodeToMemory(block)...)
		default:
			keyPEM = append(keyPEM, pem.EncodeToMemory(block)...)
		}
	}

	if len(certPEM) == 0 || len(keyPEM) == 0 {
		return nil, fmt.Errorf("takcert: PEM bundle missing certificate or key block")
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("takcert: parse PEM keypair: %w", err)
	}

	return &Bundle{Certificates: []tls.Certificate{cert}}, nil
}

// LoadCATrust parses a PEM-encoded CA trust bundle. Returns nil (meaning
// "use the system trust store") when data is empty.
func LoadCATrust(data []byte) (*x509.CertPool, error) {
	if len(data) == 0 {
		return nil, nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("takcert: no valid certificates found in CA trust bundle")
	}
	return pool, nil
}
