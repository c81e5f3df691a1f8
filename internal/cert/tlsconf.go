package cert

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// validity of self-signed certificates.
const validity = 30 * 24 * time.Hour

// SelfSigned creates a fresh CA and a server certificate for hosts signed by it.
// Hosts may be host names or IP literals. The returned CA is what clients must trust.
func SelfSigned(hosts []string, nextProtos ...string) (*tls.Config, *x509.Certificate, error) {
	ca, caPrivateKey, err := NewCA(validity)
	if err != nil {
		return nil, nil, fmt.Errorf("create CA: %w", err)
	}

	srvPrivkey, err := NewPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("create server private key: %w", err)
	}

	domains, ips := splitHosts(hosts)
	srvCert, err := NewServerCert(ca, caPrivateKey, srvPrivkey.Public(), domains, ips)
	if err != nil {
		return nil, nil, fmt.Errorf("create server cert: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{
			{
				Certificate: [][]byte{srvCert},
				PrivateKey:  srvPrivkey,
			},
		},
		NextProtos: nextProtos,
	}, ca, nil
}

// ClientConfig returns a TLS config trusting only ca.
func ClientConfig(ca *x509.Certificate, nextProtos ...string) *tls.Config {
	root := x509.NewCertPool()
	root.AddCert(ca)

	return &tls.Config{
		RootCAs:    root,
		NextProtos: nextProtos,
	}
}

// WriteCACert writes ca as PEM to ca.crt in dir, creating dir if needed.
func WriteCACert(dir string, ca *x509.Certificate) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "ca.crt"))
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: ca.Raw}); err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}

	return nil
}
