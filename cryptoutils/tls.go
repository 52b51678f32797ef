package cryptoutils

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
)

// ServerTLSConfig serves cert and requests, without verifying, a client
// certificate. Peers are identified afterwards by matching the presented
// certificate against the network configuration; requests without one are
// treated as report collectors.
func ServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequestClientCert,
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"h2", "http/1.1"},
	}
}

// ClientTLSConfig trusts exactly the peer's configured certificate, or the
// system roots when peerCertPEM is empty, and presents identity if set.
func ClientTLSConfig(identity *tls.Certificate, peerCertPEM []byte) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if identity != nil {
		cfg.Certificates = []tls.Certificate{*identity}
	}
	if len(peerCertPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(peerCertPEM) {
			return nil, errors.New("failed to add peer certificate to pool")
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
