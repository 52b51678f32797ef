package cryptoutils

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"time"
)

// TLSCert represents a TLS Certificate in PEM format.
type TLSCert []byte

// NewTLSCert creates a new certificate object from PEM-encoded data with validation.
func NewTLSCert(data []byte) (TLSCert, error) {
	if _, err := ParseCertificatePEM(data); err != nil {
		return TLSCert{}, fmt.Errorf("invalid certificate: %w", err)
	}
	return TLSCert(data), nil
}

// Validate checks if the certificate is properly formed.
func (cert TLSCert) Validate() error {
	_, err := NewTLSCert(cert)
	return err
}

// GetX509Cert returns the parsed X.509 certificate.
func (cert TLSCert) GetX509Cert() (*x509.Certificate, error) {
	return ParseCertificatePEM(cert)
}

// IsExpired checks if the certificate has expired.
func (cert TLSCert) IsExpired() (bool, error) {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return false, err
	}
	return x509Cert.NotAfter.Before(time.Now()), nil
}

// Matches reports whether der is the DER encoding of this certificate.
func (cert TLSCert) Matches(der []byte) bool {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return false
	}
	return bytes.Equal(x509Cert.Raw, der)
}
