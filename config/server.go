package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
)

var ErrMissingTLS = errors.New("https enabled but no certificate configured")

// TLSConfig locates the certificate a helper serves and presents to peers.
// Files take precedence over inline PEM.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CertPEM  []byte
	KeyPEM   []byte
}

func (t TLSConfig) Certificate() (tls.Certificate, error) {
	if t.CertFile != "" || t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("loading tls key pair: %w", err)
		}
		return cert, nil
	}
	if len(t.CertPEM) == 0 {
		return tls.Certificate{}, ErrMissingTLS
	}
	cert, err := tls.X509KeyPair(t.CertPEM, t.KeyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parsing tls key pair: %w", err)
	}
	return cert, nil
}

// ServerConfig describes one listener of a helper.
type ServerConfig struct {
	Port         uint16
	DisableHTTPS bool
	TLS          *TLSConfig
}

func (s ServerConfig) ListenAddr() string {
	return net.JoinHostPort("", strconv.Itoa(int(s.Port)))
}

// Scheme is the URL scheme peers must use to reach this server.
func (s ServerConfig) Scheme() string {
	if s.DisableHTTPS {
		return "http"
	}
	return "https"
}

func (s ServerConfig) Validate() error {
	if !s.DisableHTTPS && s.TLS == nil {
		return ErrMissingTLS
	}
	return nil
}
