package cryptoutils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

var ErrInvalidHPKEKey = errors.New("invalid hpke public key")

// GenerateHPKEKeyPair creates the X25519 key pair report collectors encrypt
// inputs to. Both keys are returned hex-encoded, the format used in network files.
func GenerateHPKEKeyPair() (publicKey, privateKey string, err error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return "", "", err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(pub), hex.EncodeToString(priv), nil
}

// ParseHPKEPublicKey decodes a hex X25519 public key and rejects low-order points.
func ParseHPKEPublicKey(hexKey string) ([]byte, error) {
	pub, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHPKEKey, err)
	}
	if len(pub) != curve25519.PointSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidHPKEKey, curve25519.PointSize, len(pub))
	}

	probe := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(probe); err != nil {
		return nil, err
	}
	if _, err := curve25519.X25519(probe, pub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHPKEKey, err)
	}
	return pub, nil
}
