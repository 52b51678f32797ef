// Package cryptoutils provides the TLS material helpers use to authenticate
// each other.
//
// Every helper owns a self-signed certificate. The network configuration lists
// the certificate of each peer, which serves two purposes:
//
//   - outbound: the peer certificate is the only trusted root when dialing it
//   - inbound: the certificate a client presents is matched byte for byte
//     against the configured ones to learn which peer sent the request
//
// # Key Functions
//
//   - GenerateHelperCertificate: create a certificate and PKCS#8 key pair
//   - VerifyCertificate: check that a key pair belongs together
//   - ServerTLSConfig / ClientTLSConfig: build tls.Config values for both sides
//   - GenerateHPKEKeyPair / ParseHPKEPublicKey: X25519 keys report collectors
//     encrypt to, published as hpke.public_key in the network file
package cryptoutils
