package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ruteri/mpc-helper/cryptoutils"
	"github.com/ruteri/mpc-helper/interfaces"
)

var (
	ErrInvalidNetworkSize = errors.New("invalid network size")
	ErrUnknownFormat      = errors.New("unknown network config format")
	ErrInvalidPeerURL     = errors.New("invalid peer url")
	ErrShardOutOfRange    = errors.New("shard index out of range")
)

// Format is the encoding of a network configuration file.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the decoder by file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// LoadNetworkFile reads a network configuration file and detects its format.
func LoadNetworkFile(path string) ([]byte, Format, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading network config: %w", err)
	}
	return data, format, nil
}

// PeerConfig describes how to reach one party.
type PeerConfig struct {
	URL string `toml:"url" yaml:"url"`

	// Certificate is the PEM-encoded TLS certificate the peer presents. It is
	// both the trust anchor for connections to the peer and the certificate used
	// to identify the peer on inbound mutual-TLS connections.
	Certificate string `toml:"certificate" yaml:"certificate"`

	// HPKE holds the key report collectors encrypt inputs for. It is carried
	// through so that one file serves helpers and collectors alike.
	HPKE *HPKEConfig `toml:"hpke" yaml:"hpke"`
}

type HPKEConfig struct {
	// PublicKey is hex-encoded.
	PublicKey string `toml:"public_key" yaml:"public_key"`
}

type rawPeer struct {
	PeerConfig `yaml:",inline"`
	ShardPort  *uint16 `toml:"shard_port" yaml:"shard_port"`
}

type rawNetwork struct {
	Peers  []rawPeer     `toml:"peers" yaml:"peers"`
	Client *ClientConfig `toml:"client" yaml:"client"`
}

func decodeNetwork(data []byte, format Format) (*rawNetwork, error) {
	var raw rawNetwork
	switch format {
	case FormatTOML:
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding toml network config: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decoding yaml network config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return &raw, nil
}

func (r *rawNetwork) clientConfig() ClientConfig {
	if r.Client == nil {
		return DefaultClientConfig()
	}
	return r.Client.withDefaults()
}

// MissingShardPortsError lists the peers without a shard_port in a sharded network.
type MissingShardPortsError struct {
	Indices []int
}

func (e *MissingShardPortsError) Error() string {
	return fmt.Sprintf("shard_port missing for peers at indices %v", e.Indices)
}

// NetworkConfig is the resolved set of peers of one network, indexed by identity.
type NetworkConfig[I interfaces.TransportIdentity] struct {
	peers      []PeerConfig
	identities []I
	certs      [][]byte
	Client     ClientConfig
}

func newNetwork[I interfaces.TransportIdentity](peers []PeerConfig, identities []I, client ClientConfig) (*NetworkConfig[I], error) {
	n := &NetworkConfig[I]{
		peers:      append([]PeerConfig(nil), peers...),
		identities: identities,
		certs:      make([][]byte, len(peers)),
		Client:     client,
	}
	for i, p := range peers {
		if _, err := url.Parse(p.URL); err != nil || p.URL == "" {
			return nil, fmt.Errorf("%w: peer %s: %q", ErrInvalidPeerURL, identities[i], p.URL)
		}
		if p.HPKE != nil && p.HPKE.PublicKey != "" {
			if _, err := cryptoutils.ParseHPKEPublicKey(p.HPKE.PublicKey); err != nil {
				return nil, fmt.Errorf("peer %s: %w", identities[i], err)
			}
		}
		if p.Certificate == "" {
			continue
		}
		cert, err := cryptoutils.ParseCertificatePEM([]byte(p.Certificate))
		if err != nil {
			return nil, fmt.Errorf("peer %s certificate: %w", identities[i], err)
		}
		n.certs[i] = cert.Raw
	}
	return n, nil
}

// NewMPC builds the ring network; peers must hold exactly three entries, in
// helper order.
func NewMPC(peers []PeerConfig, client ClientConfig) (*NetworkConfig[interfaces.HelperIdentity], error) {
	if len(peers) != 3 {
		return nil, fmt.Errorf("%w: a ring needs exactly 3 peers, got %d", ErrInvalidNetworkSize, len(peers))
	}
	ids := interfaces.AllHelpers()
	return newNetwork(peers, ids[:], client)
}

// NewShards builds a shard network; peers are assigned ShardIndex 0..n-1.
func NewShards(peers []PeerConfig, client ClientConfig) (*NetworkConfig[interfaces.ShardIndex], error) {
	return newNetwork(peers, interfaces.ShardRange(interfaces.ShardIndex(len(peers))), client)
}

// Peers returns a copy of the peer configurations, in identity order.
func (n *NetworkConfig[I]) Peers() []PeerConfig {
	return append([]PeerConfig(nil), n.peers...)
}

func (n *NetworkConfig[I]) Identities() []I {
	return append([]I(nil), n.identities...)
}

func (n *NetworkConfig[I]) Len() int { return len(n.peers) }

func (n *NetworkConfig[I]) Peer(id I) (PeerConfig, bool) {
	i := id.AsIndex()
	if i < 0 || i >= len(n.peers) {
		return PeerConfig{}, false
	}
	return n.peers[i], true
}

// OverrideScheme returns a copy of the network with every peer URL using scheme.
func (n *NetworkConfig[I]) OverrideScheme(scheme string) (*NetworkConfig[I], error) {
	peers := n.Peers()
	for i := range peers {
		u, err := url.Parse(peers[i].URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPeerURL, peers[i].URL, err)
		}
		u.Scheme = scheme
		peers[i].URL = u.String()
	}
	return &NetworkConfig[I]{
		peers:      peers,
		identities: n.Identities(),
		certs:      n.certs,
		Client:     n.Client,
	}, nil
}

// IdentifyCert returns the identity whose configured certificate is exactly der.
func (n *NetworkConfig[I]) IdentifyCert(der []byte) (I, bool) {
	for i, c := range n.certs {
		if c != nil && bytes.Equal(c, der) {
			return n.identities[i], true
		}
	}
	var zero I
	return zero, false
}

// ParseRingNetwork reads a network of exactly three helpers. shard_port entries
// are optional but must be set on all peers or none.
func ParseRingNetwork(data []byte, format Format) (*NetworkConfig[interfaces.HelperIdentity], error) {
	raw, err := decodeNetwork(data, format)
	if err != nil {
		return nil, err
	}
	if err := validateShardPorts(raw.Peers); err != nil {
		return nil, err
	}
	peers := make([]PeerConfig, len(raw.Peers))
	for i, p := range raw.Peers {
		peers[i] = p.PeerConfig
	}
	return NewMPC(peers, raw.clientConfig())
}

// ShardedServerFromConfig splits a sharded network into the ring this shard
// belongs to and the shard network of helper id.
//
// Peers are listed ring by ring: peers[3k], peers[3k+1], peers[3k+2] are the
// three helpers of shard k. The shard network of helper h is every third peer
// starting at h-1, reached on its shard_port instead of the ring port.
func ShardedServerFromConfig(data []byte, format Format, id interfaces.HelperIdentity, shardIndex, shardCount interfaces.ShardIndex) (*NetworkConfig[interfaces.HelperIdentity], *NetworkConfig[interfaces.ShardIndex], error) {
	raw, err := decodeNetwork(data, format)
	if err != nil {
		return nil, nil, err
	}
	if !id.Valid() {
		return nil, nil, fmt.Errorf("%w: %d", interfaces.ErrInvalidIdentity, uint8(id))
	}
	if len(raw.Peers) == 0 || len(raw.Peers)%3 != 0 {
		return nil, nil, fmt.Errorf("%w: peer count %d is not a multiple of 3", ErrInvalidNetworkSize, len(raw.Peers))
	}
	if err := checkAllShardPorts(raw.Peers); err != nil {
		return nil, nil, err
	}
	if shardCount == 0 || int(shardCount)*3 > len(raw.Peers) || shardIndex >= shardCount {
		return nil, nil, fmt.Errorf("%w: shard %d of %d with %d peers", ErrShardOutOfRange, shardIndex, shardCount, len(raw.Peers))
	}

	client := raw.clientConfig()

	ringStart := int(shardIndex) * 3
	ringPeers := make([]PeerConfig, 0, 3)
	for _, p := range raw.Peers[ringStart : ringStart+3] {
		ringPeers = append(ringPeers, p.PeerConfig)
	}
	ring, err := NewMPC(ringPeers, client)
	if err != nil {
		return nil, nil, err
	}

	shardPeers := make([]PeerConfig, 0, shardCount)
	for i := id.AsIndex(); i < len(raw.Peers) && len(shardPeers) < int(shardCount); i += 3 {
		p := raw.Peers[i]
		shardURL, err := replacePort(p.URL, *p.ShardPort)
		if err != nil {
			return nil, nil, err
		}
		peer := p.PeerConfig
		peer.URL = shardURL
		shardPeers = append(shardPeers, peer)
	}
	shards, err := NewShards(shardPeers, client)
	if err != nil {
		return nil, nil, err
	}
	return ring, shards, nil
}

// validateShardPorts requires shard_port on every peer once any peer sets it or
// the network has more than one ring.
func validateShardPorts(peers []rawPeer) error {
	anySet := false
	for _, p := range peers {
		if p.ShardPort != nil {
			anySet = true
			break
		}
	}
	if !anySet && len(peers) <= 3 {
		return nil
	}
	return checkAllShardPorts(peers)
}

func checkAllShardPorts(peers []rawPeer) error {
	var missing []int
	for i, p := range peers {
		if p.ShardPort == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return &MissingShardPortsError{Indices: missing}
	}
	return nil
}

func replacePort(rawURL string, port uint16) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeerURL, rawURL)
	}
	u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(int(port)))
	return u.String(), nil
}
