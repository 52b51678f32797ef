package clients

import (
	"crypto/tls"
	"fmt"
	"net/url"

	"github.com/ruteri/mpc-helper/config"
	"github.com/ruteri/mpc-helper/cryptoutils"
	"github.com/ruteri/mpc-helper/interfaces"
)

// ClientIdentity is how a party presents itself to the helpers it connects to.
type ClientIdentity struct {
	// Origin is sent in the X-Origin header. Empty for report collectors.
	Origin string
	// Certificate is presented on TLS connections, if set.
	Certificate *tls.Certificate
}

// ForNetwork creates one HelperClient per peer of network. Each client trusts
// only the certificate configured for its peer.
func ForNetwork[I interfaces.TransportIdentity](network *config.NetworkConfig[I], self ClientIdentity) (map[I]*HelperClient, error) {
	out := make(map[I]*HelperClient, network.Len())
	for _, id := range network.Identities() {
		peer, _ := network.Peer(id)
		u, err := url.Parse(peer.URL)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", id, err)
		}

		var tlsConfig *tls.Config
		if u.Scheme == "https" {
			tlsConfig, err = cryptoutils.ClientTLSConfig(self.Certificate, []byte(peer.Certificate))
			if err != nil {
				return nil, fmt.Errorf("peer %s: %w", id, err)
			}
		}
		out[id] = NewHelperClient(peer.URL, self.Origin, NewHTTPClient(network.Client, tlsConfig))
	}
	return out, nil
}

// PeerClients converts clients for use by a transport.
func PeerClients[I interfaces.TransportIdentity](clients map[I]*HelperClient) map[I]interfaces.PeerClient {
	out := make(map[I]interfaces.PeerClient, len(clients))
	for id, c := range clients {
		out[id] = c
	}
	return out
}
