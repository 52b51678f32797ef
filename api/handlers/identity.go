package handlers

import (
	"fmt"
	"net/http"

	"github.com/ruteri/mpc-helper/api"
	"github.com/ruteri/mpc-helper/interfaces"
)

// CertIdentifier maps a presented client certificate to a peer identity.
// *config.NetworkConfig implements it.
type CertIdentifier[I interfaces.TransportIdentity] interface {
	IdentifyCert(der []byte) (I, bool)
}

// PeerIdentifier resolves the origin of an inbound request.
type PeerIdentifier[I interfaces.TransportIdentity] struct {
	certs CertIdentifier[I]
	parse func(string) (I, error)
	// trustHeader accepts the X-Origin header. Only plaintext deployments,
	// where no certificate can be presented, should enable it.
	trustHeader bool
}

func NewPeerIdentifier[I interfaces.TransportIdentity](certs CertIdentifier[I], parse func(string) (I, error), trustHeader bool) *PeerIdentifier[I] {
	return &PeerIdentifier[I]{certs: certs, parse: parse, trustHeader: trustHeader}
}

// HelperIdentifier resolves ring peers.
func HelperIdentifier(certs CertIdentifier[interfaces.HelperIdentity], trustHeader bool) *PeerIdentifier[interfaces.HelperIdentity] {
	return NewPeerIdentifier(certs, interfaces.ParseHelperIdentity, trustHeader)
}

// ShardIdentifier resolves shard peers.
func ShardIdentifier(certs CertIdentifier[interfaces.ShardIndex], trustHeader bool) *PeerIdentifier[interfaces.ShardIndex] {
	return NewPeerIdentifier(certs, interfaces.ParseShardIndex, trustHeader)
}

// Identify returns the peer that sent r. ok is false for requests that do not
// come from a peer. A certificate or header that does not match any peer is
// an error.
func (p *PeerIdentifier[I]) Identify(r *http.Request) (id I, ok bool, err error) {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		if p.certs == nil {
			return id, false, nil
		}
		id, ok = p.certs.IdentifyCert(r.TLS.PeerCertificates[0].Raw)
		if !ok {
			return id, false, fmt.Errorf("client certificate does not belong to any peer")
		}
		return id, true, nil
	}

	header := r.Header.Get(api.OriginHeader)
	if header == "" || !p.trustHeader {
		return id, false, nil
	}
	id, err = p.parse(header)
	if err != nil {
		return id, false, err
	}
	return id, true, nil
}
