// Package transport implements the identity-addressed transport a helper uses
// to talk to its peers.
//
// One HTTPTransport instance exists per network a party belongs to: an
// MpcTransport for the three-helper ring and a ShardTransport for the shards of
// the same helper. Each instance owns
//
//   - the immutable map of peer clients used by Send
//   - the stream registry used by Receive and ReceiveStream
//   - the request handler that Dispatch invokes for control-plane requests
//
// Data-plane exchanges are addressed by (query, peer, gate). Both peers derive
// the gate from the same protocol step, so a receiver can subscribe before or
// after the sender's stream arrives.
//
// Ending a query through CompleteQuery or KillQuery always clears the registry,
// including when the handler fails or panics, so no stream of a finished query
// can be delivered to the next one.
package transport
