// Package interfaces defines the types shared between the helper transport,
// its ingress handlers, peer clients and the query processor.
//
// # Identities
//
// A transport is generic over the identity of the parties it talks to:
//
//   - HelperIdentity: one of the three helpers of an MPC ring (H1, H2, H3)
//   - ShardIndex: one shard among the shards of the same helper
//
// # Routing
//
// RouteID classifies requests. Records is the only data-plane route; every
// other route is control plane. Routes a report collector originates
// (ClientOnly) are never sent by a helper, and trying to do so is a
// RoutingError rather than a network failure.
//
// # Contracts
//
//   - BodyStream: a single-pass sequence of byte chunks
//   - PeerClient: the outbound connection to one peer
//   - RequestHandler: the query processor invoked for control-plane requests
//
// # Errors
//
// RoutingError, SendError, SerializationError and RequestError cover the
// ways a request can fail; StatusCode maps any of them to an HTTP status.
package interfaces
