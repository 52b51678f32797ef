// Package streams holds the stream registry that pairs inbound data-plane
// streams with the protocol code consuming them, plus small BodyStream
// constructors and adapters.
package streams
