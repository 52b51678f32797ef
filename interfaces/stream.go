package interfaces

import (
	"context"

	"github.com/ruteri/mpc-helper/gate"
)

// BodyStream is a finite, single-pass sequence of byte chunks.
//
// Next returns io.EOF after the last chunk. Chunk boundaries carry no meaning;
// consumers that need records must reassemble them. Close releases the underlying
// source and may be called at any time, including concurrently with a blocked Next.
type BodyStream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// PeerClient performs requests against one remote party.
type PeerClient interface {
	// Step streams data to the peer as the records of (queryID, g). It returns once
	// the peer has consumed the stream or failed.
	Step(ctx context.Context, queryID QueryID, g gate.Gate, data BodyStream) error

	// PrepareQuery asks the peer to prepare for a query created by this party.
	PrepareQuery(ctx context.Context, req PrepareQuery) error
}
