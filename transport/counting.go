package transport

import (
	"context"

	"go.uber.org/atomic"

	"github.com/ruteri/mpc-helper/interfaces"
)

// Stats are the data-plane byte totals of a transport since it was created.
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64
}

type countingStream struct {
	interfaces.BodyStream
	total   *atomic.Uint64
	observe func(int)
}

func (c *countingStream) Next(ctx context.Context) ([]byte, error) {
	chunk, err := c.BodyStream.Next(ctx)
	if n := len(chunk); n > 0 {
		c.total.Add(uint64(n))
		c.observe(n)
	}
	return chunk, err
}
