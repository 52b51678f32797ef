package streams

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/ruteri/mpc-helper/gate"
	"github.com/ruteri/mpc-helper/interfaces"
)

// StreamKey identifies one data-plane stream: the records a peer sends for a
// query on a gate.
type StreamKey[I interfaces.TransportIdentity] struct {
	QueryID interfaces.QueryID
	From    I
	Gate    gate.Gate
}

func (k StreamKey[I]) String() string {
	return fmt.Sprintf("%s/%s/%s", k.QueryID, k.From, k.Gate)
}

type entry struct {
	// ready is closed once a stream has been registered.
	ready chan struct{}
	// dropped is closed when the entry is cleared or its stream withdrawn;
	// dropErr says which.
	dropped chan struct{}
	dropErr error

	stream interfaces.BodyStream
	// taken entries stay in the map until Clear so that a second stream for
	// the same key is still detected.
	taken bool
}

func newEntry() *entry {
	return &entry{
		ready:   make(chan struct{}),
		dropped: make(chan struct{}),
	}
}

// StreamCollection is the rendezvous point between inbound streams and the
// protocol code that consumes them. Producer and consumer may arrive in either
// order; an entry for a key is created by whichever comes first and kept until
// the collection is cleared, so every key is registered at most once per query.
//
// The collection imposes no timeouts. A consumer that subscribes to a key no
// peer ever sends waits until its context is done or Clear is called.
type StreamCollection[I interfaces.TransportIdentity] struct {
	log *slog.Logger

	mu      sync.Mutex
	entries map[StreamKey[I]]*entry
}

func NewStreamCollection[I interfaces.TransportIdentity](log *slog.Logger) *StreamCollection[I] {
	return &StreamCollection[I]{
		log:     log,
		entries: make(map[StreamKey[I]]*entry),
	}
}

// AddStream registers the inbound stream for key. If a consumer is already
// waiting it is handed the stream. Registering a second stream for a key, before
// or after the first one was consumed, fails with ErrDuplicateStream; the first
// stream is kept and the caller keeps ownership of the rejected one.
func (c *StreamCollection[I]) AddStream(key StreamKey[I], stream interfaces.BodyStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = newEntry()
		c.entries[key] = e
	}
	if e.stream != nil || e.taken {
		return fmt.Errorf("%w: %s", interfaces.ErrDuplicateStream, key)
	}

	e.stream = stream
	close(e.ready)
	c.log.Debug("stream registered", "key", key.String(), "waiting", !ok)
	return nil
}

// Subscribe returns a handle that yields the stream for key once it is registered.
// It never blocks; waiting happens on the first call to Next.
func (c *StreamCollection[I]) Subscribe(key StreamKey[I]) *ReceiveRecords[I] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = newEntry()
		c.entries[key] = e
	}
	return &ReceiveRecords[I]{key: key, collection: c, entry: e}
}

// take waits for the entry to become ready and transfers ownership of its stream
// to the caller.
func (c *StreamCollection[I]) take(ctx context.Context, key StreamKey[I], e *entry) (interfaces.BodyStream, error) {
	select {
	case <-e.ready:
	case <-e.dropped:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e.dropErr != nil {
		return nil, fmt.Errorf("%w: %s", e.dropErr, key)
	}
	if e.taken {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrStreamTaken, key)
	}
	e.taken = true
	stream := e.stream
	e.stream = nil
	return stream, nil
}

// Remove withdraws the stream registered for key if no consumer has taken it
// yet, and returns it to the caller, which owns it again. A consumer already
// waiting on the key fails with ErrStreamWithdrawn. The key is free to be
// registered again afterwards.
func (c *StreamCollection[I]) Remove(key StreamKey[I]) (interfaces.BodyStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.taken || e.stream == nil {
		return nil, false
	}
	delete(c.entries, key)
	stream := e.stream
	e.stream = nil
	e.dropErr = interfaces.ErrStreamWithdrawn
	close(e.dropped)
	c.log.Debug("stream withdrawn", "key", key.String())
	return stream, true
}

// Clear drops every entry. Waiting consumers are woken with ErrStreamsCleared and
// registered streams nobody consumed are closed.
func (c *StreamCollection[I]) Clear() error {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[StreamKey[I]]*entry)

	var pending []interfaces.BodyStream
	for _, e := range old {
		e.dropErr = interfaces.ErrStreamsCleared
		close(e.dropped)
		if e.stream != nil && !e.taken {
			pending = append(pending, e.stream)
			e.stream = nil
		}
	}
	c.mu.Unlock()

	if len(old) > 0 {
		c.log.Debug("stream registry cleared", "entries", len(old), "unconsumed", len(pending))
	}

	var err error
	for _, s := range pending {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// Len returns the number of entries waiting for a producer or a consumer.
// Consumed keys are not counted.
func (c *StreamCollection[I]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if !e.taken {
			n++
		}
	}
	return n
}

func (c *StreamCollection[I]) IsEmpty() bool {
	return c.Len() == 0
}

// ReceiveRecords is the consumer side of a stream key. It implements
// interfaces.BodyStream and waits for the producer on the first Next.
type ReceiveRecords[I interfaces.TransportIdentity] struct {
	key        StreamKey[I]
	collection *StreamCollection[I]
	entry      *entry

	mu     sync.Mutex
	inner  interfaces.BodyStream
	closed bool
}

func (r *ReceiveRecords[I]) Key() StreamKey[I] { return r.key }

func (r *ReceiveRecords[I]) Next(ctx context.Context) ([]byte, error) {
	inner, err := r.stream(ctx)
	if err != nil {
		return nil, err
	}
	return inner.Next(ctx)
}

func (r *ReceiveRecords[I]) stream(ctx context.Context) (interfaces.BodyStream, error) {
	r.mu.Lock()
	if r.inner != nil {
		defer r.mu.Unlock()
		return r.inner, nil
	}
	if r.closed {
		r.mu.Unlock()
		return nil, ErrStreamClosed
	}
	r.mu.Unlock()

	inner, err := r.collection.take(ctx, r.key, r.entry)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, multierr.Append(ErrStreamClosed, inner.Close())
	}
	r.inner = inner
	return inner, nil
}

// Close releases the underlying stream if it has been taken.
func (r *ReceiveRecords[I]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.inner != nil {
		return r.inner.Close()
	}
	return nil
}
