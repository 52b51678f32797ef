package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.uber.org/atomic"

	"github.com/ruteri/mpc-helper/gate"
	"github.com/ruteri/mpc-helper/interfaces"
	"github.com/ruteri/mpc-helper/metrics"
	"github.com/ruteri/mpc-helper/streams"
)

// Config holds everything a transport needs. Clients must contain an entry for
// every peer the transport will send to; the map is copied and never modified.
type Config[I interfaces.TransportIdentity] struct {
	Identity I
	Clients  map[I]interfaces.PeerClient
	// Handler receives dispatched control-plane requests. It may be nil if the
	// transport never dispatches, and can be set later with SetHandler.
	Handler interfaces.RequestHandler[I]
	Log     *slog.Logger
	Metrics *metrics.TransportMetrics
}

// HTTPTransport is the per-party transport: outbound routing through peer
// clients, the inbound stream registry, and dispatch of control-plane requests
// with guaranteed registry cleanup at the end of a query.
type HTTPTransport[I interfaces.TransportIdentity] struct {
	identity I
	clients  map[I]interfaces.PeerClient
	streams  *streams.StreamCollection[I]
	log      *slog.Logger
	metrics  *metrics.TransportMetrics

	handlerMu sync.RWMutex
	handler   interfaces.RequestHandler[I]

	phaseMu sync.Mutex
	phase   Phase

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// MpcTransport connects the three helpers of a ring.
type MpcTransport = HTTPTransport[interfaces.HelperIdentity]

// ShardTransport connects the shards of one helper.
type ShardTransport = HTTPTransport[interfaces.ShardIndex]

func New[I interfaces.TransportIdentity](cfg Config[I]) *HTTPTransport[I] {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("identity", cfg.Identity.String())

	clients := make(map[I]interfaces.PeerClient, len(cfg.Clients))
	for id, c := range cfg.Clients {
		clients[id] = c
	}

	return &HTTPTransport[I]{
		identity: cfg.Identity,
		clients:  clients,
		streams:  streams.NewStreamCollection[I](log),
		handler:  cfg.Handler,
		log:      log,
		metrics:  cfg.Metrics,
		phase:    PhaseIdle,
	}
}

// NewMpc creates a ring transport. clients is indexed by HelperIdentity.AsIndex;
// the entry for identity itself is ignored and may be nil.
func NewMpc(identity interfaces.HelperIdentity, clients [3]interfaces.PeerClient, handler interfaces.RequestHandler[interfaces.HelperIdentity], log *slog.Logger, m *metrics.TransportMetrics) *MpcTransport {
	peers := make(map[interfaces.HelperIdentity]interfaces.PeerClient, 2)
	for _, h := range interfaces.AllHelpers() {
		if h != identity && clients[h.AsIndex()] != nil {
			peers[h] = clients[h.AsIndex()]
		}
	}
	return New(Config[interfaces.HelperIdentity]{
		Identity: identity,
		Clients:  peers,
		Handler:  handler,
		Log:      log,
		Metrics:  m,
	})
}

// NewShard creates a transport between the shards of one helper.
func NewShard(identity interfaces.ShardIndex, clients map[interfaces.ShardIndex]interfaces.PeerClient, handler interfaces.RequestHandler[interfaces.ShardIndex], log *slog.Logger, m *metrics.TransportMetrics) *ShardTransport {
	return New(Config[interfaces.ShardIndex]{
		Identity: identity,
		Clients:  clients,
		Handler:  handler,
		Log:      log,
		Metrics:  m,
	})
}

func (t *HTTPTransport[I]) Identity() I {
	return t.identity
}

// SetHandler installs the request handler. It is meant for wiring at startup,
// when the handler itself needs a reference to the transport.
func (t *HTTPTransport[I]) SetHandler(h interfaces.RequestHandler[I]) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = h
}

func (t *HTTPTransport[I]) getHandler() interfaces.RequestHandler[I] {
	t.handlerMu.RLock()
	defer t.handlerMu.RUnlock()
	return t.handler
}

// Phase returns the current query phase.
func (t *HTTPTransport[I]) Phase() Phase {
	t.phaseMu.Lock()
	defer t.phaseMu.Unlock()
	return t.phase
}

func (t *HTTPTransport[I]) Stats() Stats {
	return Stats{
		BytesSent:     t.bytesSent.Load(),
		BytesReceived: t.bytesReceived.Load(),
	}
}

// StreamCount is the number of registry entries currently pending.
func (t *HTTPTransport[I]) StreamCount() int {
	return t.streams.Len()
}

// Send delivers route to dest.
//
// Records streams data as the records of (route.QueryID, route.Gate).
// PrepareQuery decodes route.Params and forwards it. Every other route is only
// originated by report collectors, so sending it is a RoutingError and no I/O
// happens. Failures of the peer client are returned as *interfaces.SendError.
func (t *HTTPTransport[I]) Send(ctx context.Context, dest I, route interfaces.Route, data interfaces.BodyStream) (err error) {
	defer func() { t.metrics.ObserveSend(route.ID.String(), err) }()

	switch route.ID {
	case interfaces.RouteRecords:
		if route.QueryID == "" {
			return &interfaces.RoutingError{Route: route.ID, Err: interfaces.ErrMissingQueryID}
		}
		if route.Gate.IsZero() {
			return &interfaces.RoutingError{Route: route.ID, Err: interfaces.ErrMissingGate}
		}
		client, err := t.client(dest, route.ID)
		if err != nil {
			return err
		}
		if data == nil {
			data = streams.Empty()
		}
		data = &countingStream{BodyStream: data, total: &t.bytesSent, observe: t.metrics.AddBytesSent}
		if err := client.Step(ctx, route.QueryID, route.Gate, data); err != nil {
			return &interfaces.SendError{Dest: dest.String(), Route: route.ID, Err: err}
		}
		return nil

	case interfaces.RoutePrepareQuery:
		if data != nil {
			data.Close()
		}
		var req interfaces.PrepareQuery
		if err := (interfaces.Addr[I]{Route: route.ID, Params: route.Params}).DecodeParams(&req); err != nil {
			return err
		}
		client, err := t.client(dest, route.ID)
		if err != nil {
			return err
		}
		if err := client.PrepareQuery(ctx, req); err != nil {
			return &interfaces.SendError{Dest: dest.String(), Route: route.ID, Err: err}
		}
		return nil

	default:
		if data != nil {
			data.Close()
		}
		return &interfaces.RoutingError{Route: route.ID, Err: interfaces.ErrClientOnlyRoute}
	}
}

func (t *HTTPTransport[I]) client(dest I, route interfaces.RouteID) (interfaces.PeerClient, error) {
	c, ok := t.clients[dest]
	if !ok || c == nil {
		return nil, &interfaces.RoutingError{Route: route, Err: fmt.Errorf("%w: %s", interfaces.ErrUnknownPeer, dest)}
	}
	return c, nil
}

// Receive returns the records from peer for (queryID, g). It never blocks; the
// returned stream waits for the peer's data on its first Next.
func (t *HTTPTransport[I]) Receive(from I, queryID interfaces.QueryID, g gate.Gate) *streams.ReceiveRecords[I] {
	rx := t.streams.Subscribe(streams.StreamKey[I]{QueryID: queryID, From: from, Gate: g})
	t.metrics.SetRegistryEntries(t.streams.Len())
	return rx
}

// ReceiveStream hands an inbound data-plane stream to the registry. It is
// called by the ingress layer for Records requests. A rejected body is closed.
func (t *HTTPTransport[I]) ReceiveStream(queryID interfaces.QueryID, g gate.Gate, from I, body interfaces.BodyStream) error {
	counted := &countingStream{BodyStream: body, total: &t.bytesReceived, observe: t.metrics.AddBytesReceived}
	err := t.streams.AddStream(streams.StreamKey[I]{QueryID: queryID, From: from, Gate: g}, counted)
	if err != nil {
		t.log.Warn("rejecting inbound stream", "queryID", queryID, "from", from.String(), "gate", g.String(), "err", err)
		body.Close()
	}
	t.metrics.SetRegistryEntries(t.streams.Len())
	return err
}

// WithdrawStream drops the stream from peer for (queryID, g) if nobody has
// started reading it, and closes it. The ingress layer calls it when the
// sending peer disconnects, so that a retry of the same records can be
// registered.
func (t *HTTPTransport[I]) WithdrawStream(queryID interfaces.QueryID, g gate.Gate, from I) bool {
	stream, ok := t.streams.Remove(streams.StreamKey[I]{QueryID: queryID, From: from, Gate: g})
	if !ok {
		return false
	}
	stream.Close()
	t.metrics.SetRegistryEntries(t.streams.Len())
	return true
}

// Dispatch hands a control-plane request to the request handler.
//
// ReceiveQuery and PrepareQuery start a query and are rejected with 409 while
// another one is active. CompleteQuery and KillQuery end the active query: the
// stream registry is cleared when the handler returns, whether it succeeds,
// fails or panics.
//
// Dispatching without a handler is a programming error and panics.
func (t *HTTPTransport[I]) Dispatch(ctx context.Context, req interfaces.Addr[I], body interfaces.BodyStream) (resp *interfaces.HelperResponse, err error) {
	handler := t.getHandler()
	if handler == nil {
		panic(fmt.Sprintf("transport %s: dispatching %s without a request handler", t.identity, req.Route))
	}
	if body == nil {
		body = streams.Empty()
	}
	defer func() { t.metrics.ObserveDispatch(req.Route.String(), err) }()

	switch req.Route {
	case interfaces.RouteCompleteQuery, interfaces.RouteKillQuery:
		t.setPhase(endingPhase(req.Route))
		defer t.endQuery(req)
		return handler.Handle(ctx, req, body)

	case interfaces.RouteReceiveQuery, interfaces.RoutePrepareQuery:
		if err := t.beginQuery(req); err != nil {
			body.Close()
			return nil, err
		}
		started := false
		defer func() { t.finishBegin(started) }()
		resp, err = handler.Handle(ctx, req, body)
		started = err == nil
		return resp, err

	default:
		return handler.Handle(ctx, req, body)
	}
}

func (t *HTTPTransport[I]) beginQuery(req interfaces.Addr[I]) error {
	t.phaseMu.Lock()
	defer t.phaseMu.Unlock()
	if t.phase != PhaseIdle {
		return &interfaces.RequestError{
			StatusCode: http.StatusConflict,
			Err:        fmt.Errorf("%w: cannot %s while %s", interfaces.ErrQueryInProgress, req.Route, t.phase),
		}
	}
	t.phase = PhaseStarting
	return nil
}

func (t *HTTPTransport[I]) finishBegin(started bool) {
	t.phaseMu.Lock()
	defer t.phaseMu.Unlock()
	if t.phase != PhaseStarting {
		return
	}
	if started {
		t.phase = PhaseQueryActive
	} else {
		t.phase = PhaseIdle
	}
}

func (t *HTTPTransport[I]) endQuery(req interfaces.Addr[I]) {
	if err := t.streams.Clear(); err != nil {
		t.log.Warn("closing unconsumed streams failed", "queryID", req.QueryID, "err", err)
	}
	t.metrics.IncClears()
	t.metrics.SetRegistryEntries(t.streams.Len())
	t.setPhase(PhaseIdle)
	t.log.Debug("query ended", "queryID", req.QueryID, "route", req.Route.String())
}

func (t *HTTPTransport[I]) setPhase(p Phase) {
	t.phaseMu.Lock()
	defer t.phaseMu.Unlock()
	t.phase = p
}
