package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ruteri/mpc-helper/gate"
	"github.com/ruteri/mpc-helper/interfaces"
	"github.com/ruteri/mpc-helper/metrics"
	"github.com/ruteri/mpc-helper/streams"
)

var ErrNotConnected = errors.New("processor is not connected to a transport")

// Transport is the subset of the ring transport the processor drives.
type Transport interface {
	Identity() interfaces.HelperIdentity
	Send(ctx context.Context, dest interfaces.HelperIdentity, route interfaces.Route, data interfaces.BodyStream) error
	Receive(from interfaces.HelperIdentity, queryID interfaces.QueryID, g gate.Gate) *streams.ReceiveRecords[interfaces.HelperIdentity]
}

// Processor owns the lifecycle of the query a helper is running. It is the
// request handler of the ring transport; the transport guarantees that at most
// one query is started at a time and clears its stream registry when the query
// is completed or killed.
type Processor struct {
	identity interfaces.HelperIdentity
	log      *slog.Logger
	metrics  *metrics.QueryMetrics

	mu        sync.Mutex
	transport Transport
	current   *runningQuery
}

type runningQuery struct {
	prepare interfaces.PrepareQuery
	status  interfaces.QueryStatus
	started time.Time

	hasInput bool
	cancel   context.CancelFunc
	done     chan struct{}
	output   []byte
	err      error
}

func NewProcessor(identity interfaces.HelperIdentity, log *slog.Logger, m *metrics.QueryMetrics) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		identity: identity,
		log:      log.With("component", "query"),
		metrics:  m,
	}
}

// Connect sets the transport used to reach peers. The transport is created
// with the processor as its handler, so this happens after both exist.
func (p *Processor) Connect(t Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transport = t
}

func (p *Processor) getTransport() (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil {
		return nil, ErrNotConnected
	}
	return p.transport, nil
}

// Handle implements interfaces.RequestHandler.
func (p *Processor) Handle(ctx context.Context, req interfaces.Addr[interfaces.HelperIdentity], body interfaces.BodyStream) (*interfaces.HelperResponse, error) {
	switch req.Route {
	case interfaces.RouteReceiveQuery:
		body.Close()
		return p.receiveQuery(ctx, req)
	case interfaces.RoutePrepareQuery:
		body.Close()
		return p.prepareQuery(req)
	case interfaces.RouteQueryInput:
		return p.queryInput(ctx, req.QueryID, body)
	case interfaces.RouteQueryStatus:
		body.Close()
		return p.queryStatus(req.QueryID)
	case interfaces.RouteCompleteQuery:
		body.Close()
		return p.completeQuery(ctx, req.QueryID)
	case interfaces.RouteKillQuery:
		body.Close()
		return p.killQuery(ctx, req.QueryID)
	default:
		body.Close()
		return nil, interfaces.NewRequestError(http.StatusBadRequest, "route %s is not handled by the query processor", req.Route)
	}
}

// receiveQuery creates a query led by this helper and prepares both followers.
func (p *Processor) receiveQuery(ctx context.Context, req interfaces.Addr[interfaces.HelperIdentity]) (*interfaces.HelperResponse, error) {
	var cfg interfaces.QueryConfig
	if err := req.DecodeParams(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, &interfaces.RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	t, err := p.getTransport()
	if err != nil {
		return nil, err
	}

	prepare := interfaces.PrepareQuery{
		QueryID: interfaces.NewQueryID(),
		Config:  cfg,
		Roles:   [3]interfaces.HelperIdentity{p.identity, p.identity.Next(), p.identity.Next().Next()},
	}
	q, err := p.begin(prepare, interfaces.QueryStatusPreparing)
	if err != nil {
		return nil, err
	}

	route, err := interfaces.PrepareQueryRoute(prepare)
	if err != nil {
		p.forget(q)
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, follower := range prepare.Roles[1:] {
		follower := follower
		g.Go(func() error {
			return t.Send(gctx, follower, route, nil)
		})
	}
	if err := g.Wait(); err != nil {
		p.forget(q)
		p.log.Error("preparing followers failed", "queryID", prepare.QueryID, "err", err)
		return nil, fmt.Errorf("prepare query %s: %w", prepare.QueryID, err)
	}

	p.setStatus(q, interfaces.QueryStatusAwaitingInputs)
	p.log.Info("query created", "queryID", prepare.QueryID, "type", cfg.QueryType, "recordSize", cfg.RecordSize)
	return interfaces.JSONResponse(interfaces.CreateQueryResponse{QueryID: prepare.QueryID})
}

// prepareQuery stores a query created by the leader.
func (p *Processor) prepareQuery(req interfaces.Addr[interfaces.HelperIdentity]) (*interfaces.HelperResponse, error) {
	if !req.FromPeer() {
		return nil, interfaces.NewRequestError(http.StatusUnauthorized, "prepare query must come from a helper")
	}
	var prepare interfaces.PrepareQuery
	if err := req.DecodeParams(&prepare); err != nil {
		return nil, err
	}
	if err := prepare.Validate(); err != nil {
		return nil, &interfaces.RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	if prepare.QueryID != req.QueryID {
		return nil, interfaces.NewRequestError(http.StatusBadRequest, "query id %s does not match payload %s", req.QueryID, prepare.QueryID)
	}
	if leader := prepare.Roles[0]; leader != *req.Origin {
		return nil, interfaces.NewRequestError(http.StatusForbidden, "query %s is led by %s, not %s", prepare.QueryID, leader, *req.Origin)
	}

	if _, err := p.begin(prepare, interfaces.QueryStatusAwaitingInputs); err != nil {
		return nil, err
	}
	p.log.Info("query prepared", "queryID", prepare.QueryID, "leader", prepare.Roles[0].String())
	return interfaces.OKResponse(), nil
}

// queryInput reads this helper's input and starts the protocol in the background.
func (p *Processor) queryInput(ctx context.Context, queryID interfaces.QueryID, body interfaces.BodyStream) (*interfaces.HelperResponse, error) {
	if _, err := p.lookup(queryID); err != nil {
		body.Close()
		return nil, err
	}
	input, err := streams.ReadAll(ctx, body)
	if err != nil {
		return nil, interfaces.NewRequestError(http.StatusBadRequest, "reading input: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	q := p.current
	if q == nil || q.prepare.QueryID != queryID {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrQueryNotFound, queryID)
	}
	if q.hasInput {
		return nil, interfaces.NewRequestError(http.StatusConflict, "query %s already has its input", queryID)
	}
	if q.status != interfaces.QueryStatusAwaitingInputs {
		return nil, interfaces.NewRequestError(http.StatusConflict, "query %s is %s", queryID, q.status)
	}
	records, err := streams.SplitRecords(input, q.prepare.Config.RecordSize)
	if err != nil {
		return nil, &interfaces.RequestError{StatusCode: http.StatusBadRequest, Err: err}
	}
	if p.transport == nil {
		return nil, ErrNotConnected
	}

	runCtx, cancel := context.WithCancel(context.Background())
	q.hasInput = true
	q.started = time.Now()
	q.status = interfaces.QueryStatusRunning
	q.cancel = cancel
	q.done = make(chan struct{})
	go p.run(runCtx, p.transport, q, records)

	p.log.Info("query started", "queryID", queryID, "records", len(records))
	return interfaces.OKResponse(), nil
}

func (p *Processor) run(ctx context.Context, t Transport, q *runningQuery, records [][]byte) {
	output, err := Relay(ctx, t, q.prepare, p.identity, records)

	p.mu.Lock()
	q.output = output
	q.err = err
	if err != nil {
		q.status = interfaces.QueryStatusFailed
	} else {
		q.status = interfaces.QueryStatusCompleted
	}
	close(q.done)
	p.mu.Unlock()

	q.cancel()
	p.metrics.ObserveQuery(string(q.status), time.Since(q.started).Seconds())
	if err != nil {
		p.log.Error("query failed", "queryID", q.prepare.QueryID, "err", err)
		return
	}
	p.metrics.AddRecords(len(output) / q.prepare.Config.RecordSize)
	p.log.Info("query finished", "queryID", q.prepare.QueryID, "outputBytes", len(output))
}

func (p *Processor) queryStatus(queryID interfaces.QueryID) (*interfaces.HelperResponse, error) {
	q, err := p.lookup(queryID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	status := q.status
	p.mu.Unlock()
	return interfaces.JSONResponse(interfaces.QueryStatusResponse{QueryID: queryID, Status: status})
}

// completeQuery waits for the protocol and returns this helper's output. The
// query is forgotten in every case, matching the transport which ends the query
// when this returns.
func (p *Processor) completeQuery(ctx context.Context, queryID interfaces.QueryID) (*interfaces.HelperResponse, error) {
	q, err := p.lookup(queryID)
	if err != nil {
		return nil, err
	}
	defer p.forget(q)

	p.mu.Lock()
	done, hasInput := q.done, q.hasInput
	p.mu.Unlock()
	if !hasInput {
		return nil, interfaces.NewRequestError(http.StatusConflict, "query %s ended before its input was received", queryID)
	}

	select {
	case <-done:
	case <-ctx.Done():
		q.cancel()
		return nil, ctx.Err()
	}

	if q.err != nil {
		return nil, interfaces.NewRequestError(http.StatusInternalServerError, "query %s failed: %w", queryID, q.err)
	}
	return interfaces.BinaryResponse(q.output), nil
}

func (p *Processor) killQuery(ctx context.Context, queryID interfaces.QueryID) (*interfaces.HelperResponse, error) {
	q, err := p.lookup(queryID)
	if err != nil {
		return nil, err
	}
	defer p.forget(q)

	p.mu.Lock()
	done, cancel := q.done, q.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.log.Info("query killed", "queryID", queryID)
	return interfaces.JSONResponse(interfaces.KillQueryResponse{QueryID: queryID, Killed: true})
}

func (p *Processor) begin(prepare interfaces.PrepareQuery, status interfaces.QueryStatus) (*runningQuery, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return nil, &interfaces.RequestError{
			StatusCode: http.StatusConflict,
			Err:        fmt.Errorf("%w: %s", interfaces.ErrQueryInProgress, p.current.prepare.QueryID),
		}
	}
	q := &runningQuery{prepare: prepare, status: status}
	p.current = q
	return q, nil
}

func (p *Processor) lookup(queryID interfaces.QueryID) (*runningQuery, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.current.prepare.QueryID != queryID {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrQueryNotFound, queryID)
	}
	return p.current, nil
}

func (p *Processor) setStatus(q *runningQuery, status interfaces.QueryStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q.status = status
}

func (p *Processor) forget(q *runningQuery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == q {
		p.current = nil
	}
}

// Running returns the id of the current query, if any.
func (p *Processor) Running() (interfaces.QueryID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return "", false
	}
	return p.current.prepare.QueryID, true
}
