package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/mpc-helper/api"
	"github.com/ruteri/mpc-helper/gate"
	"github.com/ruteri/mpc-helper/interfaces"
	"github.com/ruteri/mpc-helper/streams"
)

// maxControlBodySize limits JSON control-plane payloads.
const maxControlBodySize = 1 << 20

var ErrMissingOrigin = errors.New("request does not identify a peer")

// Transport is the part of a transport the ingress layer calls into.
type Transport[I interfaces.TransportIdentity] interface {
	Dispatch(ctx context.Context, req interfaces.Addr[I], body interfaces.BodyStream) (*interfaces.HelperResponse, error)
	ReceiveStream(queryID interfaces.QueryID, g gate.Gate, from I, body interfaces.BodyStream) error
	WithdrawStream(queryID interfaces.QueryID, g gate.Gate, from I) bool
}

// QueryHandler decodes HTTP requests into transport calls.
type QueryHandler[I interfaces.TransportIdentity] struct {
	transport Transport[I]
	identify  *PeerIdentifier[I]
	log       *slog.Logger

	// clientRoutes enables the report collector routes; shard routers only
	// serve peers.
	clientRoutes bool
}

// NewRingHandler serves report collectors and the helpers of the ring.
func NewRingHandler(t Transport[interfaces.HelperIdentity], identify *PeerIdentifier[interfaces.HelperIdentity], log *slog.Logger) *QueryHandler[interfaces.HelperIdentity] {
	return &QueryHandler[interfaces.HelperIdentity]{
		transport:    t,
		identify:     identify,
		log:          log,
		clientRoutes: true,
	}
}

// NewShardHandler serves the other shards of the same helper.
func NewShardHandler(t Transport[interfaces.ShardIndex], identify *PeerIdentifier[interfaces.ShardIndex], log *slog.Logger) *QueryHandler[interfaces.ShardIndex] {
	return &QueryHandler[interfaces.ShardIndex]{
		transport: t,
		identify:  identify,
		log:       log,
	}
}

// RegisterRoutes mounts the query API on r.
func (h *QueryHandler[I]) RegisterRoutes(r chi.Router) {
	r.Route(api.QueryBasePath, func(r chi.Router) {
		if h.clientRoutes {
			r.Post("/", h.handleCreateQuery)
			r.Post("/{query_id}/input", h.handleQueryInput)
			r.Get("/{query_id}", h.handleQueryStatus)
			r.Get("/{query_id}/complete", h.handleCompleteQuery)
			r.Post("/{query_id}/kill", h.handleKillQuery)
		}
		r.Post("/{query_id}", h.handlePrepareQuery)
		r.Post("/{query_id}/step/*", h.handleStep)
	})
	r.Get(api.EchoPath, h.handleEcho)
}

func (h *QueryHandler[I]) handleCreateQuery(w http.ResponseWriter, r *http.Request) {
	params, ok := h.readJSON(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, interfaces.Addr[I]{Route: interfaces.RouteReceiveQuery, Params: params}, nil)
}

func (h *QueryHandler[I]) handlePrepareQuery(w http.ResponseWriter, r *http.Request) {
	origin, ok := h.requirePeer(w, r)
	if !ok {
		return
	}
	queryID, ok := h.queryID(w, r)
	if !ok {
		return
	}
	params, ok := h.readJSON(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, interfaces.Addr[I]{Route: interfaces.RoutePrepareQuery, Origin: &origin, QueryID: queryID, Params: params}, nil)
}

func (h *QueryHandler[I]) handleQueryInput(w http.ResponseWriter, r *http.Request) {
	queryID, ok := h.queryID(w, r)
	if !ok {
		return
	}
	body := streams.FromReader(r.Body, streams.DefaultChunkSize)
	h.dispatch(w, r, interfaces.Addr[I]{Route: interfaces.RouteQueryInput, QueryID: queryID}, body)
}

func (h *QueryHandler[I]) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	h.handleQueryRoute(w, r, interfaces.RouteQueryStatus)
}

func (h *QueryHandler[I]) handleCompleteQuery(w http.ResponseWriter, r *http.Request) {
	h.handleQueryRoute(w, r, interfaces.RouteCompleteQuery)
}

func (h *QueryHandler[I]) handleKillQuery(w http.ResponseWriter, r *http.Request) {
	h.handleQueryRoute(w, r, interfaces.RouteKillQuery)
}

func (h *QueryHandler[I]) handleQueryRoute(w http.ResponseWriter, r *http.Request, route interfaces.RouteID) {
	queryID, ok := h.queryID(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, interfaces.Addr[I]{Route: route, QueryID: queryID}, nil)
}

// handleStep registers the request body as the stream of (query, origin, gate)
// and holds the request until the consumer is done with it. The response is
// the sender's acknowledgement.
func (h *QueryHandler[I]) handleStep(w http.ResponseWriter, r *http.Request) {
	origin, ok := h.requirePeer(w, r)
	if !ok {
		return
	}
	queryID, ok := h.queryID(w, r)
	if !ok {
		return
	}
	g, err := gate.Parse(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, fmt.Errorf("invalid gate: %w", err).Error(), http.StatusBadRequest)
		return
	}

	body := streams.Track(streams.FromReader(r.Body, streams.DefaultChunkSize))
	if err := h.transport.ReceiveStream(queryID, g, origin, body); err != nil {
		h.writeError(w, err, interfaces.RouteRecords)
		return
	}

	select {
	case <-body.Done():
		if err := body.Err(); err != nil {
			h.log.Debug("stream not fully consumed", "queryID", queryID, "from", origin.String(), "gate", g.String(), "err", err)
			http.Error(w, err.Error(), http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
		// The body is unusable once the handler returns. An unread stream is
		// withdrawn; one already being read fails on its next chunk.
		withdrawn := h.transport.WithdrawStream(queryID, g, origin)
		h.log.Warn("peer went away while stream was pending", "queryID", queryID, "from", origin.String(), "gate", g.String(), "withdrawn", withdrawn)
	}
}

func (h *QueryHandler[I]) handleEcho(w http.ResponseWriter, r *http.Request) {
	resp := api.EchoResponse{
		QueryParams: make(map[string]string),
		Headers:     make(map[string]string),
	}
	for k := range r.URL.Query() {
		resp.QueryParams[k] = r.URL.Query().Get(k)
	}
	for k := range r.Header {
		resp.Headers[k] = r.Header.Get(k)
	}
	if origin, ok, err := h.identify.Identify(r); err == nil && ok {
		resp.Origin = origin.String()
	}
	writeJSON(w, resp)
}

func (h *QueryHandler[I]) dispatch(w http.ResponseWriter, r *http.Request, addr interfaces.Addr[I], body interfaces.BodyStream) {
	resp, err := h.transport.Dispatch(r.Context(), addr, body)
	if err != nil {
		h.writeError(w, err, addr.Route)
		return
	}
	if resp == nil || len(resp.Body) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

func (h *QueryHandler[I]) writeError(w http.ResponseWriter, err error, route interfaces.RouteID) {
	status := interfaces.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "route", route.String(), "err", err)
	} else {
		h.log.Debug("request rejected", "route", route.String(), "status", status, "err", err)
	}
	http.Error(w, err.Error(), status)
}

func (h *QueryHandler[I]) requirePeer(w http.ResponseWriter, r *http.Request) (I, bool) {
	origin, ok, err := h.identify.Identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return origin, false
	}
	if !ok {
		http.Error(w, ErrMissingOrigin.Error(), http.StatusUnauthorized)
		return origin, false
	}
	return origin, true
}

func (h *QueryHandler[I]) queryID(w http.ResponseWriter, r *http.Request) (interfaces.QueryID, bool) {
	queryID, err := interfaces.ParseQueryID(chi.URLParam(r, "query_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return queryID, true
}

func (h *QueryHandler[I]) readJSON(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	params, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxControlBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, fmt.Errorf("failed to read request body: %w", err).Error(), http.StatusBadRequest)
		return nil, false
	}
	if !json.Valid(params) {
		http.Error(w, "request body is not valid JSON", http.StatusBadRequest)
		return nil, false
	}
	return params, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", interfaces.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
