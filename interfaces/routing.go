package interfaces

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ruteri/mpc-helper/gate"
)

// RouteID classifies a request by intent.
type RouteID int

const (
	// RouteRecords carries data-plane records between peers.
	RouteRecords RouteID = iota
	// RouteReceiveQuery creates a query. Sent by report collectors to the leader.
	RouteReceiveQuery
	// RoutePrepareQuery distributes a new query from the leader to its peers.
	RoutePrepareQuery
	RouteQueryInput
	RouteQueryStatus
	RouteCompleteQuery
	RouteKillQuery
)

var routeNames = map[RouteID]string{
	RouteRecords:       "records",
	RouteReceiveQuery:  "receive_query",
	RoutePrepareQuery:  "prepare_query",
	RouteQueryInput:    "query_input",
	RouteQueryStatus:   "query_status",
	RouteCompleteQuery: "complete_query",
	RouteKillQuery:     "kill_query",
}

func (r RouteID) String() string {
	if name, ok := routeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("route(%d)", int(r))
}

// ClientOnly reports whether the route is only ever originated by a report collector
// and therefore never sent by a helper to a peer.
func (r RouteID) ClientOnly() bool {
	switch r {
	case RouteReceiveQuery, RouteQueryInput, RouteQueryStatus, RouteCompleteQuery, RouteKillQuery:
		return true
	default:
		return false
	}
}

// EndsQuery reports whether the route terminates the active query.
func (r RouteID) EndsQuery() bool {
	return r == RouteCompleteQuery || r == RouteKillQuery
}

// Route addresses an outbound request.
type Route struct {
	ID      RouteID
	QueryID QueryID
	Gate    gate.Gate
	// Params is the JSON-encoded control-plane payload, if the route has one.
	Params []byte
}

// RecordsRoute addresses the data-plane stream for (queryID, g).
func RecordsRoute(queryID QueryID, g gate.Gate) Route {
	return Route{ID: RouteRecords, QueryID: queryID, Gate: g}
}

// PrepareQueryRoute encodes req as the payload of a PrepareQuery route.
func PrepareQueryRoute(req PrepareQuery) (Route, error) {
	params, err := json.Marshal(req)
	if err != nil {
		return Route{}, &SerializationError{Route: RoutePrepareQuery, Err: err}
	}
	return Route{ID: RoutePrepareQuery, QueryID: req.QueryID, Params: params}, nil
}

// Addr is an inbound request as delivered to a RequestHandler.
type Addr[I TransportIdentity] struct {
	Route RouteID
	// Origin is the authenticated peer that sent the request, nil for report collectors.
	Origin  *I
	QueryID QueryID
	Gate    gate.Gate
	Params  []byte
}

// FromPeer reports whether the request was sent by an identified peer.
func (a Addr[I]) FromPeer() bool { return a.Origin != nil }

// DecodeParams unmarshals the JSON payload into v.
func (a Addr[I]) DecodeParams(v any) error {
	if err := json.Unmarshal(a.Params, v); err != nil {
		return &SerializationError{Route: a.Route, Err: err}
	}
	return nil
}

const (
	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/octet-stream"
)

// HelperResponse is the body returned by a RequestHandler.
type HelperResponse struct {
	Body        []byte
	ContentType string
}

// OKResponse is an empty successful response.
func OKResponse() *HelperResponse {
	return &HelperResponse{}
}

// JSONResponse encodes v as the response body.
func JSONResponse(v any) (*HelperResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &HelperResponse{Body: body, ContentType: ContentTypeJSON}, nil
}

// BinaryResponse wraps raw bytes.
func BinaryResponse(body []byte) *HelperResponse {
	return &HelperResponse{Body: body, ContentType: ContentTypeBinary}
}

// RequestHandler processes control-plane requests that a transport dispatches.
type RequestHandler[I TransportIdentity] interface {
	Handle(ctx context.Context, req Addr[I], body BodyStream) (*HelperResponse, error)
}

// HandlerFunc adapts a function to RequestHandler.
type HandlerFunc[I TransportIdentity] func(ctx context.Context, req Addr[I], body BodyStream) (*HelperResponse, error)

func (f HandlerFunc[I]) Handle(ctx context.Context, req Addr[I], body BodyStream) (*HelperResponse, error) {
	return f(ctx, req, body)
}
