package query

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ruteri/mpc-helper/interfaces"
)

// NewShardHandler returns the request handler of the shard transport. No query
// type runs across shards yet, so prepare requests are validated and refused,
// which returns the shard transport to idle.
func NewShardHandler(log *slog.Logger) interfaces.HandlerFunc[interfaces.ShardIndex] {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req interfaces.Addr[interfaces.ShardIndex], body interfaces.BodyStream) (*interfaces.HelperResponse, error) {
		body.Close()
		if req.Route != interfaces.RoutePrepareQuery {
			return nil, interfaces.NewRequestError(http.StatusBadRequest, "route %s is not served between shards", req.Route)
		}
		var prepare interfaces.PrepareQuery
		if err := req.DecodeParams(&prepare); err != nil {
			return nil, err
		}
		if err := prepare.Validate(); err != nil {
			return nil, &interfaces.RequestError{StatusCode: http.StatusBadRequest, Err: err}
		}
		log.Warn("refusing sharded query", "queryID", prepare.QueryID, "type", prepare.Config.QueryType)
		return nil, interfaces.NewRequestError(http.StatusNotImplemented, "query type %s does not run on shards", prepare.Config.QueryType)
	}
}
