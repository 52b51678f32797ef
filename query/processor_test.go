package query

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/mpc-helper/gate"
	"github.com/ruteri/mpc-helper/interfaces"
	"github.com/ruteri/mpc-helper/streams"
	"github.com/ruteri/mpc-helper/transport"
)

type helperAddr = interfaces.Addr[interfaces.HelperIdentity]

// memClient delivers peer calls straight into another helper's transport.
type memClient struct {
	from    interfaces.HelperIdentity
	to      interfaces.HelperIdentity
	network *memNetwork
}

func (c *memClient) Step(ctx context.Context, queryID interfaces.QueryID, g gate.Gate, data interfaces.BodyStream) error {
	tracked := streams.Track(data)
	if err := c.network.transports[c.to.AsIndex()].ReceiveStream(queryID, g, c.from, tracked); err != nil {
		return err
	}
	select {
	case <-tracked.Done():
		return tracked.Err()
	case <-ctx.Done():
		tracked.Close()
		return ctx.Err()
	}
}

func (c *memClient) PrepareQuery(ctx context.Context, req interfaces.PrepareQuery) error {
	route, err := interfaces.PrepareQueryRoute(req)
	if err != nil {
		return err
	}
	from := c.from
	_, err = c.network.transports[c.to.AsIndex()].Dispatch(ctx, helperAddr{
		Route:   interfaces.RoutePrepareQuery,
		Origin:  &from,
		QueryID: req.QueryID,
		Params:  route.Params,
	}, nil)
	return err
}

type memNetwork struct {
	transports [3]*transport.MpcTransport
	processors [3]*Processor
}

// newMemNetwork connects three helpers in memory. Peers listed in missing get
// no client on any helper.
func newMemNetwork(t *testing.T, missing ...interfaces.HelperIdentity) *memNetwork {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := &memNetwork{}
	for _, id := range interfaces.AllHelpers() {
		var clients [3]interfaces.PeerClient
		for _, peer := range interfaces.AllHelpers() {
			clients[peer.AsIndex()] = &memClient{from: id, to: peer, network: n}
		}
		for _, m := range missing {
			clients[m.AsIndex()] = nil
		}
		p := NewProcessor(id, logger, nil)
		tr := transport.NewMpc(id, clients, p, logger, nil)
		p.Connect(tr)
		n.processors[id.AsIndex()] = p
		n.transports[id.AsIndex()] = tr
	}
	return n
}

func (n *memNetwork) dispatch(id interfaces.HelperIdentity, addr helperAddr, body interfaces.BodyStream) (*interfaces.HelperResponse, error) {
	return n.transports[id.AsIndex()].Dispatch(context.Background(), addr, body)
}

func (n *memNetwork) createQuery(t *testing.T, leader interfaces.HelperIdentity, recordSize int) interfaces.QueryID {
	t.Helper()
	params, err := json.Marshal(interfaces.QueryConfig{QueryType: interfaces.QueryTypeRelay, RecordSize: recordSize})
	require.NoError(t, err)
	resp, err := n.dispatch(leader, helperAddr{Route: interfaces.RouteReceiveQuery, Params: params}, nil)
	require.NoError(t, err)

	var created interfaces.CreateQueryResponse
	require.NoError(t, json.Unmarshal(resp.Body, &created))
	return created.QueryID
}

func (n *memNetwork) status(t *testing.T, id interfaces.HelperIdentity, queryID interfaces.QueryID) interfaces.QueryStatus {
	t.Helper()
	resp, err := n.dispatch(id, helperAddr{Route: interfaces.RouteQueryStatus, QueryID: queryID}, nil)
	require.NoError(t, err)
	var status interfaces.QueryStatusResponse
	require.NoError(t, json.Unmarshal(resp.Body, &status))
	return status.Status
}

func TestRelayQuery(t *testing.T) {
	n := newMemNetwork(t)
	queryID := n.createQuery(t, interfaces.HelperOne, 4)

	for _, tr := range n.transports {
		assert.Equal(t, transport.PhaseQueryActive, tr.Phase())
	}
	assert.Equal(t, interfaces.QueryStatusAwaitingInputs, n.status(t, interfaces.HelperTwo, queryID))

	inputs := [3][]byte{
		{1, 1, 1, 1, 2, 2, 2, 2},
		{3, 3, 3, 3},
		{},
	}
	for _, id := range interfaces.AllHelpers() {
		_, err := n.dispatch(id, helperAddr{Route: interfaces.RouteQueryInput, QueryID: queryID}, streams.FromBytes(inputs[id.AsIndex()]))
		require.NoError(t, err)
	}

	var outputs [3][]byte
	for _, id := range interfaces.AllHelpers() {
		resp, err := n.dispatch(id, helperAddr{Route: interfaces.RouteCompleteQuery, QueryID: queryID}, nil)
		require.NoError(t, err)
		assert.Equal(t, interfaces.ContentTypeBinary, resp.ContentType)
		outputs[id.AsIndex()] = resp.Body
	}

	// each helper outputs what the previous helper of the ring put in
	assert.Empty(t, outputs[0])
	assert.Equal(t, inputs[0], outputs[1])
	assert.Equal(t, inputs[1], outputs[2])

	for i, tr := range n.transports {
		assert.Equal(t, transport.PhaseIdle, tr.Phase())
		assert.Equal(t, 0, tr.StreamCount())
		_, running := n.processors[i].Running()
		assert.False(t, running)
	}
	assert.Equal(t, uint64(12), n.transports[0].Stats().BytesSent+n.transports[1].Stats().BytesSent)
}

func TestRolesStartAtLeader(t *testing.T) {
	n := newMemNetwork(t)
	queryID := n.createQuery(t, interfaces.HelperThree, 2)

	inputs := map[interfaces.HelperIdentity][]byte{
		interfaces.HelperOne:   {1, 1},
		interfaces.HelperTwo:   {2, 2},
		interfaces.HelperThree: {3, 3},
	}
	for id, input := range inputs {
		_, err := n.dispatch(id, helperAddr{Route: interfaces.RouteQueryInput, QueryID: queryID}, streams.FromBytes(input))
		require.NoError(t, err)
	}
	for id := range inputs {
		resp, err := n.dispatch(id, helperAddr{Route: interfaces.RouteCompleteQuery, QueryID: queryID}, nil)
		require.NoError(t, err)
		assert.Equal(t, inputs[id.Prev()], resp.Body, "output of %s", id)
	}
}

func TestOneQueryAtATime(t *testing.T) {
	n := newMemNetwork(t)
	n.createQuery(t, interfaces.HelperOne, 4)

	params := []byte(`{"query_type":"relay","record_size":4}`)
	_, err := n.dispatch(interfaces.HelperTwo, helperAddr{Route: interfaces.RouteReceiveQuery, Params: params}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrQueryInProgress)
	assert.Equal(t, http.StatusConflict, interfaces.StatusCode(err))
}

func TestCreateQueryValidation(t *testing.T) {
	n := newMemNetwork(t)

	_, err := n.dispatch(interfaces.HelperOne, helperAddr{Route: interfaces.RouteReceiveQuery, Params: []byte(`{"query_type":"sort","record_size":4}`)}, nil)
	assert.ErrorIs(t, err, interfaces.ErrUnknownQueryType)
	assert.Equal(t, http.StatusBadRequest, interfaces.StatusCode(err))

	_, err = n.dispatch(interfaces.HelperOne, helperAddr{Route: interfaces.RouteReceiveQuery, Params: []byte(`[]`)}, nil)
	var serErr *interfaces.SerializationError
	assert.ErrorAs(t, err, &serErr)

	assert.Equal(t, transport.PhaseIdle, n.transports[0].Phase())
}

func TestPrepareFailureAborts(t *testing.T) {
	n := newMemNetwork(t, interfaces.HelperThree)

	params := []byte(`{"query_type":"relay","record_size":4}`)
	_, err := n.dispatch(interfaces.HelperOne, helperAddr{Route: interfaces.RouteReceiveQuery, Params: params}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUnknownPeer)

	assert.Equal(t, transport.PhaseIdle, n.transports[0].Phase())
	_, running := n.processors[0].Running()
	assert.False(t, running)
}

func TestQueryInputErrors(t *testing.T) {
	n := newMemNetwork(t)
	queryID := n.createQuery(t, interfaces.HelperOne, 4)

	_, err := n.dispatch(interfaces.HelperOne, helperAddr{Route: interfaces.RouteQueryInput, QueryID: interfaces.NewQueryID()}, streams.FromBytes([]byte{1, 2, 3, 4}))
	assert.Equal(t, http.StatusNotFound, interfaces.StatusCode(err))

	_, err = n.dispatch(interfaces.HelperOne, helperAddr{Route: interfaces.RouteQueryInput, QueryID: queryID}, streams.FromBytes([]byte{1, 2, 3}))
	assert.Equal(t, http.StatusBadRequest, interfaces.StatusCode(err))
	assert.Equal(t, interfaces.QueryStatusAwaitingInputs, n.status(t, interfaces.HelperOne, queryID))

	_, err = n.dispatch(interfaces.HelperOne, helperAddr{Route: interfaces.RouteQueryInput, QueryID: queryID}, streams.FromBytes([]byte{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, interfaces.QueryStatusRunning, n.status(t, interfaces.HelperOne, queryID))

	_, err = n.dispatch(interfaces.HelperOne, helperAddr{Route: interfaces.RouteQueryInput, QueryID: queryID}, streams.FromBytes([]byte{1, 2, 3, 4}))
	assert.Equal(t, http.StatusConflict, interfaces.StatusCode(err))
}

func TestKillRunningQuery(t *testing.T) {
	n := newMemNetwork(t)
	queryID := n.createQuery(t, interfaces.HelperOne, 4)

	// only H1 gets its input, so its relay blocks on both peers
	_, err := n.dispatch(interfaces.HelperOne, helperAddr{Route: interfaces.RouteQueryInput, QueryID: queryID}, streams.FromBytes([]byte{1, 2, 3, 4}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.transports[1].StreamCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	for _, id := range interfaces.AllHelpers() {
		resp, err := n.dispatch(id, helperAddr{Route: interfaces.RouteKillQuery, QueryID: queryID}, nil)
		require.NoError(t, err)
		var killed interfaces.KillQueryResponse
		require.NoError(t, json.Unmarshal(resp.Body, &killed))
		assert.True(t, killed.Killed)
	}

	for i, tr := range n.transports {
		assert.Equal(t, transport.PhaseIdle, tr.Phase())
		assert.Equal(t, 0, tr.StreamCount())
		_, running := n.processors[i].Running()
		assert.False(t, running)
	}

	_, err = n.dispatch(interfaces.HelperOne, helperAddr{Route: interfaces.RouteKillQuery, QueryID: queryID}, nil)
	assert.Equal(t, http.StatusNotFound, interfaces.StatusCode(err))

	// the ring accepts a new query afterwards
	n.createQuery(t, interfaces.HelperTwo, 4)
}

func TestCompleteWithoutInput(t *testing.T) {
	n := newMemNetwork(t)
	queryID := n.createQuery(t, interfaces.HelperOne, 4)

	_, err := n.dispatch(interfaces.HelperTwo, helperAddr{Route: interfaces.RouteCompleteQuery, QueryID: queryID}, nil)
	assert.Equal(t, http.StatusConflict, interfaces.StatusCode(err))

	assert.Equal(t, transport.PhaseIdle, n.transports[1].Phase())
	_, running := n.processors[1].Running()
	assert.False(t, running)
}

func TestPrepareQueryChecks(t *testing.T) {
	p := NewProcessor(interfaces.HelperTwo, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	prepare := interfaces.PrepareQuery{
		QueryID: interfaces.NewQueryID(),
		Config:  interfaces.QueryConfig{QueryType: interfaces.QueryTypeRelay, RecordSize: 4},
		Roles:   interfaces.AllHelpers(),
	}
	params, err := json.Marshal(prepare)
	require.NoError(t, err)

	leader, other := interfaces.HelperOne, interfaces.HelperThree
	tests := []struct {
		name   string
		addr   helperAddr
		status int
	}{
		{"not from a peer", helperAddr{Route: interfaces.RoutePrepareQuery, QueryID: prepare.QueryID, Params: params}, http.StatusUnauthorized},
		{"not from the leader", helperAddr{Route: interfaces.RoutePrepareQuery, Origin: &other, QueryID: prepare.QueryID, Params: params}, http.StatusForbidden},
		{"query id mismatch", helperAddr{Route: interfaces.RoutePrepareQuery, Origin: &leader, QueryID: interfaces.NewQueryID(), Params: params}, http.StatusBadRequest},
		{"malformed payload", helperAddr{Route: interfaces.RoutePrepareQuery, Origin: &leader, QueryID: prepare.QueryID, Params: []byte(`{`)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Handle(context.Background(), tt.addr, streams.Empty())
			require.Error(t, err)
			assert.Equal(t, tt.status, interfaces.StatusCode(err))
		})
	}

	_, err = p.Handle(context.Background(), helperAddr{Route: interfaces.RoutePrepareQuery, Origin: &leader, QueryID: prepare.QueryID, Params: params}, streams.Empty())
	require.NoError(t, err)
	running, ok := p.Running()
	require.True(t, ok)
	assert.Equal(t, prepare.QueryID, running)
}

func TestShardHandlerRefusesQueries(t *testing.T) {
	h := NewShardHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr := transport.NewShard(0, nil, h, nil, nil)

	prepare := interfaces.PrepareQuery{
		QueryID: interfaces.NewQueryID(),
		Config:  interfaces.QueryConfig{QueryType: interfaces.QueryTypeRelay, RecordSize: 4},
		Roles:   interfaces.AllHelpers(),
	}
	route, err := interfaces.PrepareQueryRoute(prepare)
	require.NoError(t, err)
	origin := interfaces.ShardIndex(1)

	_, err = tr.Dispatch(context.Background(), interfaces.Addr[interfaces.ShardIndex]{
		Route: interfaces.RoutePrepareQuery, Origin: &origin, QueryID: prepare.QueryID, Params: route.Params,
	}, nil)
	assert.Equal(t, http.StatusNotImplemented, interfaces.StatusCode(err))
	assert.Equal(t, transport.PhaseIdle, tr.Phase())
}
