package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/mpc-helper/api"
	"github.com/ruteri/mpc-helper/gate"
	"github.com/ruteri/mpc-helper/interfaces"
	"github.com/ruteri/mpc-helper/streams"
	"github.com/ruteri/mpc-helper/transport"
)

var relayGate = gate.Root().Narrow(gate.Named("relay"))

// setupRingServer creates H1's transport behind a ring router.
func setupRingServer(t *testing.T) (*httptest.Server, *transport.MpcTransport, *transport.MockRequestHandler[interfaces.HelperIdentity]) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := new(transport.MockRequestHandler[interfaces.HelperIdentity])
	tr := transport.NewMpc(interfaces.HelperOne, [3]interfaces.PeerClient{}, handler, logger, nil)

	r := chi.NewRouter()
	NewRingHandler(tr, HelperIdentifier(nil, true), logger).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, tr, handler
}

func doRequest(t *testing.T, method, url, origin string, body []byte) (int, []byte, http.Header) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if origin != "" {
		req.Header.Set(api.OriginHeader, origin)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, respBody, resp.Header
}

func TestStepDeliversStream(t *testing.T) {
	srv, tr, _ := setupRingServer(t)
	queryID := interfaces.NewQueryID()

	received := make(chan []byte, 1)
	rx := tr.Receive(interfaces.HelperTwo, queryID, relayGate)
	go func() {
		data, err := streams.ReadAll(context.Background(), rx)
		assert.NoError(t, err)
		received <- data
	}()

	status, _, _ := doRequest(t, http.MethodPost, srv.URL+api.StepPath(queryID, relayGate), "H2", []byte{0, 1, 2, 3, 255, 254, 253, 252})
	assert.Equal(t, http.StatusOK, status)

	select {
	case data := <-received:
		assert.Equal(t, []byte{0, 1, 2, 3, 255, 254, 253, 252}, data)
	case <-time.After(5 * time.Second):
		t.Fatal("stream was not delivered")
	}
	assert.Equal(t, uint64(8), tr.Stats().BytesReceived)
}

func TestStepRequiresOrigin(t *testing.T) {
	srv, tr, _ := setupRingServer(t)
	queryID := interfaces.NewQueryID()

	status, _, _ := doRequest(t, http.MethodPost, srv.URL+api.StepPath(queryID, relayGate), "", []byte{1})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _, _ = doRequest(t, http.MethodPost, srv.URL+api.StepPath(queryID, relayGate), "H7", []byte{1})
	assert.Equal(t, http.StatusUnauthorized, status)

	assert.Equal(t, 0, tr.StreamCount())
}

func TestStepInvalidPath(t *testing.T) {
	srv, _, _ := setupRingServer(t)

	status, _, _ := doRequest(t, http.MethodPost, srv.URL+"/query/not-a-uuid/step/protocol/relay", "H2", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _, _ = doRequest(t, http.MethodPost, srv.URL+api.QueryPath(interfaces.NewQueryID())+"/step/protocol//relay", "H2", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStepDuplicateStream(t *testing.T) {
	srv, tr, _ := setupRingServer(t)
	queryID := interfaces.NewQueryID()

	require.NoError(t, tr.ReceiveStream(queryID, relayGate, interfaces.HelperTwo, streams.FromBytes([]byte{1})))

	status, body, _ := doRequest(t, http.MethodPost, srv.URL+api.StepPath(queryID, relayGate), "H2", []byte{2})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(body), interfaces.ErrDuplicateStream.Error())
}

func TestStepDroppedOnKill(t *testing.T) {
	srv, tr, handler := setupRingServer(t)
	queryID := interfaces.NewQueryID()
	handler.On("Handle", mock.Anything, mock.MatchedBy(func(a interfaces.Addr[interfaces.HelperIdentity]) bool {
		return a.Route == interfaces.RouteKillQuery
	}), mock.Anything).Return(interfaces.OKResponse(), nil)

	statusCh := make(chan int, 1)
	go func() {
		status, _, _ := doRequest(t, http.MethodPost, srv.URL+api.StepPath(queryID, relayGate), "H3", []byte{1, 2, 3})
		statusCh <- status
	}()
	require.Eventually(t, func() bool { return tr.StreamCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	status, _, _ := doRequest(t, http.MethodPost, srv.URL+api.KillQueryPath(queryID), "", nil)
	assert.Equal(t, http.StatusOK, status)

	select {
	case status := <-statusCh:
		assert.Equal(t, http.StatusGone, status)
	case <-time.After(5 * time.Second):
		t.Fatal("step request was not released")
	}
	assert.Equal(t, 0, tr.StreamCount())
}

func TestCreateQuery(t *testing.T) {
	srv, _, handler := setupRingServer(t)
	queryID := interfaces.NewQueryID()
	cfg := interfaces.QueryConfig{QueryType: interfaces.QueryTypeRelay, RecordSize: 4}

	resp, err := interfaces.JSONResponse(interfaces.CreateQueryResponse{QueryID: queryID})
	require.NoError(t, err)
	handler.On("Handle", mock.Anything, mock.MatchedBy(func(a interfaces.Addr[interfaces.HelperIdentity]) bool {
		var got interfaces.QueryConfig
		return a.Route == interfaces.RouteReceiveQuery && a.Origin == nil &&
			json.Unmarshal(a.Params, &got) == nil && got == cfg
	}), mock.Anything).Return(resp, nil).Once()

	reqBody, err := json.Marshal(cfg)
	require.NoError(t, err)
	status, body, header := doRequest(t, http.MethodPost, srv.URL+api.CreateQueryPath(), "", reqBody)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, interfaces.ContentTypeJSON, header.Get("Content-Type"))

	var created interfaces.CreateQueryResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, queryID, created.QueryID)
	handler.AssertExpectations(t)
}

func TestCreateQueryInvalidJSON(t *testing.T) {
	srv, _, handler := setupRingServer(t)

	status, _, _ := doRequest(t, http.MethodPost, srv.URL+api.CreateQueryPath(), "", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, status)
	handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateQueryWhileActive(t *testing.T) {
	srv, _, handler := setupRingServer(t)
	handler.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(interfaces.OKResponse(), nil).Once()

	body := []byte(`{"query_type":"relay","record_size":4}`)
	status, _, _ := doRequest(t, http.MethodPost, srv.URL+api.CreateQueryPath(), "", body)
	require.Equal(t, http.StatusOK, status)

	status, _, _ = doRequest(t, http.MethodPost, srv.URL+api.CreateQueryPath(), "", body)
	assert.Equal(t, http.StatusConflict, status)
	handler.AssertNumberOfCalls(t, "Handle", 1)
}

func TestPrepareQueryRoute(t *testing.T) {
	srv, _, handler := setupRingServer(t)
	prepare := interfaces.PrepareQuery{
		QueryID: interfaces.NewQueryID(),
		Config:  interfaces.QueryConfig{QueryType: interfaces.QueryTypeRelay, RecordSize: 4},
		Roles:   [3]interfaces.HelperIdentity{interfaces.HelperTwo, interfaces.HelperThree, interfaces.HelperOne},
	}
	handler.On("Handle", mock.Anything, mock.MatchedBy(func(a interfaces.Addr[interfaces.HelperIdentity]) bool {
		return a.Route == interfaces.RoutePrepareQuery && a.FromPeer() &&
			*a.Origin == interfaces.HelperTwo && a.QueryID == prepare.QueryID
	}), mock.Anything).Return(interfaces.OKResponse(), nil).Once()

	reqBody, err := json.Marshal(prepare)
	require.NoError(t, err)

	status, _, _ := doRequest(t, http.MethodPost, srv.URL+api.QueryPath(prepare.QueryID), "", reqBody)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _, _ = doRequest(t, http.MethodPost, srv.URL+api.QueryPath(prepare.QueryID), "H2", reqBody)
	assert.Equal(t, http.StatusOK, status)
	handler.AssertExpectations(t)
}

func TestQueryRouteErrors(t *testing.T) {
	srv, _, handler := setupRingServer(t)
	queryID := interfaces.NewQueryID()
	handler.On("Handle", mock.Anything, mock.MatchedBy(func(a interfaces.Addr[interfaces.HelperIdentity]) bool {
		return a.Route == interfaces.RouteQueryStatus
	}), mock.Anything).Return(nil, interfaces.ErrQueryNotFound)

	status, _, _ := doRequest(t, http.MethodGet, srv.URL+api.QueryPath(queryID), "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _, _ = doRequest(t, http.MethodGet, srv.URL+"/query/bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestQueryInputBody(t *testing.T) {
	srv, _, handler := setupRingServer(t)
	queryID := interfaces.NewQueryID()

	var input []byte
	handler.On("Handle", mock.Anything, mock.MatchedBy(func(a interfaces.Addr[interfaces.HelperIdentity]) bool {
		return a.Route == interfaces.RouteQueryInput && a.QueryID == queryID
	}), mock.Anything).Run(func(args mock.Arguments) {
		data, err := streams.ReadAll(context.Background(), args.Get(2).(interfaces.BodyStream))
		assert.NoError(t, err)
		input = data
	}).Return(interfaces.OKResponse(), nil)

	status, _, _ := doRequest(t, http.MethodPost, srv.URL+api.QueryInputPath(queryID), "", []byte("abcdefgh"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []byte("abcdefgh"), input)
}

func TestEcho(t *testing.T) {
	srv, _, _ := setupRingServer(t)

	status, body, _ := doRequest(t, http.MethodGet, srv.URL+api.EchoPath+"?foo=bar", "H3", nil)
	require.Equal(t, http.StatusOK, status)

	var echo api.EchoResponse
	require.NoError(t, json.Unmarshal(body, &echo))
	assert.Equal(t, "bar", echo.QueryParams["foo"])
	assert.Equal(t, "H3", echo.Headers[api.OriginHeader])
	assert.Equal(t, "H3", echo.Origin)
}

func TestShardHandlerServesPeerRoutesOnly(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := new(transport.MockRequestHandler[interfaces.ShardIndex])
	tr := transport.NewShard(0, nil, handler, logger, nil)

	r := chi.NewRouter()
	NewShardHandler(tr, ShardIdentifier(nil, true), logger).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	status, _, _ := doRequest(t, http.MethodPost, srv.URL+api.CreateQueryPath(), "", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, status)

	queryID := interfaces.NewQueryID()
	received := make(chan []byte, 1)
	go func() {
		data, err := streams.ReadAll(context.Background(), tr.Receive(2, queryID, relayGate))
		assert.NoError(t, err)
		received <- data
	}()
	status, _, _ = doRequest(t, http.MethodPost, srv.URL+api.StepPath(queryID, relayGate), "S2", []byte{7})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []byte{7}, <-received)
}

func TestIdentifyIgnoresUntrustedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(api.OriginHeader, "H2")

	_, ok, err := HelperIdentifier(nil, false).Identify(req)
	require.NoError(t, err)
	assert.False(t, ok)

	id, ok, err := HelperIdentifier(nil, true).Identify(req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, interfaces.HelperTwo, id)
}

func TestStepDuplicateAfterConsume(t *testing.T) {
	srv, tr, _ := setupRingServer(t)
	queryID := interfaces.NewQueryID()
	url := srv.URL + api.StepPath(queryID, relayGate)

	received := make(chan []byte, 1)
	rx := tr.Receive(interfaces.HelperTwo, queryID, relayGate)
	go func() {
		data, err := streams.ReadAll(context.Background(), rx)
		assert.NoError(t, err)
		received <- data
	}()

	status, _, _ := doRequest(t, http.MethodPost, url, "H2", []byte{1, 2})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []byte{1, 2}, <-received)

	status, body, _ := doRequest(t, http.MethodPost, url, "H2", []byte{3, 4})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(body), interfaces.ErrDuplicateStream.Error())
	assert.Equal(t, 0, tr.StreamCount())
}

func TestStepWithdrawnWhenPeerGoesAway(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := transport.NewMpc(interfaces.HelperOne, [3]interfaces.PeerClient{}, nil, logger, nil)
	r := chi.NewRouter()
	NewRingHandler(tr, HelperIdentifier(nil, true), logger).RegisterRoutes(r)

	queryID := interfaces.NewQueryID()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, api.StepPath(queryID, relayGate), bytes.NewReader([]byte{1, 2, 3})).WithContext(ctx)
	req.Header.Set(api.OriginHeader, "H3")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 0, tr.StreamCount())

	// the peer can send the same records again
	body := []byte{4, 5, 6}
	require.NoError(t, tr.ReceiveStream(queryID, relayGate, interfaces.HelperThree, streams.FromBytes(body)))
	data, err := streams.ReadAll(context.Background(), tr.Receive(interfaces.HelperThree, queryID, relayGate))
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestCreateQueryBodyTooLarge(t *testing.T) {
	srv, _, handler := setupRingServer(t)

	status, body, _ := doRequest(t, http.MethodPost, srv.URL+api.CreateQueryPath(), "", bytes.Repeat([]byte(" "), maxControlBodySize+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Contains(t, string(body), "exceeds")
	handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything)
}
