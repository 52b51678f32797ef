package interfaces

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelperIdentityRing(t *testing.T) {
	for _, h := range AllHelpers() {
		assert.True(t, h.Valid())
		assert.Equal(t, h, h.Next().Prev())
		assert.Equal(t, h, h.Next().Next().Next())
		assert.NotEqual(t, h, h.Next())
	}
	assert.Equal(t, HelperTwo, HelperOne.Next())
	assert.Equal(t, HelperOne, HelperThree.Next())
	assert.Equal(t, HelperThree, HelperOne.Prev())
	assert.Equal(t, 0, HelperOne.AsIndex())
	assert.Equal(t, 2, HelperThree.AsIndex())
}

func TestParseIdentities(t *testing.T) {
	h, err := ParseHelperIdentity("H2")
	require.NoError(t, err)
	assert.Equal(t, HelperTwo, h)

	h, err = ParseHelperIdentity("3")
	require.NoError(t, err)
	assert.Equal(t, HelperThree, h)

	_, err = ParseHelperIdentity("4")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
	_, err = ParseHelperIdentity("helper")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	s, err := ParseShardIndex("S7")
	require.NoError(t, err)
	assert.Equal(t, ShardIndex(7), s)
	assert.Equal(t, "S7", s.String())
	assert.Equal(t, []ShardIndex{0, 1, 2}, ShardRange(3))
}

func TestPrepareQueryJSON(t *testing.T) {
	req := PrepareQuery{
		QueryID: NewQueryID(),
		Config:  QueryConfig{QueryType: QueryTypeRelay, RecordSize: 4},
		Roles:   [3]HelperIdentity{HelperTwo, HelperThree, HelperOne},
	}
	require.NoError(t, req.Validate())

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"roles":["H2","H3","H1"]`)

	var decoded PrepareQuery
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req, decoded)
	assert.Equal(t, 2, decoded.RoleOf(HelperOne))

	req.Roles = [3]HelperIdentity{HelperOne, HelperOne, HelperTwo}
	assert.ErrorIs(t, req.Validate(), ErrInvalidIdentity)
}

func TestQueryConfigValidate(t *testing.T) {
	assert.NoError(t, QueryConfig{QueryType: QueryTypeRelay, RecordSize: 8}.Validate())
	assert.ErrorIs(t, QueryConfig{QueryType: "sort", RecordSize: 8}.Validate(), ErrUnknownQueryType)
	assert.ErrorIs(t, QueryConfig{QueryType: QueryTypeRelay}.Validate(), ErrInvalidRecordSize)
}

func TestRouteClassification(t *testing.T) {
	clientOnly := []RouteID{RouteReceiveQuery, RouteQueryInput, RouteQueryStatus, RouteCompleteQuery, RouteKillQuery}
	for _, r := range clientOnly {
		assert.True(t, r.ClientOnly(), r.String())
	}
	assert.False(t, RouteRecords.ClientOnly())
	assert.False(t, RoutePrepareQuery.ClientOnly())
	assert.True(t, RouteKillQuery.EndsQuery())
	assert.False(t, RouteQueryInput.EndsQuery())
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusCode(nil))
	assert.Equal(t, http.StatusConflict, StatusCode(fmt.Errorf("wrap: %w", ErrDuplicateStream)))
	assert.Equal(t, http.StatusGone, StatusCode(ErrStreamsCleared))
	assert.Equal(t, http.StatusNotFound, StatusCode(ErrQueryNotFound))
	assert.Equal(t, http.StatusBadRequest, StatusCode(&SerializationError{Route: RoutePrepareQuery, Err: fmt.Errorf("bad")}))
	assert.Equal(t, http.StatusTeapot, StatusCode(NewRequestError(http.StatusTeapot, "nope")))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(&RoutingError{Route: RouteKillQuery, Err: ErrClientOnlyRoute}))
}
