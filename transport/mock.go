package transport

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ruteri/mpc-helper/gate"
	"github.com/ruteri/mpc-helper/interfaces"
)

// MockPeerClient is a mock implementation of interfaces.PeerClient.
type MockPeerClient struct {
	mock.Mock
}

func (m *MockPeerClient) Step(ctx context.Context, queryID interfaces.QueryID, g gate.Gate, data interfaces.BodyStream) error {
	args := m.Called(ctx, queryID, g, data)
	return args.Error(0)
}

func (m *MockPeerClient) PrepareQuery(ctx context.Context, req interfaces.PrepareQuery) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// MockRequestHandler is a mock implementation of interfaces.RequestHandler.
type MockRequestHandler[I interfaces.TransportIdentity] struct {
	mock.Mock
}

func (m *MockRequestHandler[I]) Handle(ctx context.Context, req interfaces.Addr[I], body interfaces.BodyStream) (*interfaces.HelperResponse, error) {
	args := m.Called(ctx, req, body)
	if resp := args.Get(0); resp != nil {
		return resp.(*interfaces.HelperResponse), args.Error(1)
	}
	return nil, args.Error(1)
}
