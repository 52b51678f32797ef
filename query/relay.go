package query

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ruteri/mpc-helper/gate"
	"github.com/ruteri/mpc-helper/interfaces"
	"github.com/ruteri/mpc-helper/streams"
)

// RelayGate carries the records of the relay protocol.
var RelayGate = gate.Root().Narrow(gate.Named("relay"))

// Relay sends this helper's records to the next helper in the query's role
// order and returns the records received from the previous one.
func Relay(ctx context.Context, t Transport, prepare interfaces.PrepareQuery, self interfaces.HelperIdentity, records [][]byte) ([]byte, error) {
	role := prepare.RoleOf(self)
	if role < 0 {
		return nil, fmt.Errorf("%w: %s has no role in query %s", interfaces.ErrInvalidIdentity, self, prepare.QueryID)
	}
	next := prepare.Roles[(role+1)%3]
	prev := prepare.Roles[(role+2)%3]

	var output bytes.Buffer
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.Send(ctx, next, interfaces.RecordsRoute(prepare.QueryID, RelayGate), streams.FromBytes(records...))
	})
	g.Go(func() error {
		rx := t.Receive(prev, prepare.QueryID, RelayGate)
		defer rx.Close()

		received, err := streams.NewRecordReader(rx, prepare.Config.RecordSize).ReadRecords(ctx)
		if err != nil {
			return fmt.Errorf("receiving from %s: %w", prev, err)
		}
		for _, record := range received {
			output.Write(record)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return output.Bytes(), nil
}
