package interfaces

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// QueryID identifies one query execution across all helpers.
type QueryID string

// NewQueryID returns a fresh random query identifier.
func NewQueryID() QueryID {
	return QueryID(uuid.NewString())
}

// ParseQueryID validates an identifier received over the wire.
func ParseQueryID(s string) (QueryID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid query id %q: %w", s, err)
	}
	return QueryID(s), nil
}

func (q QueryID) String() string { return string(q) }

// RecordID is the position of a record within a stream.
type RecordID uint32

// QueryType selects the protocol a query runs.
type QueryType string

const (
	// QueryTypeRelay passes every helper's input records to the next helper on the ring.
	QueryTypeRelay QueryType = "relay"
)

// MaxRecordSize bounds the record size a query may declare.
const MaxRecordSize = 1 << 20

var (
	ErrUnknownQueryType  = errors.New("unknown query type")
	ErrInvalidRecordSize = errors.New("invalid record size")
)

// QueryConfig is submitted by a report collector when creating a query.
type QueryConfig struct {
	QueryType  QueryType `json:"query_type"`
	RecordSize int       `json:"record_size"`
}

func (c QueryConfig) Validate() error {
	switch c.QueryType {
	case QueryTypeRelay:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQueryType, c.QueryType)
	}
	if c.RecordSize <= 0 || c.RecordSize > MaxRecordSize {
		return fmt.Errorf("%w: %d", ErrInvalidRecordSize, c.RecordSize)
	}
	return nil
}

// PrepareQuery is sent by the leader helper to its peers so that all three helpers
// agree on the query identifier, configuration and role assignment before inputs arrive.
type PrepareQuery struct {
	QueryID QueryID           `json:"query_id"`
	Config  QueryConfig       `json:"config"`
	Roles   [3]HelperIdentity `json:"roles"`
}

// RoleOf returns the position of helper in the role assignment, or -1.
func (p PrepareQuery) RoleOf(helper HelperIdentity) int {
	for i, h := range p.Roles {
		if h == helper {
			return i
		}
	}
	return -1
}

// Validate checks the configuration and that roles are a permutation of the three helpers.
func (p PrepareQuery) Validate() error {
	if _, err := ParseQueryID(string(p.QueryID)); err != nil {
		return err
	}
	if err := p.Config.Validate(); err != nil {
		return err
	}
	for _, h := range AllHelpers() {
		if p.RoleOf(h) < 0 {
			return fmt.Errorf("%w: roles %v do not include %s", ErrInvalidIdentity, p.Roles, h)
		}
	}
	return nil
}

// QueryStatus is the lifecycle state of a query as seen by one helper.
type QueryStatus string

const (
	QueryStatusPreparing      QueryStatus = "preparing"
	QueryStatusAwaitingInputs QueryStatus = "awaiting_inputs"
	QueryStatusRunning        QueryStatus = "running"
	QueryStatusCompleted      QueryStatus = "completed"
	QueryStatusFailed         QueryStatus = "failed"
)

// CreateQueryResponse is returned by the leader helper once peers are prepared.
type CreateQueryResponse struct {
	QueryID QueryID `json:"query_id"`
}

type QueryStatusResponse struct {
	QueryID QueryID     `json:"query_id"`
	Status  QueryStatus `json:"status"`
}

type KillQueryResponse struct {
	QueryID QueryID `json:"query_id"`
	Killed  bool    `json:"killed"`
}
