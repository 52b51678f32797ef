package interfaces

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidIdentity = errors.New("invalid identity")

// TransportIdentity is implemented by the identity types a transport can address.
// Identities are small comparable values usable as map keys.
type TransportIdentity interface {
	comparable
	fmt.Stringer

	// AsIndex returns the zero-based position of the identity in its network configuration.
	AsIndex() int
}

// HelperIdentity names one of the three helpers of an MPC ring.
type HelperIdentity uint8

const (
	HelperOne HelperIdentity = iota + 1
	HelperTwo
	HelperThree
)

// AllHelpers returns the three helper identities in ring order.
func AllHelpers() [3]HelperIdentity {
	return [3]HelperIdentity{HelperOne, HelperTwo, HelperThree}
}

// NewHelperIdentity validates a 1-based helper number.
func NewHelperIdentity(id int) (HelperIdentity, error) {
	if id < 1 || id > 3 {
		return 0, fmt.Errorf("%w: helper identity must be 1, 2 or 3, got %d", ErrInvalidIdentity, id)
	}
	return HelperIdentity(id), nil
}

// ParseHelperIdentity accepts both "2" and "H2".
func ParseHelperIdentity(s string) (HelperIdentity, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "H"))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return NewHelperIdentity(n)
}

func (h HelperIdentity) Valid() bool { return h >= HelperOne && h <= HelperThree }

func (h HelperIdentity) AsIndex() int { return int(h) - 1 }

func (h HelperIdentity) String() string { return "H" + strconv.Itoa(int(h)) }

// Next returns the helper to the right of h on the ring.
func (h HelperIdentity) Next() HelperIdentity {
	return HelperIdentity(h%3 + 1)
}

// Prev returns the helper to the left of h on the ring.
func (h HelperIdentity) Prev() HelperIdentity {
	return HelperIdentity((h+1)%3 + 1)
}

func (h HelperIdentity) MarshalText() ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIdentity, uint8(h))
	}
	return []byte(h.String()), nil
}

func (h *HelperIdentity) UnmarshalText(text []byte) error {
	parsed, err := ParseHelperIdentity(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ShardIndex names one shard among the shards run by the same helper.
type ShardIndex uint32

func (s ShardIndex) AsIndex() int { return int(s) }

func (s ShardIndex) String() string { return "S" + strconv.FormatUint(uint64(s), 10) }

// ParseShardIndex accepts both "4" and "S4".
func ParseShardIndex(s string) (ShardIndex, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "S"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return ShardIndex(n), nil
}

// ShardRange returns the shard indices [0, count).
func ShardRange(count ShardIndex) []ShardIndex {
	out := make([]ShardIndex, 0, count)
	for i := ShardIndex(0); i < count; i++ {
		out = append(out, i)
	}
	return out
}
