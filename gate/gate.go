package gate

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Separator joins the narrowing steps of a gate.
	Separator = "/"

	// RootName is the name of the gate every protocol starts from.
	RootName = "protocol"
)

var (
	ErrEmptyGate    = errors.New("gate: empty gate")
	ErrEmptySegment = errors.New("gate: empty step segment")
)

// Step is a sub-protocol-local discriminator used to narrow a gate.
// Protocol code usually declares steps as string or integer enums with a String method.
type Step interface {
	String() string
}

// Named is the simplest Step: its name is used verbatim.
type Named string

func (n Named) String() string { return string(n) }

// Indexed discriminates one of several parallel instances of the same sub-protocol,
// for example the i-th bit of a bit decomposition ("bit3").
type Indexed struct {
	Name  string
	Index int
}

func (i Indexed) String() string { return fmt.Sprintf("%s%d", i.Name, i.Index) }

// Bit returns the Indexed step "bit<i>".
func Bit(i int) Indexed { return Indexed{Name: "bit", Index: i} }

// Gate is an immutable hierarchical step name. Two parties narrowing the same gate
// with the same sequence of steps always obtain equal gates, which is what lets a
// receiver find a sender's stream without a naming handshake.
//
// The zero Gate means "no gate" and is never produced by narrowing.
type Gate struct {
	name string
}

// Root returns the gate every protocol execution starts from.
func Root() Gate {
	return Gate{name: RootName}
}

// New creates a gate from a literal path. It panics on malformed paths; use Parse for
// untrusted input.
func New(path string) Gate {
	g, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return g
}

// Parse validates a textual gate path, as produced by String, and returns the gate.
func Parse(path string) (Gate, error) {
	path = strings.Trim(path, Separator)
	if path == "" {
		return Gate{}, ErrEmptyGate
	}
	for _, segment := range strings.Split(path, Separator) {
		if segment == "" {
			return Gate{}, fmt.Errorf("%w in %q", ErrEmptySegment, path)
		}
	}
	return Gate{name: path}, nil
}

// Narrow returns the child gate for step. Narrowing the zero gate starts from Root.
// A step whose name is empty or contains the separator is a programming error.
func (g Gate) Narrow(step Step) Gate {
	s := step.String()
	if s == "" || strings.Contains(s, Separator) {
		panic(fmt.Sprintf("gate: invalid step name %q", s))
	}
	if g.IsZero() {
		g = Root()
	}
	return Gate{name: g.name + Separator + s}
}

// NarrowAll narrows g by every step in order.
func (g Gate) NarrowAll(steps ...Step) Gate {
	for _, s := range steps {
		g = g.Narrow(s)
	}
	return g
}

func (g Gate) IsZero() bool { return g.name == "" }

func (g Gate) String() string { return g.name }

// Segments returns the individual steps of the gate, root first.
func (g Gate) Segments() []string {
	if g.IsZero() {
		return nil
	}
	return strings.Split(g.name, Separator)
}

// Depth is the number of narrowings applied to the root.
func (g Gate) Depth() int {
	return len(g.Segments()) - 1
}

// HasPrefix reports whether g was obtained by narrowing parent.
func (g Gate) HasPrefix(parent Gate) bool {
	if parent.IsZero() {
		return true
	}
	return g.name == parent.name || strings.HasPrefix(g.name, parent.name+Separator)
}

func (g Gate) MarshalText() ([]byte, error) {
	return []byte(g.name), nil
}

func (g *Gate) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*g = Gate{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
