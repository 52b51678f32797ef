// Package gate implements the hierarchical step namespace that keys every
// data-plane exchange between parties.
//
// A gate is built by narrowing the root gate with sub-protocol discriminators:
//
//	g := gate.Root().Narrow(gate.Named("sort")).Narrow(gate.Bit(3)).Narrow(gate.Named("shuffle"))
//	g.String() // "protocol/sort/bit3/shuffle"
//
// Narrowing is a pure function of the parent and the step, so every party that
// executes the same protocol logic derives the same gate for corresponding
// exchanges without talking to the others.
package gate
