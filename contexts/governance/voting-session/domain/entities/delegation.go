package entities

import (
	"sort"

	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
)

// DelegationGraph maps a delegator to the single delegate currently holding
// its vote.
type DelegationGraph map[Identity]Identity

// Delegation is one delegator -> delegate edge.
type Delegation struct {
	Delegator Identity
	Delegate  Identity
}

func (g DelegationGraph) DelegateOf(delegator Identity) (Identity, bool) {
	delegate, ok := g[delegator]
	return delegate, ok
}

// WouldCycle reports whether adding delegator -> delegate closes a cycle, by
// walking existing edges from delegate and checking if delegator is reached.
// The walk is bounded by the edge count; overrunning it means the graph
// already holds a cycle.
func (g DelegationGraph) WouldCycle(delegator Identity, delegate Identity) (bool, error) {
	current := delegate
	for steps := 0; steps <= len(g); steps++ {
		if current == delegator {
			return true, nil
		}
		next, ok := g[current]
		if !ok {
			return false, nil
		}
		current = next
	}
	return false, domainerrors.ErrInternalInconsistency
}

// PointingAt lists delegators whose delegate is target, in lexical order.
func (g DelegationGraph) PointingAt(target Identity) []Identity {
	items := make([]Identity, 0)
	for delegator, delegate := range g {
		if delegate == target {
			items = append(items, delegator)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return items
}

// Edges returns all edges ordered by delegator.
func (g DelegationGraph) Edges() []Delegation {
	items := make([]Delegation, 0, len(g))
	for delegator, delegate := range g {
		items = append(items, Delegation{Delegator: delegator, Delegate: delegate})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Delegator < items[j].Delegator })
	return items
}

func (g DelegationGraph) Clone() DelegationGraph {
	out := make(DelegationGraph, len(g))
	for delegator, delegate := range g {
		out[delegator] = delegate
	}
	return out
}
