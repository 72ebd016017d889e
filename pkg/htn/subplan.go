package htn

import (
	"fmt"
	"math/big"
	"strings"
)

// Subplan is a grounded (sub)plan: a task instance, the span of plan
// positions it covers, its propagated timeline and the method applications
// that produced it.
type Subplan struct {
	Task      Term
	Start     float64
	End       float64
	Timeline  []Slot
	History   []*RuleInstance
	Consumed  *big.Int
	Iteration int

	// Rule is the method application at the root of this subplan; nil for
	// a primitive action.
	Rule     *RuleInstance
	Children []*Subplan

	// own holds the unpropagated conditions; enclosing subplans merge these
	// so that conditions derived in one child never mask another child's
	// effects.
	own []Slot
	// lead holds effects of leading empty methods, which take hold before
	// own[0].
	lead Slot
}

// Span returns the covered interval.
func (s *Subplan) Span() Span {
	return Span{Start: s.Start, End: s.End}
}

// Primitive reports whether the subplan is a single action.
func (s *Subplan) Primitive() bool {
	return s.Rule == nil
}

// ConsumesObserved reports whether observed action i is part of the subplan.
func (s *Subplan) ConsumesObserved(i int) bool {
	return s.Consumed != nil && s.Consumed.Bit(i) == 1
}

// Actions returns the grounded actions in plan order.
func (s *Subplan) Actions() []Term {
	slots := s.own
	if slots == nil {
		slots = s.Timeline
	}
	var out []Term
	for _, sl := range slots {
		if sl.Action != nil {
			out = append(out, sl.Action.Clone())
		}
	}
	return out
}

// seed returns the start slot for validating the subplan against state.
func (s *Subplan) seed(state []Term) Slot {
	return SeedSlot(state, s.lead, s.own)
}

// Valid reports whether every timeline slot is contradiction free.
func (s *Subplan) Valid() bool {
	return CheckValidity(s.Timeline)
}

// OwnTimeline returns the unpropagated conditions of each slot.
func (s *Subplan) OwnTimeline() []Slot {
	out := make([]Slot, len(s.own))
	for i, sl := range s.own {
		out[i] = sl.Clone()
	}
	return out
}

// Tree renders the derivation tree, one node per line.
func (s *Subplan) Tree() string {
	var b strings.Builder
	s.writeTree(&b, 0)
	return b.String()
}

func (s *Subplan) writeTree(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	if s.Rule != nil {
		fmt.Fprintf(b, "%s [%s] %s\n", s.Task, s.Rule.Rule, formatSpan(s.Span()))
	} else {
		fmt.Fprintf(b, "%s %s\n", s.Task, formatSpan(s.Span()))
	}
	for _, c := range s.Children {
		c.writeTree(b, depth+1)
	}
}

func formatSpan(sp Span) string {
	return fmt.Sprintf("[%g,%g]", sp.Start, sp.End)
}

// newPrimitiveSubplan builds the one-slot subplan of a ground action at pos.
// observed is the index of the consumed observed action, or -1.
func newPrimitiveSubplan(a *ActionType, action Term, pos, observed, iteration int) *Subplan {
	own := []Slot{ActionSlot(a, action)}
	consumed := new(big.Int)
	if observed >= 0 {
		consumed.SetBit(consumed, observed, 1)
	}
	return &Subplan{
		Task:      action.Clone(),
		Start:     float64(pos),
		End:       float64(pos),
		Timeline:  Propagate(NewSlot(), own),
		Consumed:  consumed,
		Iteration: iteration,
		own:       own,
	}
}

// historyUnion merges histories, deduplicating by structural string.
func historyUnion(parts ...[]*RuleInstance) []*RuleInstance {
	seen := make(map[string]bool)
	var out []*RuleInstance
	for _, p := range parts {
		for _, ri := range p {
			k := ri.String()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, ri)
		}
	}
	return out
}
