package htn

import (
	"sort"
	"strings"
)

// TermSet is an unordered set of terms keyed by their canonical string.
// Iteration through Sorted is deterministic.
type TermSet map[string]Term

// NewTermSet builds a set from terms.
func NewTermSet(terms ...Term) TermSet {
	s := make(TermSet, len(terms))
	for _, t := range terms {
		s.Add(t)
	}
	return s
}

// Add inserts t.
func (s TermSet) Add(t Term) {
	s[t.Key()] = t
}

// Has reports membership.
func (s TermSet) Has(t Term) bool {
	_, ok := s[t.Key()]
	return ok
}

// Clone returns an independent copy. A nil set clones to an empty set.
func (s TermSet) Clone() TermSet {
	out := make(TermSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Union adds every member of other.
func (s TermSet) Union(other TermSet) {
	for k, v := range other {
		s[k] = v
	}
}

// Minus returns s without the members of other.
func (s TermSet) Minus(other TermSet) TermSet {
	out := make(TermSet, len(s))
	for k, v := range s {
		if _, ok := other[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// Intersects reports whether s and other share a member.
func (s TermSet) Intersects(other TermSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}

// Equal reports set equality.
func (s TermSet) Equal(other TermSet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the members ordered by key.
func (s TermSet) Sorted() []Term {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Term, len(keys))
	for i, k := range keys {
		out[i] = s[k]
	}
	return out
}

// String renders the set as {a(x), b(y)}.
func (s TermSet) String() string {
	parts := make([]string, 0, len(s))
	for _, t := range s.Sorted() {
		parts = append(parts, t.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Slot is one step of a timeline. Pre-conditions describe what holds before
// the step, post-conditions what holds after it. Action is the primitive
// action executed at the step, if any.
type Slot struct {
	PosPreConditions  TermSet
	NegPreConditions  TermSet
	PosPostConditions TermSet
	NegPostConditions TermSet
	Action            *Term
}

// NewSlot returns a slot with empty condition sets.
func NewSlot() Slot {
	return Slot{
		PosPreConditions:  TermSet{},
		NegPreConditions:  TermSet{},
		PosPostConditions: TermSet{},
		NegPostConditions: TermSet{},
	}
}

// ActionSlot builds the slot of a ground action instance.
func ActionSlot(a *ActionType, action Term) Slot {
	s := NewSlot()
	for _, t := range instantiate(a.PosPre, action.Args) {
		s.PosPreConditions.Add(t)
	}
	for _, t := range instantiate(a.NegPre, action.Args) {
		s.NegPreConditions.Add(t)
	}
	for _, t := range instantiate(a.PosEff, action.Args) {
		s.PosPostConditions.Add(t)
	}
	for _, t := range instantiate(a.NegEff, action.Args) {
		s.NegPostConditions.Add(t)
	}
	act := action.Clone()
	s.Action = &act
	return s
}

// StateSlot returns a slot whose post-conditions describe a world state.
func StateSlot(state []Term) Slot {
	s := NewSlot()
	for _, t := range state {
		s.PosPostConditions.Add(t)
	}
	return s
}

// Clone deep-copies the slot.
func (s Slot) Clone() Slot {
	out := Slot{
		PosPreConditions:  s.PosPreConditions.Clone(),
		NegPreConditions:  s.NegPreConditions.Clone(),
		PosPostConditions: s.PosPostConditions.Clone(),
		NegPostConditions: s.NegPostConditions.Clone(),
	}
	if s.Action != nil {
		a := s.Action.Clone()
		out.Action = &a
	}
	return out
}

// Merge unions other into s. The action of other wins when s has none.
func (s *Slot) Merge(other Slot) {
	s.PosPreConditions.Union(other.PosPreConditions)
	s.NegPreConditions.Union(other.NegPreConditions)
	s.PosPostConditions.Union(other.PosPostConditions)
	s.NegPostConditions.Union(other.NegPostConditions)
	if s.Action == nil && other.Action != nil {
		a := other.Action.Clone()
		s.Action = &a
	}
}

// Equal compares all four condition sets and the action.
func (s Slot) Equal(other Slot) bool {
	if (s.Action == nil) != (other.Action == nil) {
		return false
	}
	if s.Action != nil && s.Action.String() != other.Action.String() {
		return false
	}
	return s.PosPreConditions.Equal(other.PosPreConditions) &&
		s.NegPreConditions.Equal(other.NegPreConditions) &&
		s.PosPostConditions.Equal(other.PosPostConditions) &&
		s.NegPostConditions.Equal(other.NegPostConditions)
}

// Valid reports whether no atom is both asserted and denied, after or
// before the step.
func (s Slot) Valid() bool {
	return !s.PosPostConditions.Intersects(s.NegPostConditions) &&
		!s.PosPreConditions.Intersects(s.NegPreConditions)
}

// String renders the slot for debugging.
func (s Slot) String() string {
	var b strings.Builder
	if s.Action != nil {
		b.WriteString(s.Action.String())
	} else {
		b.WriteString("-")
	}
	b.WriteString(" pre+")
	b.WriteString(s.PosPreConditions.String())
	b.WriteString(" pre-")
	b.WriteString(s.NegPreConditions.String())
	b.WriteString(" post+")
	b.WriteString(s.PosPostConditions.String())
	b.WriteString(" post-")
	b.WriteString(s.NegPostConditions.String())
	return b.String()
}
