package htn

import (
	"math"
)

// Span is the interval of plan positions occupied by a (sub)plan. Integer
// positions address action slots; a position p-0.5 addresses the empty gap
// just before action p.
type Span struct {
	Start float64
	End   float64
}

// Empty reports a zero-duration span inserted between two actions.
func (s Span) Empty() bool {
	return s.Start == s.End && s.Start != math.Trunc(s.Start)
}

// endsInGap reports whether the span ends between two actions, so that its
// last timeline slot stands for the action after it.
func (s Span) endsInGap() bool {
	return s.End != math.Trunc(s.End)
}

// slotIndex maps a plan position onto an index of a timeline starting at base.
func slotIndex(pos, base float64) int {
	return int(math.Ceil(pos) - math.Ceil(base))
}

// timelineLength is ceil(end)-ceil(start)+1.
func timelineLength(s Span) int {
	return int(math.Ceil(s.End)-math.Ceil(s.Start)) + 1
}

// Propagate pushes conditions left to right through timeline, starting from
// the post-conditions of prev. Each slot's pre-conditions become the previous
// post-conditions plus its own requirements; its post-conditions become the
// pre-conditions minus what the slot denies, plus what the slot asserts.
// Asserted atoms always win over inherited ones of the opposite sign.
//
// The input is not modified.
func Propagate(prev Slot, timeline []Slot) []Slot {
	out := make([]Slot, len(timeline))
	last := prev
	for i, s := range timeline {
		n := s.Clone()
		n.PosPreConditions.Union(last.PosPostConditions)
		n.NegPreConditions.Union(last.NegPostConditions)

		pos := n.PosPreConditions.Minus(s.NegPostConditions)
		pos.Union(s.PosPostConditions)
		neg := n.NegPreConditions.Minus(s.PosPostConditions)
		neg.Union(s.NegPostConditions)

		n.PosPostConditions = pos
		n.NegPostConditions = neg
		out[i] = n
		last = n
	}
	return out
}

// CheckValidity reports whether every slot is free of contradictions.
func CheckValidity(timeline []Slot) bool {
	for _, s := range timeline {
		if !s.Valid() {
			return false
		}
	}
	return true
}

// InitialSlot returns the closed-world seed for validating timeline against
// state: every atom mentioned by the timeline and absent from state is false.
func InitialSlot(state []Term, timeline []Slot) Slot {
	seed := StateSlot(state)
	mention := func(set TermSet) {
		for k, t := range set {
			if _, ok := seed.PosPostConditions[k]; !ok {
				seed.NegPostConditions[k] = t
			}
		}
	}
	for _, s := range timeline {
		mention(s.PosPreConditions)
		mention(s.NegPreConditions)
		mention(s.PosPostConditions)
		mention(s.NegPostConditions)
	}
	return seed
}

// ValidateAgainst propagates timeline from state and checks it.
func ValidateAgainst(state []Term, timeline []Slot) ([]Slot, bool) {
	out := Propagate(InitialSlot(state, timeline), timeline)
	return out, CheckValidity(out)
}

// SeedSlot is InitialSlot with the post-conditions of lead asserted on top.
// lead carries the effects that take hold before the first slot.
func SeedSlot(state []Term, lead Slot, timeline []Slot) Slot {
	seed := InitialSlot(state, timeline)
	assertEffects(&seed, lead)
	return seed
}

// assertEffects applies the post-conditions of eff to the post side of s.
// An asserted atom replaces its opposite.
func assertEffects(s *Slot, eff Slot) {
	for k, t := range eff.PosPostConditions {
		delete(s.NegPostConditions, k)
		s.PosPostConditions[k] = t
	}
	for k, t := range eff.NegPostConditions {
		delete(s.PosPostConditions, k)
		s.NegPostConditions[k] = t
	}
}

// MegaslotPropagate propagates the first boundary slots normally and folds
// the remaining, not yet fixed slots into a single optimistic megaslot whose
// contradictions are resolved in favour of positives. The prefix must be
// valid and fully ground; otherwise the candidate is rejected.
func MegaslotPropagate(prev Slot, timeline []Slot, boundary int) ([]Slot, bool) {
	if boundary >= len(timeline) {
		out := Propagate(prev, timeline)
		return out, CheckValidity(out) && groundSlots(out)
	}
	if boundary < 0 {
		boundary = 0
	}
	head := Propagate(prev, timeline[:boundary])
	if !CheckValidity(head) || !groundSlots(head) {
		return nil, false
	}

	mega := NewSlot()
	for _, s := range timeline[boundary:] {
		mega.PosPreConditions.Union(s.PosPreConditions)
		mega.NegPreConditions.Union(s.NegPreConditions)
		mega.PosPostConditions.Union(s.PosPostConditions)
		mega.NegPostConditions.Union(s.NegPostConditions)
	}
	mega.NegPreConditions = mega.NegPreConditions.Minus(mega.PosPreConditions)
	mega.NegPostConditions = mega.NegPostConditions.Minus(mega.PosPostConditions)

	last := prev
	if len(head) > 0 {
		last = head[len(head)-1]
	}
	// Unobserved actions may establish anything the megaslot needs, so its
	// inherited state is filtered rather than checked.
	relaxed := NewSlot()
	relaxed.PosPostConditions = last.PosPostConditions.Minus(mega.NegPreConditions)
	relaxed.NegPostConditions = last.NegPostConditions.Minus(mega.PosPreConditions)
	return append(head, Propagate(relaxed, []Slot{mega})...), true
}

func groundSlots(timeline []Slot) bool {
	for _, s := range timeline {
		for _, set := range []TermSet{s.PosPreConditions, s.NegPreConditions, s.PosPostConditions, s.NegPostConditions} {
			for _, t := range set {
				if !t.Ground() {
					return false
				}
			}
		}
		if s.Action != nil && !s.Action.Ground() {
			return false
		}
	}
	return true
}

// CheckOrdering reports whether every ordering constraint is respected by the
// computed subtask spans: the earlier subtask must end strictly before the
// later one starts.
func CheckOrdering(spans []Span, ordering []Ordering) bool {
	for _, o := range ordering {
		if o.Before < 0 || o.After < 0 || o.Before >= len(spans) || o.After >= len(spans) {
			return false
		}
		if !(spans[o.Before].End < spans[o.After].Start) {
			return false
		}
	}
	return true
}

// ApplyMode selects how subtask-relative preconditions are treated.
type ApplyMode int

const (
	// ApplyExact rejects subtask-relative preconditions as unsupported.
	ApplyExact ApplyMode = iota
	// ApplyRelaxed adds subtask-relative preconditions as requirements of the
	// subtask's first slot, to be satisfied later by inserted actions.
	ApplyRelaxed
)

// ApplyPre injects the preconditions of ri into timeline, which starts at
// plan position base. Whole-rule preconditions are required at the first
// slot and fail when that slot already denies them.
func ApplyPre(ri *RuleInstance, timeline []Slot, base float64, mode ApplyMode) (bool, error) {
	for _, c := range ri.Pre {
		idx := 0
		if c.Subtask != WholeRule {
			if mode == ApplyExact {
				return false, ErrUnsupported
			}
			idx = slotIndex(ri.Spans[c.Subtask].Start, base)
		}
		if idx < 0 || idx >= len(timeline) {
			return false, nil
		}
		s := &timeline[idx]
		if c.Positive {
			if c.Subtask == WholeRule && s.NegPreConditions.Has(c.Term) {
				return false, nil
			}
			s.PosPreConditions.Add(c.Term)
		} else {
			if c.Subtask == WholeRule && s.PosPreConditions.Has(c.Term) {
				return false, nil
			}
			s.NegPreConditions.Add(c.Term)
		}
	}
	return true, nil
}

// ApplyPost asserts the post-conditions of ri at the last slot of the rule or
// of the referenced subtask. An asserted atom replaces the opposite one.
func ApplyPost(ri *RuleInstance, timeline []Slot, base float64) bool {
	for _, c := range ri.Post {
		idx := len(timeline) - 1
		if c.Subtask != WholeRule {
			idx = slotIndex(ri.Spans[c.Subtask].End, base)
		}
		if idx < 0 || idx >= len(timeline) {
			return false
		}
		s := &timeline[idx]
		if c.Positive {
			delete(s.NegPostConditions, c.Term.Key())
			s.PosPostConditions.Add(c.Term)
		} else {
			delete(s.PosPostConditions, c.Term.Key())
			s.NegPostConditions.Add(c.Term)
		}
	}
	return true
}

// ApplyBetween requires each between-condition in every slot after its first
// subtask ends up to and including the slot where its second subtask starts.
func ApplyBetween(ri *RuleInstance, timeline []Slot, base float64) bool {
	for _, c := range ri.Between {
		if c.Subtask == WholeRule || c.Until == WholeRule {
			continue
		}
		from := slotIndex(math.Floor(ri.Spans[c.Subtask].End)+1, base)
		to := slotIndex(ri.Spans[c.Until].Start, base)
		if from < 0 || to >= len(timeline) {
			return false
		}
		for i := from; i <= to; i++ {
			if c.Positive {
				timeline[i].PosPreConditions.Add(c.Term)
			} else {
				timeline[i].NegPreConditions.Add(c.Term)
			}
		}
	}
	return true
}
