package htn

import (
	"context"
	"iter"
	"math/big"
)

// GroundUngroundedVariables enumerates every complete grounding of the
// unbound variables of c. Variables are bound depth first in index order and
// each variable takes the constants accepted by its declared type in
// declaration order, so the enumeration order is reproducible.
//
// The yielded rule is c itself with the bindings applied; they are rolled
// back when the consumer resumes. Clone it to keep a grounding. The sequence
// stops early when ctx is cancelled.
func GroundUngroundedVariables(ctx context.Context, d *Domain, c *CFGRule) iter.Seq[*CFGRule] {
	return func(yield func(*CFGRule) bool) {
		unbound := c.Unbound()
		var rec func(k int) bool
		rec = func(k int) bool {
			if ctx.Err() != nil {
				return false
			}
			if k == len(unbound) {
				return yield(c)
			}
			v := unbound[k]
			if c.Vars[v].Bound() {
				// bound meanwhile through an equality
				return rec(k + 1)
			}
			for _, cand := range d.ConstantsOf(c.Vars[v].Type) {
				c.SaveCurrentState()
				cont := true
				if c.bindRefs([]int{v}, []Constant{cand}) {
					cont = rec(k + 1)
				}
				c.ResetVariables()
				if !cont {
					return false
				}
			}
			return true
		}
		rec(0)
	}
}

// part is one filled subtask of a rule being assembled: either an abstract
// child subplan or a primitive placed at a plan position.
type part struct {
	sub      *Subplan
	pos      int
	observed int
}

// assembler builds validated subplans from ground rules.
type assembler struct {
	domain *Domain
	mode   ApplyMode
	err    error
}

// assemble turns a fully ground rule and its filled subtasks into a
// validated subplan. at is the chart position of an empty rule, which sits
// in the gap before action at: its effects hold for that action. It returns
// nil when the result is inconsistent; configuration errors are recorded in
// a.err.
func (a *assembler) assemble(c *CFGRule, parts []part, at float64, iteration int) *Subplan {
	children := make([]*Subplan, len(parts))
	spans := make([]Span, len(parts))
	for i, p := range parts {
		if p.sub != nil {
			children[i] = p.sub
		} else {
			st := c.Subtasks[i]
			children[i] = newPrimitiveSubplan(st.Type.Action, st.Term(), p.pos, p.observed, iteration)
		}
		spans[i] = children[i].Span()
	}

	span := Span{Start: at - 0.5, End: at - 0.5}
	if len(children) > 0 {
		span = Span{Start: spans[0].Start, End: spans[len(spans)-1].End}
	}

	ri := newRuleInstance(c, span, spans)
	if !ri.OrderingValid {
		return nil
	}

	own := make([]Slot, timelineLength(span))
	for i := range own {
		own[i] = NewSlot()
	}
	// lead collects effects of empty methods that precede own[0].
	lead := NewSlot()
	consumed := new(big.Int)
	var histories [][]*RuleInstance
	for _, ch := range children {
		off := slotIndex(ch.Start, span.Start)
		if off > 0 && off <= len(own) {
			assertEffects(&own[off-1], ch.lead)
		} else {
			assertEffects(&lead, ch.lead)
		}
		for j, s := range ch.own {
			if off+j < 0 || off+j >= len(own) {
				return nil
			}
			own[off+j].Merge(s)
		}
		consumed.Or(consumed, ch.Consumed)
		histories = append(histories, ch.History)
	}

	if !ApplyPost(ri, own, span.Start) || !ApplyBetween(ri, own, span.Start) {
		return nil
	}
	ok, err := ApplyPre(ri, own, span.Start, a.mode)
	if err != nil {
		a.err = err
		return nil
	}
	if !ok {
		return nil
	}
	if span.endsInGap() {
		// The last slot belongs to the following action; effects asserted
		// there happen before it.
		last := &own[len(own)-1]
		if len(own) > 1 {
			assertEffects(&own[len(own)-2], *last)
		} else {
			assertEffects(&lead, *last)
		}
		last.PosPostConditions = TermSet{}
		last.NegPostConditions = TermSet{}
	}

	timeline := Propagate(lead, own)
	if !CheckValidity(timeline) {
		return nil
	}
	histories = append(histories, []*RuleInstance{ri})
	return &Subplan{
		Task:      ri.Task,
		Start:     span.Start,
		End:       span.End,
		Timeline:  timeline,
		History:   historyUnion(histories...),
		Consumed:  consumed,
		Iteration: iteration,
		Rule:      ri,
		Children:  children,
		own:       own,
		lead:      lead,
	}
}

// groundAndAssemble binds c against its abstract children, then enumerates
// groundings of the remaining variables and assembles each one.
func (a *assembler) groundAndAssemble(ctx context.Context, c *CFGRule, parts []part, at float64, iteration int) iter.Seq[*Subplan] {
	return func(yield func(*Subplan) bool) {
		work := c.Clone()
		for i, p := range parts {
			if p.sub == nil {
				continue
			}
			inst := CFGTask{Type: work.Subtasks[i].Type, Args: p.sub.Task.Args}
			if !work.SetVariablesFromSubtask(i, inst) {
				return
			}
		}
		for g := range GroundUngroundedVariables(ctx, a.domain, work) {
			sp := a.assemble(g, parts, at, iteration)
			if a.err != nil {
				return
			}
			if sp == nil {
				continue
			}
			if !yield(sp) {
				return
			}
		}
	}
}
