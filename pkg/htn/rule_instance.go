package htn

import (
	"fmt"
	"math"
	"strings"
)

// GroundCondition is a rule condition with every variable substituted.
type GroundCondition struct {
	Subtask  int
	Until    int
	Term     Term
	Positive bool
}

func (g GroundCondition) String() string {
	sign := "+"
	if !g.Positive {
		sign = "-"
	}
	return fmt.Sprintf("%s%s@%d:%d", sign, g.Term, g.Subtask, g.Until)
}

// RuleInstance is an immutable snapshot of one method application.
type RuleInstance struct {
	Rule          string
	Task          Term
	Subtasks      []Term
	Spans         []Span
	Pre           []GroundCondition
	Post          []GroundCondition
	Between       []GroundCondition
	OrderingValid bool
	First         int
	Last          int
}

// newRuleInstance substitutes the bindings of c into its rule's templates.
// Equality and inequality constraints are not carried over; they are
// enforced during binding.
func newRuleInstance(c *CFGRule, span Span, spans []Span) *RuleInstance {
	ri := &RuleInstance{
		Rule:          c.Rule.Name,
		Task:          c.MainTask.Term(),
		Spans:         spans,
		OrderingValid: CheckOrdering(spans, c.Rule.Ordering),
		First:         int(math.Ceil(span.Start)),
		Last:          int(math.Floor(span.End)),
	}
	for _, st := range c.Subtasks {
		ri.Subtasks = append(ri.Subtasks, st.Term())
	}
	ri.Pre = append(ri.Pre, c.ground(c.Rule.PosPre, true)...)
	ri.Pre = append(ri.Pre, c.ground(c.Rule.NegPre, false)...)
	ri.Post = append(ri.Post, c.ground(c.Rule.PosPost, true)...)
	ri.Post = append(ri.Post, c.ground(c.Rule.NegPost, false)...)
	ri.Between = append(ri.Between, c.ground(c.Rule.PosBetween, true)...)
	ri.Between = append(ri.Between, c.ground(c.Rule.NegBetween, false)...)
	return ri
}

func (c *CFGRule) ground(conds []RuleCondition, positive bool) []GroundCondition {
	var out []GroundCondition
	for _, rc := range conds {
		if isEqualityPredicate(rc.Predicate) {
			continue
		}
		t := Term{Name: rc.Predicate, Args: make([]Constant, len(rc.Vars))}
		for i, v := range rc.Vars {
			t.Args[i] = c.Vars[v]
		}
		out = append(out, GroundCondition{Subtask: rc.Subtask, Until: rc.Until, Term: t, Positive: positive})
	}
	return out
}

// String is the structural identity used to deduplicate histories.
func (ri *RuleInstance) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s[%d,%d]->", ri.Rule, ri.Task, ri.First, ri.Last)
	for i, st := range ri.Subtasks {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(st.String())
	}
	return b.String()
}
