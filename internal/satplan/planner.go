// Package satplan closes precondition gaps by bounded planning as
// satisfiability. For a horizon T it encodes fluents at steps 0..T, at most
// one ground action per step, explanatory frame axioms and the goal at step
// T as a gini circuit, and increases T until the circuit is satisfiable.
package satplan

import (
	"context"
	"io"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/inter"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
	"github.com/sirupsen/logrus"

	"github.com/gitrdm/gokanhtn/pkg/htn"
)

const (
	satisfiable   = 1
	unsatisfiable = -1
	unknown       = 0
)

// DefaultMaxSteps bounds the plans searched for when no horizon is given.
const DefaultMaxSteps = 8

// Planner implements htn.Planner over the primitive actions of a domain.
type Planner struct {
	domain   *htn.Domain
	maxSteps int
	log      logrus.FieldLogger

	actions []groundAction
}

// Option configures a Planner.
type Option func(*Planner)

// WithMaxSteps sets the largest horizon tried.
func WithMaxSteps(n int) Option {
	return func(p *Planner) {
		if n >= 0 {
			p.maxSteps = n
		}
	}
}

// WithLogger sets the logger. Without one the planner logs nothing.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Planner) {
		if l != nil {
			p.log = l
		}
	}
}

type groundAction struct {
	term htn.Term
	slot htn.Slot
}

// New grounds every action of d over the declared constants.
func New(d *htn.Domain, opts ...Option) *Planner {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	p := &Planner{
		domain:   d,
		maxSteps: DefaultMaxSteps,
		log:      discard,
	}
	for _, o := range opts {
		o(p)
	}
	for _, a := range d.Actions {
		p.groundAll(a)
	}
	return p
}

func (p *Planner) groundAll(a *htn.ActionType) {
	args := make([]htn.Constant, len(a.ParamTypes))
	var rec func(i int)
	rec = func(i int) {
		if i == len(args) {
			t := htn.Term{Name: a.Name, Args: append([]htn.Constant(nil), args...)}
			s := htn.ActionSlot(a, t)
			// actions that would contradict themselves can never be applied
			if !s.Valid() {
				return
			}
			p.actions = append(p.actions, groundAction{term: t, slot: s})
			return
		}
		for _, c := range p.domain.ConstantsOf(a.ParamTypes[i]) {
			args[i] = c
			rec(i + 1)
		}
	}
	rec(0)
}

// Actions returns the number of ground actions considered.
func (p *Planner) Actions() int { return len(p.actions) }

// Solve returns the shortest action sequence, up to the configured horizon,
// reaching every atom of pos and none of neg from the positive
// post-conditions of state. Atoms not asserted by state are false.
func (p *Planner) Solve(ctx context.Context, pos, neg []htn.Term, state htn.Slot) ([]htn.Term, bool, error) {
	log := p.log.WithFields(logrus.Fields{"pos": len(pos), "neg": len(neg)})
	for horizon := 0; horizon <= p.maxSteps; horizon++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		e := newEncoding(p.actions, state, pos, neg, horizon)
		g := gini.New()
		e.c.ToCnf(g)
		g.Assume(e.roots...)
		switch waitForSolution(ctx, g.GoSolve()) {
		case satisfiable:
			plan := e.plan(g)
			log.WithField("steps", len(plan)).Debug("gap closed")
			return plan, true, nil
		case unknown:
			return nil, false, ctx.Err()
		case unsatisfiable:
			log.WithField("horizon", horizon).Trace("unsatisfiable")
		}
	}
	log.Debug("no plan within horizon")
	return nil, false, nil
}

func waitForSolution(ctx context.Context, gs inter.Solve) int {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()

	for {
		if result, ok := gs.Test(); ok {
			return result
		}
		select {
		case <-ctx.Done():
			return gs.Stop()
		case <-t.C:
		}
	}
}

// encoding is the circuit of one horizon.
type encoding struct {
	c       *logic.C
	actions []groundAction
	fluents map[string]int
	atoms   []htn.Term
	// at[t][f] is fluent f at step t; do[t][k] is action k at step t.
	at    [][]z.Lit
	do    [][]z.Lit
	roots []z.Lit
}

func newEncoding(actions []groundAction, state htn.Slot, pos, neg []htn.Term, horizon int) *encoding {
	e := &encoding{c: logic.NewC(), actions: actions, fluents: make(map[string]int)}
	for _, a := range actions {
		for _, set := range []htn.TermSet{a.slot.PosPreConditions, a.slot.NegPreConditions, a.slot.PosPostConditions, a.slot.NegPostConditions} {
			for _, t := range set.Sorted() {
				e.fluent(t)
			}
		}
	}
	for _, t := range pos {
		e.fluent(t)
	}
	for _, t := range neg {
		e.fluent(t)
	}

	for t := 0; t <= horizon; t++ {
		row := make([]z.Lit, len(e.atoms))
		for f := range row {
			row[f] = e.c.Lit()
		}
		e.at = append(e.at, row)
	}
	for t := 0; t < horizon; t++ {
		row := make([]z.Lit, len(actions))
		for k := range row {
			row[k] = e.c.Lit()
		}
		e.do = append(e.do, row)
	}

	for f, atom := range e.atoms {
		if state.PosPostConditions.Has(atom) {
			e.roots = append(e.roots, e.at[0][f])
		} else {
			e.roots = append(e.roots, e.at[0][f].Not())
		}
	}
	for _, t := range pos {
		e.roots = append(e.roots, e.at[horizon][e.fluents[t.Key()]])
	}
	for _, t := range neg {
		e.roots = append(e.roots, e.at[horizon][e.fluents[t.Key()]].Not())
	}
	for t := 0; t < horizon; t++ {
		e.step(t)
	}
	return e
}

func (e *encoding) fluent(t htn.Term) int {
	if f, ok := e.fluents[t.Key()]; ok {
		return f
	}
	f := len(e.atoms)
	e.fluents[t.Key()] = f
	e.atoms = append(e.atoms, t)
	return f
}

func (e *encoding) lits(t int, set htn.TermSet, positive bool) []z.Lit {
	var out []z.Lit
	for _, atom := range set.Sorted() {
		m := e.at[t][e.fluents[atom.Key()]]
		if !positive {
			m = m.Not()
		}
		out = append(out, m)
	}
	return out
}

// step constrains the transition from t to t+1.
func (e *encoding) step(t int) {
	c := e.c
	adders := make([][]z.Lit, len(e.atoms))
	deleters := make([][]z.Lit, len(e.atoms))
	for k, a := range e.actions {
		act := e.do[t][k]
		var cond []z.Lit
		cond = append(cond, e.lits(t, a.slot.PosPreConditions, true)...)
		cond = append(cond, e.lits(t, a.slot.NegPreConditions, false)...)
		cond = append(cond, e.lits(t+1, a.slot.PosPostConditions, true)...)
		cond = append(cond, e.lits(t+1, a.slot.NegPostConditions, false)...)
		e.roots = append(e.roots, c.Implies(act, c.Ands(cond...)))

		for _, atom := range a.slot.PosPostConditions.Sorted() {
			f := e.fluents[atom.Key()]
			adders[f] = append(adders[f], act)
		}
		for _, atom := range a.slot.NegPostConditions.Sorted() {
			f := e.fluents[atom.Key()]
			deleters[f] = append(deleters[f], act)
		}
	}
	for f := range e.atoms {
		now, next := e.at[t][f], e.at[t+1][f]
		e.roots = append(e.roots,
			c.Implies(c.And(now.Not(), next), c.Ors(adders[f]...)),
			c.Implies(c.And(now, next.Not()), c.Ors(deleters[f]...)),
		)
	}
	if len(e.do[t]) > 1 {
		e.roots = append(e.roots, c.CardSort(e.do[t]).Leq(1))
	}
}

// plan reads the chosen actions off a model, skipping idle steps.
func (e *encoding) plan(g *gini.Gini) []htn.Term {
	var out []htn.Term
	for t := range e.do {
		for k, m := range e.do[t] {
			if g.Value(m) {
				out = append(out, e.actions[k].term.Clone())
				break
			}
		}
	}
	return out
}

var _ htn.Planner = (*Planner)(nil)
