package htn

import (
	"container/heap"
	"context"
	"fmt"
	"iter"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// searchOp says how a search item was derived from its predecessor.
type searchOp int

const (
	opStart searchOp = iota
	opMatch
	opInsert
	opSkip
	opComplete
)

// searchDeriv links an item to the items it was built from. prev and child
// are arena indices, -1 when absent. pos is the observed action matched or
// skipped.
type searchDeriv struct {
	op    searchOp
	prev  int
	child int
	pos   int
}

// searchItem is a dotted rule covering the observed actions
// [before, after). It is addressed by its index in the search arena.
type searchItem struct {
	kind    itemKind
	rule    *CFGRule
	before  int
	after   int
	flaws   int
	version int
	done    bool
	pattern itemPattern
	derivs  []searchDeriv

	// dependents are the items holding a derivation through this one.
	dependents []int
}

type arenaKey struct {
	hash  uint64
	after int
}

type waitKey struct {
	pos  int
	task string
}

// goalEnum lazily extracts the candidates of one goal item at one version
// of its flaw bound.
type goalEnum struct {
	item    int
	version int
	bound   int
	next    func() (searchSub, bool)
	stop    func()
}

type searchSub struct {
	sub      *Subplan
	end      int
	inserted int
	deleted  int
}

type searchPiece struct {
	parts    []part
	end      int
	inserted int
	deleted  int
}

type candidate struct {
	root     *Subplan
	plan     []Term
	flaws    int
	inserted int
	deleted  int
}

// search is the flaw-minimizing best-first search over observed actions.
type search struct {
	*run
	ctx      context.Context
	domain   *Domain
	state    []Term
	observed []Term
	root     *Rule
	bindings []Constant
	asm      *assembler

	items     []*searchItem
	index     map[arenaKey][]int
	waiting   map[waitKey][]int
	completed map[waitKey][]int
	queue     itemQueue
	pushed    int
	goals     []*goalEnum

	best   *candidate
	trace  []TraceEntry
	pruned bool
	err    error

	// considered holds the roots already validated, so restarted
	// enumerators skip them.
	considered map[string]bool

	// observe, when set, sees every assignment of an item's flaw bound.
	observe func(idx, flaws int)
}

func newSearch(ctx context.Context, r *run, d *Domain, state, observed []Term, root *Rule) *search {
	return &search{
		run:        r,
		ctx:        ctx,
		domain:     d,
		state:      state,
		observed:   observed,
		root:       root,
		asm:        &assembler{domain: d, mode: ApplyRelaxed},
		index:      make(map[arenaKey][]int),
		waiting:    make(map[waitKey][]int),
		completed:  make(map[waitKey][]int),
		considered: make(map[string]bool),
	}
}

// Repair searches for the decomposition of goals that explains the observed
// actions with the fewest flaws: inserted actions (WithInsertion) and skipped
// observed actions (WithDeletion). Actions a configured Planner adds to close
// precondition gaps count as insertions.
//
// The search is anytime. With WithTimeLimit, or when ctx ends, the context
// error is returned with a Result that is not Found; its Trace still lists
// every improving solution found before the interruption.
func Repair(ctx context.Context, d *Domain, state, observed, goals []Term, opts ...Option) (Result, error) {
	r := newRun("repair", len(observed), opts)
	ctx, cancel := r.context(ctx)
	defer cancel()

	res, err := r.repair(ctx, d, state, observed, goals)
	r.done(res, err)
	return res, err
}

// Plan finds a plan for goals from state without observations. It is Repair
// with insertion enabled and an empty observed sequence, and returns
// ErrNoPlan when the search space holds no decomposition.
func Plan(ctx context.Context, d *Domain, state, goals []Term, opts ...Option) (Result, error) {
	opts = append(opts[:len(opts):len(opts)], WithInsertion(true))
	r := newRun("plan", 0, opts)
	ctx, cancel := r.context(ctx)
	defer cancel()

	res, err := r.repair(ctx, d, state, nil, goals)
	if err == nil && !res.Found {
		err = ErrNoPlan
	}
	r.done(res, err)
	return res, err
}

func (r *run) repair(ctx context.Context, d *Domain, state, observed, goals []Term) (Result, error) {
	s, ok := r.prepareSearch(ctx, d, state, observed, goals)
	if !ok {
		return r.result(), nil
	}
	return s.solve()
}

func (r *run) prepareSearch(ctx context.Context, d *Domain, state, observed, goals []Term) (*search, bool) {
	obs, ok := resolvePlan(d, observed)
	if !ok {
		return nil, false
	}
	root, bindings := d.rootRule(goals)
	s := newSearch(ctx, r, d, state, obs, root)
	s.bindings = bindings
	return s, true
}

func (s *search) solve() (Result, error) {
	start := NewCFGRule(s.root)
	if !start.bindVars(s.bindings) {
		return s.result(), nil
	}
	s.add(start, 0, 0, searchDeriv{op: opStart, prev: -1, child: -1, pos: -1})

	err := s.loop()
	for _, g := range s.goals {
		g.stop()
	}
	if err != nil && s.ctx.Err() != nil {
		return s.interrupted(), err
	}
	return s.result(), err
}

// interrupted is the result of a run cut short by its context: nothing is
// found, and the incumbents reached so far are only reported in the trace.
func (s *search) interrupted() Result {
	res := s.run.result()
	res.Trace = s.trace
	return res
}

func (s *search) result() Result {
	res := s.run.result()
	if s.best == nil {
		return res
	}
	res.Found = true
	res.Root = s.best.root
	res.Plan = s.best.plan
	res.Flaws = s.best.flaws
	res.Inserted = s.best.inserted
	res.Deleted = s.best.deleted
	res.Trace = s.trace
	return res
}

func (s *search) loop() error {
	for {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		if s.err != nil {
			return s.err
		}
		if s.cfg.firstSolution && s.best != nil {
			return nil
		}

		g := s.nextGoal()
		qmin := math.MaxInt
		if len(s.queue) > 0 {
			qmin = s.queue[0].flaws
		}
		lower := qmin
		if g != nil && g.bound < lower {
			lower = g.bound
		}
		if lower == math.MaxInt {
			break
		}
		if s.best != nil && lower >= s.best.flaws {
			break
		}

		if g != nil && g.bound <= qmin {
			s.pull(g)
			continue
		}
		e := heap.Pop(&s.queue).(queueEntry)
		it := s.items[e.idx]
		if it.done {
			continue
		}
		it.done = true
		s.process(e.idx)
	}
	if s.best == nil && s.pruned {
		return ErrSearchLimitReached
	}
	return nil
}

// add inserts an item into the arena or attaches d to the structurally equal
// item already covering the same observed interval.
func (s *search) add(c *CFGRule, before, after int, d searchDeriv) int {
	p := newItemPattern(c, before, s.cfg.compareProvenance)
	key := arenaKey{hash: p.hash, after: after}
	for _, idx := range s.index[key] {
		if s.items[idx].pattern.Equal(p) {
			s.attach(idx, d)
			return idx
		}
	}

	idx := len(s.items)
	it := &searchItem{
		kind:    kindOf(c),
		rule:    c,
		before:  before,
		after:   after,
		pattern: p,
		derivs:  []searchDeriv{d},
	}
	s.items = append(s.items, it)
	s.index[key] = append(s.index[key], idx)
	s.link(idx, d)
	it.flaws = s.derivCost(d)
	s.notify(idx)
	s.stats.Items++
	s.cfg.recorder.Record(s.mode, EventItem)
	s.push(idx)
	return idx
}

func (s *search) link(idx int, d searchDeriv) {
	if d.prev >= 0 {
		s.items[d.prev].dependents = append(s.items[d.prev].dependents, idx)
	}
	if d.child >= 0 {
		s.items[d.child].dependents = append(s.items[d.child].dependents, idx)
	}
}

func (s *search) attach(idx int, d searchDeriv) {
	it := s.items[idx]
	for _, e := range it.derivs {
		if e == d {
			return
		}
	}
	it.derivs = append(it.derivs, d)
	s.link(idx, d)
	if c := s.derivCost(d); c < it.flaws {
		s.lower(idx, c)
	}
	if it.done {
		s.refresh(idx)
	}
}

// refresh restarts the enumerators of every processed goal item derived
// through idx. A running enumerator only sees the derivations an item had
// when extraction first reached it.
func (s *search) refresh(idx int) {
	seen := map[int]bool{idx: true}
	work := []int{idx}
	for len(work) > 0 {
		j := work[0]
		work = work[1:]
		it := s.items[j]
		if it.done && s.isGoal(it) {
			it.version++
			s.registerGoal(j)
		}
		for _, k := range it.dependents {
			if !seen[k] {
				seen[k] = true
				work = append(work, k)
			}
		}
	}
}

func (s *search) derivCost(d searchDeriv) int {
	if d.op == opStart {
		return 0
	}
	c := s.items[d.prev].flaws
	switch d.op {
	case opInsert, opSkip:
		c++
	case opComplete:
		c += s.items[d.child].flaws
	}
	return c
}

func (s *search) minCost(idx int) int {
	best := math.MaxInt
	for _, d := range s.items[idx].derivs {
		if c := s.derivCost(d); c < best {
			best = c
		}
	}
	return best
}

// lower sets a smaller flaw bound on idx and propagates it to every item
// derived through it, bumping versions on the way.
func (s *search) lower(idx, flaws int) {
	it := s.items[idx]
	it.flaws = flaws
	it.version++
	s.notify(idx)

	work := []int{idx}
	for len(work) > 0 {
		j := work[0]
		work = work[1:]
		s.reconsider(j)
		for _, k := range s.items[j].dependents {
			if c := s.minCost(k); c < s.items[k].flaws {
				dep := s.items[k]
				dep.flaws = c
				dep.version++
				s.notify(k)
				work = append(work, k)
			}
		}
	}
}

func (s *search) notify(idx int) {
	if s.observe != nil {
		s.observe(idx, s.items[idx].flaws)
	}
}

// reconsider requeues an unprocessed item under its new bound, or registers
// a fresh goal enumerator for a processed goal item.
func (s *search) reconsider(idx int) {
	it := s.items[idx]
	if !it.done {
		s.push(idx)
		return
	}
	if s.isGoal(it) {
		s.registerGoal(idx)
	}
}

func (s *search) push(idx int) {
	it := s.items[idx]
	if s.cfg.maxFlaws >= 0 && it.flaws > s.cfg.maxFlaws {
		s.pruned = true
		return
	}
	s.pushed++
	heap.Push(&s.queue, queueEntry{
		idx:      idx,
		flaws:    it.flaws,
		kind:     it.kind,
		coverage: it.after - it.before,
		seq:      s.pushed,
	})
}

func (s *search) process(idx int) {
	switch it := s.items[idx]; it.kind {
	case kindPredictor:
		s.predict(idx)
	case kindScanner:
		s.scan(idx)
	case kindCompleter:
		s.complete(idx)
		if s.isGoal(it) {
			s.registerGoal(idx)
		}
	}
}

func (s *search) predict(idx int) {
	s.stats.Predictions++
	s.cfg.recorder.Record(s.mode, EventPredict)
	it := s.items[idx]
	next := it.rule.Next()
	wk := waitKey{pos: it.after, task: next.Type.Name}
	s.waiting[wk] = append(s.waiting[wk], idx)

	for _, r := range s.domain.RulesFor(wk.task) {
		c := NewCFGRule(r)
		if !c.SetVariablesFromMainTask(*next) {
			continue
		}
		s.add(c, it.after, it.after, searchDeriv{op: opStart, prev: -1, child: -1, pos: -1})
	}
	for _, done := range s.completed[wk] {
		s.advance(idx, done)
	}
}

// scan tries, in order, matching the next observed action, inserting an
// unobserved action of the expected type and skipping the observed action.
func (s *search) scan(idx int) {
	s.stats.Scans++
	s.cfg.recorder.Record(s.mode, EventScan)
	it := s.items[idx]
	next := it.rule.Next()
	a := it.after

	if a < len(s.observed) && next.compatible(s.observed[a]) {
		action := s.observed[a]
		inst := CFGTask{Kind: Primitive, Type: next.Type, Args: action.Args}
		for j, arg := range action.Args {
			if arg.Bound() {
				inst.Supports = append(inst.Supports, Support{Param: j, Position: a, Action: action.String()})
			}
		}
		adv := it.rule.Advance()
		if adv.SetVariablesFromSubtask(it.rule.Dot, inst) {
			s.add(adv, it.before, a+1, searchDeriv{op: opMatch, prev: idx, child: -1, pos: a})
		}
	}
	if s.cfg.allowInsertion {
		s.add(it.rule.Advance(), it.before, a, searchDeriv{op: opInsert, prev: idx, child: -1, pos: -1})
	}
	if s.cfg.allowDeletion && a < len(s.observed) {
		s.add(it.rule.Clone(), it.before, a+1, searchDeriv{op: opSkip, prev: idx, child: -1, pos: a})
	}
}

func (s *search) complete(idx int) {
	s.stats.Completions++
	s.cfg.recorder.Record(s.mode, EventComplete)
	it := s.items[idx]
	wk := waitKey{pos: it.before, task: it.rule.MainTask.Type.Name}
	s.completed[wk] = append(s.completed[wk], idx)
	for _, w := range s.waiting[wk] {
		s.advance(w, idx)
	}
}

func (s *search) advance(w, done int) {
	wi, di := s.items[w], s.items[done]
	adv := wi.rule.Advance()
	if !adv.SetVariablesFromSubtask(wi.rule.Dot, di.rule.MainTask) {
		return
	}
	s.add(adv, wi.before, di.after, searchDeriv{op: opComplete, prev: w, child: done, pos: -1})
}

func (s *search) isGoal(it *searchItem) bool {
	if it.kind != kindCompleter || it.rule.Rule != s.root || it.before != 0 {
		return false
	}
	return it.after == len(s.observed) || s.cfg.allowDeletion
}

func (s *search) registerGoal(idx int) {
	it := s.items[idx]
	trailing := len(s.observed) - it.after
	g := &goalEnum{item: idx, version: it.version, bound: it.flaws + trailing}
	seq := func(yield func(searchSub) bool) {
		for sub := range s.subplans(idx, 0, nil) {
			sub.deleted += trailing
			if !yield(sub) {
				return
			}
		}
	}
	g.next, g.stop = iter.Pull(seq)
	s.goals = append(s.goals, g)
	s.stats.Goals++
	s.cfg.recorder.Record(s.mode, EventGoal)
}

// nextGoal drops enumerators whose item has a newer bound and returns the
// one with the lowest bound.
func (s *search) nextGoal() *goalEnum {
	var best *goalEnum
	kept := s.goals[:0]
	for _, g := range s.goals {
		if s.items[g.item].version != g.version {
			g.stop()
			continue
		}
		kept = append(kept, g)
		if best == nil || g.bound < best.bound {
			best = g
		}
	}
	s.goals = kept
	return best
}

func (s *search) pull(g *goalEnum) {
	sub, ok := g.next()
	if !ok {
		g.stop()
		for i, e := range s.goals {
			if e == g {
				s.goals = append(s.goals[:i], s.goals[i+1:]...)
				break
			}
		}
		return
	}
	s.consider(sub)
}

// consider validates an extracted root against the initial state, closing
// precondition gaps with the planner when allowed, and keeps it when it beats
// the incumbent.
func (s *search) consider(sub searchSub) {
	key := fmt.Sprintf("%d/%d\n%s", sub.inserted, sub.deleted, sub.sub.Tree())
	if s.considered[key] {
		return
	}
	s.considered[key] = true

	flaws := sub.inserted + sub.deleted
	budget := math.MaxInt
	if s.best != nil {
		budget = s.best.flaws - 1 - flaws
	}
	if s.cfg.maxFlaws >= 0 && s.cfg.maxFlaws-flaws < budget {
		budget = s.cfg.maxFlaws - flaws
	}
	if budget < 0 {
		s.reject()
		return
	}

	plan := NewConcretePlan(sub.sub.own)
	timeline, ok, err := s.fillGaps(plan, sub.sub.lead, 0, budget)
	if err != nil {
		s.err = err
		return
	}
	if !ok {
		s.reject()
		return
	}

	gaps := plan.Inserted()
	root := *sub.sub
	root.Timeline = timeline
	s.best = &candidate{
		root:     &root,
		plan:     plan.Actions(),
		flaws:    flaws + gaps,
		inserted: sub.inserted + gaps,
		deleted:  sub.deleted,
	}
	elapsed := time.Since(s.start)
	s.trace = append(s.trace, TraceEntry{Plan: s.best.plan, Flaws: s.best.flaws, Elapsed: elapsed})
	s.cfg.recorder.Incumbent(s.mode, s.best.flaws)
	s.cfg.recorder.Record(s.mode, EventIncumbent)
	s.log.WithFields(logrus.Fields{
		"flaws":   s.best.flaws,
		"elapsed": elapsed,
	}).Info("improved solution")
}

func (s *search) reject() {
	s.stats.Rejected++
	s.cfg.recorder.Record(s.mode, EventReject)
}

// fillGaps validates plan against the initial state. At the first step
// whose preconditions do not hold it asks the planner for actions achieving
// them, inserts those and continues after the repaired step. Insertions are
// released again when the remainder cannot be repaired.
func (s *search) fillGaps(plan *ConcretePlan, lead Slot, from, budget int) (timeline []Slot, ok bool, err error) {
	seed := SeedSlot(s.state, lead, plan.Slots())
	timeline = Propagate(seed, plan.Slots())
	if CheckValidity(timeline) {
		return timeline, true, nil
	}
	if s.cfg.planner == nil || !s.cfg.allowInsertion || budget <= 0 {
		return nil, false, nil
	}
	k := firstInvalid(timeline)
	if k < from {
		return nil, false, nil
	}

	prev := seed
	if k > 0 {
		prev = timeline[k-1]
	}
	step := plan.Slots()[k]
	pos := step.PosPreConditions.Minus(prev.PosPostConditions).Sorted()
	var neg []Term
	for _, t := range step.NegPreConditions.Sorted() {
		if prev.PosPostConditions.Has(t) {
			neg = append(neg, t)
		}
	}
	if len(pos)+len(neg) == 0 {
		return nil, false, nil
	}

	s.stats.PlannerCalls++
	s.cfg.recorder.Record(s.mode, EventPlanner)
	acts, found, err := s.cfg.planner.Solve(s.ctx, pos, neg, prev)
	if err != nil {
		return nil, false, err
	}
	if !found || len(acts) == 0 || len(acts) > budget {
		return nil, false, nil
	}
	run := make([]Slot, 0, len(acts))
	for _, a := range acts {
		tt, known := s.domain.Task(a.Name)
		if !known || !tt.Primitive() || tt.Arity() != len(a.Args) {
			return nil, false, nil
		}
		run = append(run, ActionSlot(tt.Action, s.domain.resolve(a, tt.ParamTypes)))
	}

	release := plan.Insert(k, run)
	defer func() {
		if !ok {
			release()
		}
	}()
	return s.fillGaps(plan, lead, k+len(run)+1, budget-len(run))
}

func firstInvalid(timeline []Slot) int {
	for i, sl := range timeline {
		if !sl.Valid() {
			return i
		}
	}
	return len(timeline)
}

// indexPath is the chain of arena items being expanded above a node.
type indexPath struct {
	idx  int
	next *indexPath
}

func (p *indexPath) contains(idx int) bool {
	for n := p; n != nil; n = n.next {
		if n.idx == idx {
			return true
		}
	}
	return false
}

// subplans lazily enumerates the grounded subplans of a complete item whose
// first action lands at concrete position at.
func (s *search) subplans(idx, at int, path *indexPath) iter.Seq[searchSub] {
	return func(yield func(searchSub) bool) {
		if path.contains(idx) {
			return
		}
		it := s.items[idx]
		below := &indexPath{idx: idx, next: path}
		for pc := range s.pieces(idx, at, below) {
			for sp := range s.asm.groundAndAssemble(s.ctx, it.rule, pc.parts, float64(pc.end), idx) {
				if !yield(searchSub{sub: sp, end: pc.end, inserted: pc.inserted, deleted: pc.deleted}) {
					return
				}
			}
			if s.ctx.Err() != nil {
				return
			}
		}
	}
}

// pieces enumerates the filled subtasks before the dot of an item, trying
// the cheapest derivations first.
func (s *search) pieces(idx, at int, path *indexPath) iter.Seq[searchPiece] {
	return func(yield func(searchPiece) bool) {
		derivs := append([]searchDeriv(nil), s.items[idx].derivs...)
		sort.SliceStable(derivs, func(i, j int) bool {
			return s.derivCost(derivs[i]) < s.derivCost(derivs[j])
		})
		for _, d := range derivs {
			if s.ctx.Err() != nil {
				return
			}
			if d.op == opStart {
				if !yield(searchPiece{end: at}) {
					return
				}
				continue
			}
			for pre := range s.pieces(d.prev, at, path) {
				var out searchPiece
				switch d.op {
				case opMatch:
					out = pre.with(part{pos: pre.end, observed: d.pos}, 1)
				case opInsert:
					out = pre.with(part{pos: pre.end, observed: -1}, 1)
					out.inserted++
				case opSkip:
					out = pre
					out.deleted++
				case opComplete:
					for c := range s.subplans(d.child, pre.end, path) {
						out = pre.with(part{sub: c.sub}, c.end-pre.end)
						out.inserted += c.inserted
						out.deleted += c.deleted
						if !yield(out) {
							return
						}
					}
					continue
				}
				if !yield(out) {
					return
				}
			}
		}
	}
}

func (p searchPiece) with(pt part, width int) searchPiece {
	return searchPiece{
		parts:    extend(p.parts, pt),
		end:      p.end + width,
		inserted: p.inserted,
		deleted:  p.deleted,
	}
}
