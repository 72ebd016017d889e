package htn

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TraceEntry records one improvement of the best known goal during an
// anytime search.
type TraceEntry struct {
	Plan    []Term
	Flaws   int
	Elapsed time.Duration
}

// Result is the outcome of a run. When Found is false the other fields,
// except RunID and Stats, are zero.
type Result struct {
	RunID string
	Found bool

	// Root is the subplan of the synthetic root task. Its Timeline is
	// propagated from the initial state.
	Root *Subplan
	// Plan is the grounded action sequence of Root.
	Plan []Term

	Inserted int
	Deleted  int
	Flaws    int
	Trace    []TraceEntry
	Stats    Stats
}

// run holds the per-call state shared by every mode.
type run struct {
	id    string
	mode  string
	cfg   *config
	log   logrus.FieldLogger
	start time.Time
	stats Stats
}

func newRun(mode string, length int, opts []Option) *run {
	cfg := newConfig(opts)
	id := uuid.NewString()
	return &run{
		id:   id,
		mode: mode,
		cfg:  cfg,
		log: cfg.logger.WithFields(logrus.Fields{
			"run":         id,
			"mode":        mode,
			"plan_length": length,
		}),
		start: time.Now(),
	}
}

func (r *run) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.timeLimit > 0 {
		return context.WithTimeout(ctx, r.cfg.timeLimit)
	}
	return context.WithCancel(ctx)
}

func (r *run) result() Result {
	return Result{RunID: r.id, Stats: r.stats}
}

func (r *run) found(root *Subplan) Result {
	res := r.result()
	res.Found = true
	res.Root = root
	res.Plan = root.Actions()
	return res
}

func (r *run) done(res Result, err error) {
	entry := r.log.WithFields(logrus.Fields{
		"found":   res.Found,
		"items":   r.stats.Items,
		"elapsed": time.Since(r.start),
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug("run finished")
}

// resolvePlan types the observed actions against the domain. It returns
// false when an action names no declared primitive task.
func resolvePlan(d *Domain, plan []Term) ([]Term, bool) {
	out := make([]Term, len(plan))
	for i, a := range plan {
		tt, ok := d.Task(a.Name)
		if !ok || !tt.Primitive() || tt.Arity() != len(a.Args) {
			return nil, false
		}
		out[i] = d.resolve(a, tt.ParamTypes)
	}
	return out, true
}

// Verify decides whether plan is a valid decomposition of goals from state.
// A plan that does not parse or whose grounded timeline is inconsistent
// yields a Result with Found false and a nil error. ErrUnsupported is
// returned for methods with subtask-relative preconditions.
func Verify(ctx context.Context, d *Domain, state, plan, goals []Term, opts ...Option) (Result, error) {
	r := newRun("verify", len(plan), opts)
	ctx, cancel := r.context(ctx)
	defer cancel()
	r.log.Debug("verifying plan")

	res, err := r.verify(ctx, d, state, plan, goals)
	r.done(res, err)
	return res, err
}

func (r *run) verify(ctx context.Context, d *Domain, state, plan, goals []Term) (Result, error) {
	observed, ok := resolvePlan(d, plan)
	if !ok {
		return r.result(), nil
	}
	root, bindings := d.rootRule(goals)
	ch := newChart(d, r.cfg, r.mode, observed, len(observed), root, &r.stats)
	if err := ch.parse(ctx, bindings); err != nil {
		return r.result(), err
	}

	accept := func(sp *Subplan) ([]Slot, bool) {
		out := Propagate(sp.seed(state), sp.own)
		return out, CheckValidity(out)
	}
	return r.extract(ctx, d, ch, accept)
}

// extract pulls grounded subplans from the goal items of ch until accept
// takes one.
func (r *run) extract(ctx context.Context, d *Domain, ch *chart, accept func(*Subplan) ([]Slot, bool)) (Result, error) {
	asm := &assembler{domain: d, mode: ApplyExact}
	ex := &extractor{asm: asm}
	for _, goal := range ch.goals() {
		r.stats.Goals++
		r.cfg.recorder.Record(r.mode, EventGoal)
		for sp := range ex.subplans(ctx, goal, nil) {
			timeline, ok := accept(sp)
			if !ok {
				r.stats.Rejected++
				r.cfg.recorder.Record(r.mode, EventReject)
				continue
			}
			root := *sp
			root.Timeline = timeline
			r.log.WithField("rule_applications", len(root.History)).Debug("goal accepted")
			return r.found(&root), nil
		}
		if asm.err != nil {
			return r.result(), asm.err
		}
		if err := ctx.Err(); err != nil {
			return r.result(), err
		}
	}
	return r.result(), nil
}

// Recognize completes prefix into the shortest valid decomposition of goals.
// The desired plan length starts at len(prefix) and grows by one until a
// goal is found. Unless WithMaxLength is given the search only ends with a
// goal or with ctx; past the bound it returns ErrSearchLimitReached.
func Recognize(ctx context.Context, d *Domain, state, prefix, goals []Term, opts ...Option) (Result, error) {
	r := newRun("recognize", len(prefix), opts)
	ctx, cancel := r.context(ctx)
	defer cancel()

	res, err := r.recognize(ctx, d, state, prefix, goals)
	r.done(res, err)
	return res, err
}

func (r *run) recognize(ctx context.Context, d *Domain, state, prefix, goals []Term) (Result, error) {
	observed, ok := resolvePlan(d, prefix)
	if !ok {
		return r.result(), nil
	}
	root, bindings := d.rootRule(goals)
	// Slots past the prefix are hypothesized; the accepted timeline folds
	// them into a single trailing slot.
	accept := func(sp *Subplan) ([]Slot, bool) {
		own := sp.own
		return MegaslotPropagate(sp.seed(state), own, len(observed))
	}

	for length := len(observed); ; length++ {
		if r.cfg.maxLength > 0 && length > r.cfg.maxLength {
			return r.result(), ErrSearchLimitReached
		}
		if err := ctx.Err(); err != nil {
			return r.result(), err
		}
		r.log.WithField("length", length).Debug("parsing")
		ch := newChart(d, r.cfg, r.mode, observed, length, root, &r.stats)
		if err := ch.parse(ctx, bindings); err != nil {
			return r.result(), err
		}
		res, err := r.extract(ctx, d, ch, accept)
		if err != nil || res.Found {
			return res, err
		}
	}
}
