package htn

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Planner is the bridge to a classical planner. Solve returns a linear
// sequence of ground actions that achieves every atom of pos and none of neg
// from the state described by the post-conditions of state. A false result
// means no plan exists; the caller prunes the branch that needed it.
type Planner interface {
	Solve(ctx context.Context, pos, neg []Term, state Slot) ([]Term, bool, error)
}

// Event names an engine step counted by a Recorder.
type Event string

const (
	EventItem      Event = "item"
	EventPredict   Event = "predict"
	EventScan      Event = "scan"
	EventComplete  Event = "complete"
	EventGoal      Event = "goal"
	EventReject    Event = "reject"
	EventPlanner   Event = "planner"
	EventIncumbent Event = "incumbent"
)

// Recorder receives engine events, for example to export metrics.
type Recorder interface {
	Record(mode string, ev Event)
	Incumbent(mode string, flaws int)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, Event)  {}
func (nopRecorder) Incumbent(string, int) {}

// Option configures Verify, Recognize, Repair and Plan.
type Option func(*config)

type config struct {
	logger            logrus.FieldLogger
	recorder          Recorder
	compareProvenance bool
	maxLength         int
	allowInsertion    bool
	allowDeletion     bool
	firstSolution     bool
	maxFlaws          int
	planner           Planner
	timeLimit         time.Duration
}

func newConfig(opts []Option) *config {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	cfg := &config{
		logger:   discard,
		recorder: nopRecorder{},
		maxFlaws: -1,
	}
	for _, o := range opts {
		if o != nil {
			o(cfg)
		}
	}
	return cfg
}

// WithLogger routes engine logs to l.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder reports engine events to r.
func WithRecorder(r Recorder) Option {
	return func(c *config) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithCompareProvenance makes chart deduplication distinguish items whose
// bindings came from different observed actions.
func WithCompareProvenance(on bool) Option {
	return func(c *config) { c.compareProvenance = on }
}

// WithMaxLength bounds the plan length explored by Recognize. Zero means
// unbounded; the caller must then bound the run through its context.
func WithMaxLength(n int) Option {
	return func(c *config) { c.maxLength = n }
}

// WithInsertion allows Repair to insert unobserved actions.
func WithInsertion(on bool) Option {
	return func(c *config) { c.allowInsertion = on }
}

// WithDeletion allows Repair to skip observed actions.
func WithDeletion(on bool) Option {
	return func(c *config) { c.allowDeletion = on }
}

// WithFirstSolution stops Repair at the first valid goal.
func WithFirstSolution(on bool) Option {
	return func(c *config) { c.firstSolution = on }
}

// WithMaxFlaws prunes Repair branches needing more than n edits. A negative
// value disables the bound.
func WithMaxFlaws(n int) Option {
	return func(c *config) { c.maxFlaws = n }
}

// WithPlanner sets the classical planner used by Repair to close
// precondition gaps.
func WithPlanner(p Planner) Option {
	return func(c *config) { c.planner = p }
}

// WithTimeLimit bounds the run. When reached the run returns
// context.DeadlineExceeded with no result; Repair and Plan still fill in the
// trace of improving solutions.
func WithTimeLimit(d time.Duration) Option {
	return func(c *config) { c.timeLimit = d }
}
