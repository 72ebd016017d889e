package htn

// ConcretePlan is the linear sequence of step slots a search candidate is
// being turned into. Runs of slots are inserted with Insert, which hands
// back the only way to remove them again; removals must happen in reverse
// order of insertion.
type ConcretePlan struct {
	slots []Slot
	runs  []planRun
}

type planRun struct {
	at int
	n  int
}

// NewConcretePlan starts a plan from a copy of slots.
func NewConcretePlan(slots []Slot) *ConcretePlan {
	p := &ConcretePlan{slots: make([]Slot, len(slots))}
	for i, s := range slots {
		p.slots[i] = s.Clone()
	}
	return p
}

// Len is the number of steps.
func (p *ConcretePlan) Len() int { return len(p.slots) }

// Slots returns the current steps. The slice is only valid until the next
// Insert or release.
func (p *ConcretePlan) Slots() []Slot { return p.slots }

// Inserted counts the steps added through Insert and not yet released.
func (p *ConcretePlan) Inserted() int {
	n := 0
	for _, r := range p.runs {
		n += r.n
	}
	return n
}

// Actions returns the actions of every step in order.
func (p *ConcretePlan) Actions() []Term {
	var out []Term
	for _, s := range p.slots {
		if s.Action != nil {
			out = append(out, s.Action.Clone())
		}
	}
	return out
}

// Insert places run before step at and returns the release function that
// removes exactly that run. Calling release more than once is a no-op;
// releasing out of order panics, since it would remove the wrong steps.
func (p *ConcretePlan) Insert(at int, run []Slot) (release func()) {
	if at < 0 || at > len(p.slots) {
		panic("htn: ConcretePlan.Insert out of range")
	}
	ins := make([]Slot, 0, len(p.slots)+len(run))
	ins = append(ins, p.slots[:at]...)
	for _, s := range run {
		ins = append(ins, s.Clone())
	}
	p.slots = append(ins, p.slots[at:]...)
	p.runs = append(p.runs, planRun{at: at, n: len(run)})
	depth := len(p.runs)

	released := false
	return func() {
		if released {
			return
		}
		if len(p.runs) != depth {
			panic("htn: ConcretePlan released out of order")
		}
		released = true
		p.runs = p.runs[:depth-1]
		p.slots = append(p.slots[:at], p.slots[at+len(run):]...)
	}
}
