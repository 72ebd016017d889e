package htn

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// TaskKind tags the two variants of a grammar symbol.
type TaskKind int

const (
	// Abstract symbols wrap compound tasks.
	Abstract TaskKind = iota
	// Primitive symbols wrap actions.
	Primitive
)

func (k TaskKind) String() string {
	if k == Primitive {
		return "primitive"
	}
	return "abstract"
}

// Support links a bound parameter back to the observed action that bound it.
type Support struct {
	Param    int
	Position int
	Action   string
}

func (s Support) String() string {
	return fmt.Sprintf("%d@%d:%s", s.Param, s.Position, s.Action)
}

// CFGTask is a grammar symbol instance owned by one CFGRule slot.
type CFGTask struct {
	Kind     TaskKind
	Type     *TaskType
	Args     []Constant
	Supports []Support
}

func newCFGTask(t *TaskType) CFGTask {
	k := Abstract
	if t.Primitive() {
		k = Primitive
	}
	args := make([]Constant, t.Arity())
	for i, pt := range t.ParamTypes {
		args[i] = Var(pt)
	}
	return CFGTask{Kind: k, Type: t, Args: args}
}

// Term returns the task instance signature.
func (t CFGTask) Term() Term {
	args := make([]Constant, len(t.Args))
	copy(args, t.Args)
	return Term{Name: t.Type.Name, Args: args}
}

func (t CFGTask) clone() CFGTask {
	out := CFGTask{Kind: t.Kind, Type: t.Type, Args: make([]Constant, len(t.Args))}
	copy(out.Args, t.Args)
	if len(t.Supports) > 0 {
		out.Supports = append([]Support(nil), t.Supports...)
	}
	return out
}

// compatible reports whether a concrete task instance can fill this symbol:
// same name, agreeing bound arguments, and type-compatible arguments.
func (t CFGTask) compatible(inst Term) bool {
	if t.Type.Name != inst.Name || len(t.Args) != len(inst.Args) {
		return false
	}
	for i, a := range t.Args {
		b := inst.Args[i]
		if !a.Agrees(b) {
			return false
		}
		if b.Bound() && !a.Bound() && !a.Type.IsAncestorTo(b.Type) {
			return false
		}
	}
	return true
}

// CFGRule is one instantiation of a Rule against one occurrence of its main
// task. Dot is the Earley position: subtasks before Dot have been matched.
//
// Variable bindings live in Vars; the task argument slices are views kept in
// sync with them. Snapshots taken with SaveCurrentState are restored in
// strict stack order by ResetVariables.
type CFGRule struct {
	Rule     *Rule
	MainTask CFGTask
	Subtasks []CFGTask
	Vars     []Constant
	Dot      int

	snapshots [][]Constant
}

// NewCFGRule instantiates r with every variable unbound and the dot at 0.
func NewCFGRule(r *Rule) *CFGRule {
	c := &CFGRule{
		Rule:     r,
		MainTask: newCFGTask(r.MainTask),
		Subtasks: make([]CFGTask, len(r.Subtasks)),
		Vars:     make([]Constant, len(r.AllVars)),
	}
	for i, st := range r.Subtasks {
		c.Subtasks[i] = newCFGTask(st.Type)
	}
	for i, t := range r.AllVarsTypes {
		c.Vars[i] = Var(t)
	}
	c.sync()
	return c
}

// Clone copies the rule state without its snapshot stack.
func (c *CFGRule) Clone() *CFGRule {
	out := &CFGRule{
		Rule:     c.Rule,
		MainTask: c.MainTask.clone(),
		Subtasks: make([]CFGTask, len(c.Subtasks)),
		Vars:     make([]Constant, len(c.Vars)),
		Dot:      c.Dot,
	}
	for i, st := range c.Subtasks {
		out.Subtasks[i] = st.clone()
	}
	copy(out.Vars, c.Vars)
	return out
}

// Complete reports whether the dot is past the last subtask.
func (c *CFGRule) Complete() bool {
	return c.Dot >= len(c.Subtasks)
}

// Next returns the symbol after the dot, or nil when complete.
func (c *CFGRule) Next() *CFGTask {
	if c.Complete() {
		return nil
	}
	return &c.Subtasks[c.Dot]
}

// Advance returns a copy with the dot moved one symbol to the right.
func (c *CFGRule) Advance() *CFGRule {
	out := c.Clone()
	out.Dot++
	return out
}

// SaveCurrentState pushes a snapshot of the variable bindings.
func (c *CFGRule) SaveCurrentState() {
	snap := make([]Constant, len(c.Vars))
	copy(snap, c.Vars)
	c.snapshots = append(c.snapshots, snap)
}

// ResetVariables pops the most recent snapshot and restores it.
func (c *CFGRule) ResetVariables() {
	n := len(c.snapshots)
	if n == 0 {
		panic("htn: ResetVariables without SaveCurrentState")
	}
	copy(c.Vars, c.snapshots[n-1])
	c.snapshots = c.snapshots[:n-1]
	c.sync()
}

// dropState pops the most recent snapshot, keeping the current bindings.
func (c *CFGRule) dropState() {
	c.snapshots = c.snapshots[:len(c.snapshots)-1]
}

// WithSnapshot runs fn inside a binding transaction. The bindings made by fn
// are kept when it returns true and rolled back on every other exit path,
// including panics.
func (c *CFGRule) WithSnapshot(fn func() bool) (ok bool) {
	c.SaveCurrentState()
	defer func() {
		if ok {
			c.dropState()
		} else {
			c.ResetVariables()
		}
	}()
	return fn()
}

// SetVariablesFromMainTask binds rule variables from an already bound
// occurrence of the main task. It returns false, leaving the bindings
// unchanged, if two positions sharing a variable disagree.
func (c *CFGRule) SetVariablesFromMainTask(t CFGTask) bool {
	return c.WithSnapshot(func() bool {
		return c.bindRefs(c.Rule.MainTaskRefs, t.Args)
	})
}

// SetVariablesFromSubtask binds rule variables from an instance of subtask i.
func (c *CFGRule) SetVariablesFromSubtask(i int, t CFGTask) bool {
	ok := c.WithSnapshot(func() bool {
		return c.bindRefs(c.Rule.Subtasks[i].Refs, t.Args)
	})
	if ok && len(t.Supports) > 0 {
		c.Subtasks[i].Supports = mergeSupports(c.Subtasks[i].Supports, t.Supports)
		c.MainTask.Supports = mergeSupports(c.MainTask.Supports, c.liftSupports(i, t.Supports))
	}
	return ok
}

// liftSupports re-indexes supports of subtask i onto the main task
// parameters sharing the same variable. Supports of variables the main task
// does not carry are dropped.
func (c *CFGRule) liftSupports(i int, sup []Support) []Support {
	refs := c.Rule.Subtasks[i].Refs
	var out []Support
	for _, s := range sup {
		if s.Param < 0 || s.Param >= len(refs) {
			continue
		}
		for m, v := range c.Rule.MainTaskRefs {
			if v == refs[s.Param] {
				lifted := s
				lifted.Param = m
				out = append(out, lifted)
			}
		}
	}
	return out
}

// bindVars assigns constants to rule variables directly, used for the root.
func (c *CFGRule) bindVars(values []Constant) bool {
	refs := make([]int, len(values))
	for i := range refs {
		refs[i] = i
	}
	return c.WithSnapshot(func() bool { return c.bindRefs(refs, values) })
}

func (c *CFGRule) bindRefs(refs []int, args []Constant) bool {
	for j, a := range args {
		if j >= len(refs) || !a.Bound() {
			continue
		}
		if !c.bindVar(refs[j], a) {
			return false
		}
	}
	if !c.enforceConstraints() {
		return false
	}
	c.sync()
	return true
}

func (c *CFGRule) bindVar(v int, a Constant) bool {
	cur := c.Vars[v]
	if cur.Bound() {
		return cur.Name == a.Name
	}
	if !cur.Type.IsAncestorTo(a.Type) {
		return false
	}
	typ := a.Type
	if typ == nil {
		typ = cur.Type
	}
	c.Vars[v] = Constant{Name: a.Name, Type: typ}
	return true
}

// enforceConstraints resolves equality preconditions by binding or rejecting
// and rejects violated inequalities. It iterates to a fixpoint because one
// equality may bind a variable another one depends on.
func (c *CFGRule) enforceConstraints() bool {
	for changed := true; changed; {
		changed = false
		for _, cond := range c.Rule.PosPre {
			if !isEqualityPredicate(cond.Predicate) || len(cond.Vars) != 2 {
				continue
			}
			a, b := cond.Vars[0], cond.Vars[1]
			va, vb := c.Vars[a], c.Vars[b]
			switch {
			case va.Bound() && vb.Bound():
				if va.Name != vb.Name {
					return false
				}
			case va.Bound():
				if !c.bindVar(b, va) {
					return false
				}
				changed = true
			case vb.Bound():
				if !c.bindVar(a, vb) {
					return false
				}
				changed = true
			}
		}
	}
	return c.inequalitiesHold()
}

func (c *CFGRule) inequalitiesHold() bool {
	for _, cond := range c.Rule.NegPre {
		if !isEqualityPredicate(cond.Predicate) || len(cond.Vars) != 2 {
			continue
		}
		va, vb := c.Vars[cond.Vars[0]], c.Vars[cond.Vars[1]]
		if va.Bound() && vb.Bound() && va.Name == vb.Name {
			return false
		}
	}
	return true
}

// sync copies variable bindings into the task argument views.
func (c *CFGRule) sync() {
	for j, v := range c.Rule.MainTaskRefs {
		c.MainTask.Args[j] = c.Vars[v]
	}
	for i, st := range c.Rule.Subtasks {
		for j, v := range st.Refs {
			c.Subtasks[i].Args[j] = c.Vars[v]
		}
	}
}

// Unbound returns the indices of variables without a value, in order.
func (c *CFGRule) Unbound() []int {
	var out []int
	for i, v := range c.Vars {
		if !v.Bound() {
			out = append(out, i)
		}
	}
	return out
}

// ruleIdentity is the structural identity of a rule state. Vars holds the
// constant bound to each variable, "" when unbound. Supports is only filled
// when binding provenance is compared.
type ruleIdentity struct {
	Rule     string
	Dot      int
	Vars     []string
	Supports [][]Support
}

func (c *CFGRule) identity(provenance bool) ruleIdentity {
	id := ruleIdentity{Rule: c.Rule.Name, Dot: c.Dot, Vars: make([]string, len(c.Vars))}
	for i, v := range c.Vars {
		if v.Bound() {
			id.Vars[i] = v.Name
		}
	}
	if provenance {
		id.Supports = make([][]Support, len(c.Subtasks))
		for i, st := range c.Subtasks {
			id.Supports[i] = st.Supports
		}
	}
	return id
}

func (id ruleIdentity) equal(other ruleIdentity) bool {
	return id.Rule == other.Rule && id.Dot == other.Dot &&
		slices.Equal(id.Vars, other.Vars) &&
		slices.EqualFunc(id.Supports, other.Supports, slices.Equal[[]Support])
}

// String renders the dotted rule, e.g. serve() -> boil(pot1) . pour(?pot).
func (c *CFGRule) String() string {
	var b strings.Builder
	b.WriteString(c.MainTask.Term().String())
	b.WriteString(" ->")
	for i, st := range c.Subtasks {
		if i == c.Dot {
			b.WriteString(" .")
		}
		b.WriteByte(' ')
		b.WriteString(st.Term().String())
	}
	if c.Complete() {
		b.WriteString(" .")
	}
	return b.String()
}

func mergeSupports(into, from []Support) []Support {
	seen := make(map[string]bool, len(into))
	for _, s := range into {
		seen[s.String()] = true
	}
	for _, s := range from {
		if !seen[s.String()] {
			into = append(into, s)
			seen[s.String()] = true
		}
	}
	sort.Slice(into, func(i, j int) bool {
		if into[i].Position != into[j].Position {
			return into[i].Position < into[j].Position
		}
		return into[i].Param < into[j].Param
	})
	return into
}
