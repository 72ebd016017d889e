package htn

import (
	"fmt"
	"sort"
)

// RootTaskName names the synthetic task that spans a whole plan.
const RootTaskName = "__top"

// Domain is the read-only schema shared by every run. Build it with NewDomain.
type Domain struct {
	Types     []*ConstantType
	Constants []Constant
	Tasks     []*TaskType
	Actions   []*ActionType
	Rules     []*Rule

	tasksByName     map[string]*TaskType
	rulesByTask     map[string][]*Rule
	constantsByName map[string]Constant
	constantsByType map[string][]Constant
}

// NewDomain indexes the schema and expands partially ordered methods into
// one rule per admissible linearization of their subtasks.
//
// NewDomain panics when the schema violates an invariant the engine relies
// on, such as a rule referring to an undeclared task.
func NewDomain(types []*ConstantType, constants []Constant, tasks []*TaskType, actions []*ActionType, rules []*Rule) *Domain {
	d := &Domain{
		Types:           types,
		Constants:       constants,
		Actions:         actions,
		tasksByName:     make(map[string]*TaskType),
		rulesByTask:     make(map[string][]*Rule),
		constantsByName: make(map[string]Constant, len(constants)),
		constantsByType: make(map[string][]Constant),
	}

	for _, t := range tasks {
		d.addTask(t)
	}
	for _, a := range actions {
		if _, ok := d.tasksByName[a.Name]; !ok {
			d.addTask(PrimitiveTask(a))
		}
	}
	for _, c := range constants {
		d.constantsByName[c.Name] = c
	}
	for _, t := range append([]*ConstantType{AnyType}, types...) {
		d.constantsByType[t.String()] = d.collectConstants(t)
	}

	for _, r := range rules {
		d.validateRule(r)
		for _, lin := range linearize(r) {
			d.Rules = append(d.Rules, lin)
			d.rulesByTask[lin.MainTask.Name] = append(d.rulesByTask[lin.MainTask.Name], lin)
		}
	}
	return d
}

func (d *Domain) addTask(t *TaskType) {
	d.Tasks = append(d.Tasks, t)
	d.tasksByName[t.Name] = t
}

func (d *Domain) validateRule(r *Rule) {
	if r.MainTask == nil {
		panic(fmt.Sprintf("htn: rule %q has no main task", r.Name))
	}
	if _, ok := d.tasksByName[r.MainTask.Name]; !ok {
		panic(fmt.Sprintf("htn: rule %q decomposes undeclared task %q", r.Name, r.MainTask.Name))
	}
	if len(r.MainTaskRefs) != r.MainTask.Arity() {
		panic(fmt.Sprintf("htn: rule %q binds %d of %d main task parameters", r.Name, len(r.MainTaskRefs), r.MainTask.Arity()))
	}
	if len(r.AllVarsTypes) != len(r.AllVars) {
		panic(fmt.Sprintf("htn: rule %q declares %d variables but %d types", r.Name, len(r.AllVars), len(r.AllVarsTypes)))
	}
	check := func(refs []int) {
		for _, v := range refs {
			if v < 0 || v >= len(r.AllVars) {
				panic(fmt.Sprintf("htn: rule %q references variable %d out of range", r.Name, v))
			}
		}
	}
	check(r.MainTaskRefs)
	for i, st := range r.Subtasks {
		if st.Type == nil {
			panic(fmt.Sprintf("htn: rule %q subtask %d has no type", r.Name, i))
		}
		if _, ok := d.tasksByName[st.Type.Name]; !ok {
			panic(fmt.Sprintf("htn: rule %q uses undeclared task %q", r.Name, st.Type.Name))
		}
		if len(st.Refs) != st.Type.Arity() {
			panic(fmt.Sprintf("htn: rule %q subtask %s binds %d of %d parameters", r.Name, st.Type.Name, len(st.Refs), st.Type.Arity()))
		}
		check(st.Refs)
	}
	for _, list := range [][]RuleCondition{r.PosPre, r.NegPre, r.PosPost, r.NegPost, r.PosBetween, r.NegBetween} {
		for _, c := range list {
			check(c.Vars)
		}
	}
}

// Task looks up a task symbol by name.
func (d *Domain) Task(name string) (*TaskType, bool) {
	t, ok := d.tasksByName[name]
	return t, ok
}

// RulesFor returns the rules decomposing the named task, in load order.
func (d *Domain) RulesFor(task string) []*Rule {
	return d.rulesByTask[task]
}

// Constant looks up a declared constant by name.
func (d *Domain) Constant(name string) (Constant, bool) {
	c, ok := d.constantsByName[name]
	return c, ok
}

// ConstantsOf returns, in declaration order, every constant whose type is
// accepted by t.
func (d *Domain) ConstantsOf(t *ConstantType) []Constant {
	if cs, ok := d.constantsByType[t.String()]; ok {
		return cs
	}
	return d.collectConstants(t)
}

func (d *Domain) collectConstants(t *ConstantType) []Constant {
	var cs []Constant
	for _, c := range d.Constants {
		if t.IsAncestorTo(c.Type) {
			cs = append(cs, c)
		}
	}
	return cs
}

// resolve turns a name-only term into a typed term, filling argument types
// from declared constants. Unknown or empty names stay unbound.
func (d *Domain) resolve(t Term, paramTypes []*ConstantType) Term {
	out := Term{Name: t.Name, Args: make([]Constant, len(t.Args))}
	for i, a := range t.Args {
		var declared *ConstantType
		if i < len(paramTypes) {
			declared = paramTypes[i]
		}
		switch {
		case a.Bound():
			c, ok := d.constantsByName[a.Name]
			if !ok {
				c = Constant{Name: a.Name, Type: a.Type}
			}
			out.Args[i] = c
		default:
			out.Args[i] = Var(declared)
		}
	}
	return out
}

// rootRule builds the synthetic method __top -> goals.
func (d *Domain) rootRule(goals []Term) (*Rule, []Constant) {
	root := &TaskType{Name: RootTaskName}
	r := &Rule{Name: RootTaskName, MainTask: root}
	var bound []Constant
	for _, g := range goals {
		tt, ok := d.tasksByName[g.Name]
		if !ok {
			panic(fmt.Sprintf("htn: goal task %q is not declared", g.Name))
		}
		g = d.resolve(g, tt.ParamTypes)
		st := Subtask{Type: tt, Refs: make([]int, len(g.Args))}
		for i, a := range g.Args {
			st.Refs[i] = len(r.AllVars)
			r.AllVars = append(r.AllVars, fmt.Sprintf("g%d", len(r.AllVars)))
			r.AllVarsTypes = append(r.AllVarsTypes, tt.ParamTypes[i])
			bound = append(bound, a)
		}
		r.Subtasks = append(r.Subtasks, st)
	}
	return r, bound
}

// linearize expands a method with explicit ordering constraints into one rule
// per topological order of its subtasks. Methods without constraints keep
// their declared order.
func linearize(r *Rule) []*Rule {
	if len(r.Ordering) == 0 || len(r.Subtasks) < 2 {
		return []*Rule{r}
	}
	n := len(r.Subtasks)
	var orders [][]int
	used := make([]bool, n)
	var cur []int
	var walk func()
	walk = func() {
		if len(cur) == n {
			orders = append(orders, append([]int(nil), cur...))
			return
		}
		for i := 0; i < n; i++ {
			if used[i] || !ready(r.Ordering, used, i) {
				continue
			}
			used[i] = true
			cur = append(cur, i)
			walk()
			cur = cur[:len(cur)-1]
			used[i] = false
		}
	}
	walk()

	out := make([]*Rule, 0, len(orders))
	for k, order := range orders {
		out = append(out, permuteRule(r, order, k))
	}
	return out
}

func ready(ordering []Ordering, used []bool, i int) bool {
	for _, o := range ordering {
		if o.After == i && !used[o.Before] {
			return false
		}
	}
	return true
}

func permuteRule(r *Rule, order []int, k int) *Rule {
	pos := make([]int, len(order)) // old index -> new index
	for newIdx, oldIdx := range order {
		pos[oldIdx] = newIdx
	}
	remap := func(i int) int {
		if i == WholeRule {
			return WholeRule
		}
		return pos[i]
	}
	conds := func(in []RuleCondition) []RuleCondition {
		out := make([]RuleCondition, len(in))
		for i, c := range in {
			c.Subtask = remap(c.Subtask)
			if c.Until != WholeRule {
				c.Until = remap(c.Until)
			}
			out[i] = c
		}
		return out
	}

	name := r.Name
	if k > 0 {
		name = fmt.Sprintf("%s#%d", r.Name, k)
	}
	nr := &Rule{
		Name:         name,
		MainTask:     r.MainTask,
		MainTaskRefs: r.MainTaskRefs,
		AllVars:      r.AllVars,
		AllVarsTypes: r.AllVarsTypes,
		PosPre:       conds(r.PosPre),
		NegPre:       conds(r.NegPre),
		PosPost:      conds(r.PosPost),
		NegPost:      conds(r.NegPost),
		PosBetween:   conds(r.PosBetween),
		NegBetween:   conds(r.NegBetween),
	}
	for _, oldIdx := range order {
		nr.Subtasks = append(nr.Subtasks, r.Subtasks[oldIdx])
	}
	for _, o := range r.Ordering {
		nr.Ordering = append(nr.Ordering, Ordering{Before: pos[o.Before], After: pos[o.After]})
	}
	sort.Slice(nr.Ordering, func(i, j int) bool {
		if nr.Ordering[i].Before != nr.Ordering[j].Before {
			return nr.Ordering[i].Before < nr.Ordering[j].Before
		}
		return nr.Ordering[i].After < nr.Ordering[j].After
	})
	return nr
}
