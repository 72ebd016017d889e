// Package htn grounds Hierarchical Task Network plans against a domain of
// methods and primitive actions.
//
// The engine treats an HTN domain as a first-order grammar: compound tasks are
// non-terminals, primitive actions are terminals and methods are production
// rules. Plans are parsed with an Earley-style chart parser whose items carry
// variable bindings, and every derivation is checked for causal consistency
// with a STRIPS-style timeline of condition sets.
//
// Three entry points are provided:
//   - Verify: decide whether a complete plan is a valid decomposition
//   - Recognize: extend a plan prefix into a complete decomposition
//   - Repair: best-first search over observations that may be missing
//     actions or contain spurious ones (partial observability)
//
// Plan runs the same search without observations.
//
// All enumeration is lazy and single-threaded. Every public operation takes a
// context.Context and unwinds promptly when it is cancelled. Nothing partial
// is ever returned: an interrupted run reports no result, and Repair and Plan
// keep only the trace of solutions improved on before the interruption.
package htn

import (
	"strings"
)

// ConstantType is a node in the subtype lattice of the domain.
// Types are built once from the schema and are immutable afterwards.
type ConstantType struct {
	Name    string
	Parents []*ConstantType
}

// AnyType is the bottom type used for untyped constants and placeholders.
// It is compatible with every other type in both directions.
var AnyType = &ConstantType{Name: "any"}

// NewConstantType creates a type with the given supertypes.
func NewConstantType(name string, parents ...*ConstantType) *ConstantType {
	return &ConstantType{Name: name, Parents: parents}
}

// IsAncestorTo reports whether a parameter declared with type t accepts an
// actual value of type other, i.e. t is other or one of its supertypes.
func (t *ConstantType) IsAncestorTo(other *ConstantType) bool {
	if t == nil || other == nil || t == AnyType || other == AnyType {
		return true
	}
	// Walk upwards from other; lattices are small and acyclic.
	stack := []*ConstantType{other}
	seen := make(map[*ConstantType]bool)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == t || cur.Name == t.Name {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, cur.Parents...)
	}
	return false
}

// String returns the type name.
func (t *ConstantType) String() string {
	if t == nil {
		return AnyType.Name
	}
	return t.Name
}

// Constant is either a bound domain object or an unbound variable slot.
// An empty Name denotes the unbound slot.
type Constant struct {
	Name string
	Type *ConstantType
}

// Var returns an unbound constant slot of the given type.
func Var(t *ConstantType) Constant {
	return Constant{Type: t}
}

// Bound reports whether the constant names a domain object.
func (c Constant) Bound() bool {
	return c.Name != ""
}

// Agrees reports whether c and other can denote the same object: both must be
// bound to the same name, or at least one must be unbound.
func (c Constant) Agrees(other Constant) bool {
	if !c.Bound() || !other.Bound() {
		return true
	}
	return c.Name == other.Name
}

// String returns the name of a bound constant, or "?type" for a slot.
func (c Constant) String() string {
	if c.Bound() {
		return c.Name
	}
	return "?" + c.Type.String()
}

// Term is a named tuple of constants. It represents both ground world-state
// atoms and task or action instances.
type Term struct {
	Name string
	Args []Constant
}

// NewTerm builds a term over bound constants of type AnyType.
func NewTerm(name string, args ...string) Term {
	t := Term{Name: name, Args: make([]Constant, len(args))}
	for i, a := range args {
		t.Args[i] = Constant{Name: a, Type: AnyType}
	}
	return t
}

// Ground reports whether every argument is bound.
func (t Term) Ground() bool {
	for _, a := range t.Args {
		if !a.Bound() {
			return false
		}
	}
	return true
}

// Equal compares name and argument names. Unbound arguments never equal
// anything, including other unbound arguments.
func (t Term) Equal(other Term) bool {
	if t.Name != other.Name || len(t.Args) != len(other.Args) {
		return false
	}
	for i := range t.Args {
		if !t.Args[i].Bound() || t.Args[i].Name != other.Args[i].Name {
			return false
		}
	}
	return true
}

// Key is the canonical string form used for set membership.
func (t Term) Key() string {
	return t.String()
}

// String renders the term as name(a,b).
func (t Term) String() string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteByte('(')
	for i, a := range t.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Clone returns a copy with its own argument slice.
func (t Term) Clone() Term {
	args := make([]Constant, len(t.Args))
	copy(args, t.Args)
	return Term{Name: t.Name, Args: args}
}

// Condition is a predicate template over parameter positions of an action.
type Condition struct {
	Predicate string
	Params    []int
}

// ActionType declares a primitive action and its STRIPS templates.
type ActionType struct {
	Name       string
	ParamTypes []*ConstantType
	PosPre     []Condition
	NegPre     []Condition
	PosEff     []Condition
	NegEff     []Condition
}

// instantiate substitutes args into a list of templates.
func instantiate(conds []Condition, args []Constant) []Term {
	out := make([]Term, 0, len(conds))
	for _, c := range conds {
		t := Term{Name: c.Predicate, Args: make([]Constant, len(c.Params))}
		for i, p := range c.Params {
			t.Args[i] = args[p]
		}
		out = append(out, t)
	}
	return out
}

// TaskType declares a task symbol. Primitive tasks carry their ActionType.
type TaskType struct {
	Name       string
	ParamTypes []*ConstantType
	Action     *ActionType
}

// Primitive reports whether the task is a terminal symbol.
func (t *TaskType) Primitive() bool {
	return t.Action != nil
}

// Arity returns the number of parameters.
func (t *TaskType) Arity() int {
	return len(t.ParamTypes)
}

// PrimitiveTask wraps an action type as a task symbol.
func PrimitiveTask(a *ActionType) *TaskType {
	return &TaskType{Name: a.Name, ParamTypes: a.ParamTypes, Action: a}
}

// WholeRule marks a rule condition that refers to the rule as a whole rather
// than to one of its subtasks.
const WholeRule = -1

// RuleCondition is a condition template over rule variables. Subtask is the
// subtask index or WholeRule. For between-conditions the condition must hold
// from the end of Subtask until the start of Until.
type RuleCondition struct {
	Subtask   int
	Until     int
	Predicate string
	Vars      []int
}

// Ordering requires subtask Before to end before subtask After starts.
type Ordering struct {
	Before int
	After  int
}

// Subtask is one slot of a method body. Refs maps each task parameter onto
// a rule variable index.
type Subtask struct {
	Type *TaskType
	Refs []int
}

// Rule is an HTN method.
type Rule struct {
	Name         string
	MainTask     *TaskType
	MainTaskRefs []int
	Subtasks     []Subtask
	AllVars      []string
	AllVarsTypes []*ConstantType

	PosPre     []RuleCondition
	NegPre     []RuleCondition
	PosPost    []RuleCondition
	NegPost    []RuleCondition
	PosBetween []RuleCondition
	NegBetween []RuleCondition
	Ordering   []Ordering
}

// Empty reports whether the rule decomposes its task into nothing.
func (r *Rule) Empty() bool {
	return len(r.Subtasks) == 0
}

// isEqualityPredicate recognises the built-in equality predicate.
func isEqualityPredicate(name string) bool {
	return strings.Contains(strings.ToLower(name), "equal") || strings.Contains(name, "=")
}

// hasRelativePreconditions reports preconditions attached to a subtask
// instead of to the whole rule.
func (r *Rule) hasRelativePreconditions() bool {
	for _, list := range [][]RuleCondition{r.PosPre, r.NegPre} {
		for _, c := range list {
			if c.Subtask != WholeRule && !isEqualityPredicate(c.Predicate) {
				return true
			}
		}
	}
	return false
}
