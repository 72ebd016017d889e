// Package problem loads HTN domains and problems from YAML files.
package problem

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gitrdm/gokanhtn/internal/satplan"
	"github.com/gitrdm/gokanhtn/pkg/htn"
)

// Modes a problem can request.
const (
	ModeVerify    = "verify"
	ModeRecognize = "recognize"
	ModeRepair    = "repair"
	ModePlan      = "plan"
)

// File is the YAML document layout.
type File struct {
	Name      string       `yaml:"name"`
	Mode      string       `yaml:"mode"`
	Types     []TypeDecl   `yaml:"types"`
	Constants []ConstDecl  `yaml:"constants"`
	Actions   []ActionDecl `yaml:"actions"`
	Tasks     []TaskDecl   `yaml:"tasks"`
	Rules     []RuleDecl   `yaml:"rules"`
	State     []string     `yaml:"state"`
	Plan      []string     `yaml:"plan"`
	Goals     []string     `yaml:"goals"`
	Options   Options      `yaml:"options"`
}

type TypeDecl struct {
	Name    string   `yaml:"name"`
	Parents []string `yaml:"parents"`
}

type ConstDecl struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type ParamDecl struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type ActionDecl struct {
	Name   string      `yaml:"name"`
	Params []ParamDecl `yaml:"params"`
	Pre    []string    `yaml:"pre"`
	NotPre []string    `yaml:"not_pre"`
	Add    []string    `yaml:"add"`
	Del    []string    `yaml:"del"`
}

type TaskDecl struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"`
}

type BetweenDecl struct {
	From    int    `yaml:"from"`
	Until   int    `yaml:"until"`
	Atom    string `yaml:"atom"`
	Negated bool   `yaml:"negated"`
}

type RuleDecl struct {
	Name     string        `yaml:"name"`
	Task     string        `yaml:"task"`
	Vars     []ParamDecl   `yaml:"vars"`
	Subtasks []string      `yaml:"subtasks"`
	Pre      []string      `yaml:"pre"`
	NotPre   []string      `yaml:"not_pre"`
	Post     []string      `yaml:"post"`
	NotPost  []string      `yaml:"not_post"`
	Between  []BetweenDecl `yaml:"between"`
	Ordering [][2]int      `yaml:"ordering"`
}

// Options maps onto the engine options.
type Options struct {
	Insertion         bool          `yaml:"insertion"`
	Deletion          bool          `yaml:"deletion"`
	FirstSolution     bool          `yaml:"first_solution"`
	MaxFlaws          *int          `yaml:"max_flaws"`
	MaxLength         int           `yaml:"max_length"`
	CompareProvenance bool          `yaml:"compare_provenance"`
	TimeLimit         time.Duration `yaml:"time_limit"`
	Planner           string        `yaml:"planner"`
	PlannerMaxSteps   int           `yaml:"planner_max_steps"`
}

// Problem is a loaded, typed problem ready to run.
type Problem struct {
	Name    string
	Mode    string
	Domain  *htn.Domain
	State   []htn.Term
	Plan    []htn.Term
	Goals   []htn.Term
	Options Options
}

// Load reads and builds the problem at path.
func Load(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading problem %s", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading problem %s", path)
	}
	if p.Name == "" {
		p.Name = path
	}
	return p, nil
}

// Parse builds a problem from YAML.
func Parse(data []byte) (*Problem, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decoding yaml")
	}
	return f.Build()
}

// EngineOptions translates the options block. Options given in extra are
// applied last and win.
func (p *Problem) EngineOptions(extra ...htn.Option) []htn.Option {
	o := p.Options
	opts := []htn.Option{
		htn.WithInsertion(o.Insertion),
		htn.WithDeletion(o.Deletion),
		htn.WithFirstSolution(o.FirstSolution),
		htn.WithMaxLength(o.MaxLength),
		htn.WithCompareProvenance(o.CompareProvenance),
		htn.WithTimeLimit(o.TimeLimit),
	}
	if o.MaxFlaws != nil {
		opts = append(opts, htn.WithMaxFlaws(*o.MaxFlaws))
	}
	if o.Planner == "sat" {
		var popts []satplan.Option
		if o.PlannerMaxSteps > 0 {
			popts = append(popts, satplan.WithMaxSteps(o.PlannerMaxSteps))
		}
		opts = append(opts, htn.WithPlanner(satplan.New(p.Domain, popts...)))
	}
	return append(opts, extra...)
}

// builder resolves names while translating a File.
type builder struct {
	types   map[string]*htn.ConstantType
	actions map[string]*htn.ActionType
	tasks   map[string]*htn.TaskType
}

// Build validates f and constructs the domain and problem terms.
func (f *File) Build() (p *Problem, err error) {
	b := &builder{
		types:   map[string]*htn.ConstantType{htn.AnyType.Name: htn.AnyType},
		actions: make(map[string]*htn.ActionType),
		tasks:   make(map[string]*htn.TaskType),
	}

	var types []*htn.ConstantType
	for _, td := range f.Types {
		if _, dup := b.types[td.Name]; dup {
			return nil, errors.Errorf("type %q declared twice", td.Name)
		}
		t := htn.NewConstantType(td.Name)
		b.types[td.Name] = t
		types = append(types, t)
	}
	for _, td := range f.Types {
		for _, pn := range td.Parents {
			parent, ok := b.types[pn]
			if !ok {
				return nil, errors.Errorf("type %q has unknown parent %q", td.Name, pn)
			}
			b.types[td.Name].Parents = append(b.types[td.Name].Parents, parent)
		}
	}

	var constants []htn.Constant
	for _, cd := range f.Constants {
		t, err := b.typ(cd.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "constant %s", cd.Name)
		}
		constants = append(constants, htn.Constant{Name: cd.Name, Type: t})
	}

	var actions []*htn.ActionType
	for _, ad := range f.Actions {
		a, err := b.action(ad)
		if err != nil {
			return nil, errors.Wrapf(err, "action %s", ad.Name)
		}
		actions = append(actions, a)
	}

	var tasks []*htn.TaskType
	for _, td := range f.Tasks {
		if _, dup := b.tasks[td.Name]; dup {
			return nil, errors.Errorf("task %q declared twice", td.Name)
		}
		t := &htn.TaskType{Name: td.Name}
		for _, pn := range td.Params {
			pt, err := b.typ(pn)
			if err != nil {
				return nil, errors.Wrapf(err, "task %s", td.Name)
			}
			t.ParamTypes = append(t.ParamTypes, pt)
		}
		b.tasks[td.Name] = t
		tasks = append(tasks, t)
	}

	var rules []*htn.Rule
	for i, rd := range f.Rules {
		r, err := b.rule(rd)
		if err != nil {
			name := rd.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, errors.Wrapf(err, "rule %s", name)
		}
		rules = append(rules, r)
	}

	defer func() {
		if r := recover(); r != nil {
			p, err = nil, errors.Errorf("invalid domain: %v", r)
		}
	}()
	d := htn.NewDomain(types, constants, tasks, actions, rules)

	p = &Problem{Name: f.Name, Mode: f.Mode, Domain: d, Options: f.Options}
	if p.Mode == "" {
		p.Mode = ModeVerify
	}
	switch p.Mode {
	case ModeVerify, ModeRecognize, ModeRepair, ModePlan:
	default:
		return nil, errors.Errorf("unknown mode %q", p.Mode)
	}
	if p.State, err = groundTerms(f.State); err != nil {
		return nil, errors.Wrap(err, "state")
	}
	if p.Plan, err = groundTerms(f.Plan); err != nil {
		return nil, errors.Wrap(err, "plan")
	}
	if p.Goals, err = groundTerms(f.Goals); err != nil {
		return nil, errors.Wrap(err, "goals")
	}
	for _, g := range p.Goals {
		if _, ok := d.Task(g.Name); !ok {
			return nil, errors.Errorf("goal task %q is not declared", g.Name)
		}
	}
	return p, nil
}

func (b *builder) typ(name string) (*htn.ConstantType, error) {
	if name == "" {
		return htn.AnyType, nil
	}
	t, ok := b.types[name]
	if !ok {
		return nil, errors.Errorf("unknown type %q", name)
	}
	return t, nil
}

func (b *builder) action(ad ActionDecl) (*htn.ActionType, error) {
	if _, dup := b.actions[ad.Name]; dup {
		return nil, errors.New("declared twice")
	}
	a := &htn.ActionType{Name: ad.Name}
	params := make(map[string]int, len(ad.Params))
	for i, pd := range ad.Params {
		t, err := b.typ(pd.Type)
		if err != nil {
			return nil, err
		}
		a.ParamTypes = append(a.ParamTypes, t)
		params[pd.Name] = i
	}
	conds := func(in []string) ([]htn.Condition, error) {
		var out []htn.Condition
		for _, s := range in {
			at, err := parseAtom(s)
			if err != nil {
				return nil, err
			}
			c := htn.Condition{Predicate: at.name}
			for _, arg := range at.args {
				i, ok := params[arg]
				if !ok {
					return nil, errors.Errorf("%q uses unknown parameter %q", s, arg)
				}
				c.Params = append(c.Params, i)
			}
			out = append(out, c)
		}
		return out, nil
	}
	var err error
	if a.PosPre, err = conds(ad.Pre); err != nil {
		return nil, err
	}
	if a.NegPre, err = conds(ad.NotPre); err != nil {
		return nil, err
	}
	if a.PosEff, err = conds(ad.Add); err != nil {
		return nil, err
	}
	if a.NegEff, err = conds(ad.Del); err != nil {
		return nil, err
	}
	b.actions[a.Name] = a
	b.tasks[a.Name] = htn.PrimitiveTask(a)
	return a, nil
}

// ruleVars assigns variable indices, declaring task arguments that are not
// listed under vars with the type of the task parameter they fill.
type ruleVars struct {
	r     *htn.Rule
	index map[string]int
}

func (v *ruleVars) declare(name string, t *htn.ConstantType) int {
	if i, ok := v.index[name]; ok {
		return i
	}
	i := len(v.r.AllVars)
	v.index[name] = i
	v.r.AllVars = append(v.r.AllVars, name)
	v.r.AllVarsTypes = append(v.r.AllVarsTypes, t)
	return i
}

func (v *ruleVars) refs(task *htn.TaskType, args []string) ([]int, error) {
	if len(args) != task.Arity() {
		return nil, errors.Errorf("%s takes %d arguments, got %d", task.Name, task.Arity(), len(args))
	}
	refs := make([]int, len(args))
	for i, a := range args {
		refs[i] = v.declare(a, task.ParamTypes[i])
	}
	return refs, nil
}

func (b *builder) rule(rd RuleDecl) (*htn.Rule, error) {
	head, err := parseAtom(rd.Task)
	if err != nil {
		return nil, err
	}
	main, ok := b.tasks[head.name]
	if !ok {
		return nil, errors.Errorf("unknown task %q", head.name)
	}
	r := &htn.Rule{Name: rd.Name, MainTask: main}
	if r.Name == "" {
		r.Name = head.name
	}
	v := &ruleVars{r: r, index: make(map[string]int)}
	for _, vd := range rd.Vars {
		t, err := b.typ(vd.Type)
		if err != nil {
			return nil, err
		}
		v.declare(vd.Name, t)
	}
	if r.MainTaskRefs, err = v.refs(main, head.args); err != nil {
		return nil, err
	}
	for _, s := range rd.Subtasks {
		at, err := parseAtom(s)
		if err != nil {
			return nil, err
		}
		st, ok := b.tasks[at.name]
		if !ok {
			return nil, errors.Errorf("unknown subtask %q", at.name)
		}
		refs, err := v.refs(st, at.args)
		if err != nil {
			return nil, err
		}
		r.Subtasks = append(r.Subtasks, htn.Subtask{Type: st, Refs: refs})
	}

	conds := func(in []string) ([]htn.RuleCondition, error) {
		var out []htn.RuleCondition
		for _, s := range in {
			at, err := parseAtom(s)
			if err != nil {
				return nil, err
			}
			c, err := v.condition(at, len(r.Subtasks))
			if err != nil {
				return nil, errors.Wrapf(err, "condition %q", s)
			}
			out = append(out, c)
		}
		return out, nil
	}
	if r.PosPre, err = conds(rd.Pre); err != nil {
		return nil, err
	}
	if r.NegPre, err = conds(rd.NotPre); err != nil {
		return nil, err
	}
	if r.PosPost, err = conds(rd.Post); err != nil {
		return nil, err
	}
	if r.NegPost, err = conds(rd.NotPost); err != nil {
		return nil, err
	}
	for _, bd := range rd.Between {
		at, err := parseAtom(bd.Atom)
		if err != nil {
			return nil, err
		}
		at.subtask = bd.From
		c, err := v.condition(at, len(r.Subtasks))
		if err != nil {
			return nil, errors.Wrapf(err, "between %q", bd.Atom)
		}
		if bd.Until < 0 || bd.Until >= len(r.Subtasks) {
			return nil, errors.Errorf("between %q: subtask %d out of range", bd.Atom, bd.Until)
		}
		c.Until = bd.Until
		if bd.Negated {
			r.NegBetween = append(r.NegBetween, c)
		} else {
			r.PosBetween = append(r.PosBetween, c)
		}
	}
	for _, o := range rd.Ordering {
		if o[0] < 0 || o[1] < 0 || o[0] >= len(r.Subtasks) || o[1] >= len(r.Subtasks) {
			return nil, errors.Errorf("ordering %v out of range", o)
		}
		r.Ordering = append(r.Ordering, htn.Ordering{Before: o[0], After: o[1]})
	}
	return r, nil
}

func (v *ruleVars) condition(at atom, subtasks int) (htn.RuleCondition, error) {
	c := htn.RuleCondition{Subtask: at.subtask, Until: htn.WholeRule, Predicate: at.name}
	if c.Subtask < htn.WholeRule || c.Subtask >= subtasks {
		return c, errors.Errorf("subtask %d out of range", c.Subtask)
	}
	for _, a := range at.args {
		i, ok := v.index[a]
		if !ok {
			return c, errors.Errorf("unknown variable %q", a)
		}
		c.Vars = append(c.Vars, i)
	}
	return c, nil
}

// groundTerms parses ground atoms. Argument types are filled in by the
// engine from the declared constants.
func groundTerms(in []string) ([]htn.Term, error) {
	out := make([]htn.Term, 0, len(in))
	for _, s := range in {
		at, err := parseAtom(s)
		if err != nil {
			return nil, err
		}
		out = append(out, htn.NewTerm(at.name, at.args...))
	}
	return out, nil
}
