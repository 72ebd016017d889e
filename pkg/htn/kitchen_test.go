package htn

// kitchen is the small cooking domain most tests share: boil makes a pot
// hot, pour needs a hot pot and stir does nothing at all.
type kitchen struct {
	pot   *ConstantType
	boil  *ActionType
	pour  *ActionType
	stir  *ActionType
	serve *TaskType
	prep  *TaskType
}

func newKitchen() *kitchen {
	pot := NewConstantType("pot")
	pots := []*ConstantType{pot}
	return &kitchen{
		pot: pot,
		boil: &ActionType{
			Name:       "boil",
			ParamTypes: pots,
			PosEff:     []Condition{{Predicate: "hot", Params: []int{0}}},
		},
		pour: &ActionType{
			Name:       "pour",
			ParamTypes: pots,
			PosPre:     []Condition{{Predicate: "hot", Params: []int{0}}},
			PosEff:     []Condition{{Predicate: "served", Params: []int{0}}},
		},
		stir:  &ActionType{Name: "stir", ParamTypes: pots},
		serve: &TaskType{Name: "serve"},
		prep:  &TaskType{Name: "prep", ParamTypes: pots},
	}
}

func (k *kitchen) domain(rules ...*Rule) *Domain {
	return NewDomain(
		[]*ConstantType{k.pot},
		[]Constant{{Name: "pot1", Type: k.pot}, {Name: "pot2", Type: k.pot}},
		[]*TaskType{k.serve, k.prep},
		[]*ActionType{k.boil, k.pour, k.stir},
		rules,
	)
}

// method decomposes task into steps that all share the single variable p.
func (k *kitchen) method(name string, task *TaskType, steps ...*TaskType) *Rule {
	r := &Rule{
		Name:         name,
		MainTask:     task,
		AllVars:      []string{"p"},
		AllVarsTypes: []*ConstantType{k.pot},
	}
	if task.Arity() == 1 {
		r.MainTaskRefs = []int{0}
	}
	for _, st := range steps {
		var refs []int
		if st.Arity() == 1 {
			refs = []int{0}
		}
		r.Subtasks = append(r.Subtasks, Subtask{Type: st, Refs: refs})
	}
	return r
}

func (k *kitchen) act(a *ActionType) *TaskType {
	return PrimitiveTask(a)
}

var serveGoal = []Term{NewTerm("serve")}

func actions(names ...string) []Term {
	out := make([]Term, len(names))
	for i, n := range names {
		out[i] = NewTerm(n, "pot1")
	}
	return out
}

func planStrings(plan []Term) []string {
	out := make([]string, len(plan))
	for i, t := range plan {
		out[i] = t.String()
	}
	return out
}
