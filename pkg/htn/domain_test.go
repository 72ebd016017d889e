package htn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantType_IsAncestorTo(t *testing.T) {
	vessel := NewConstantType("vessel")
	pot := NewConstantType("pot", vessel)
	wok := NewConstantType("wok", pot)
	cup := NewConstantType("cup")

	assert.True(t, vessel.IsAncestorTo(wok))
	assert.True(t, pot.IsAncestorTo(pot))
	assert.False(t, wok.IsAncestorTo(pot))
	assert.False(t, cup.IsAncestorTo(pot))
	assert.True(t, AnyType.IsAncestorTo(cup))
}

func TestDomain_ConstantsOf(t *testing.T) {
	vessel := NewConstantType("vessel")
	pot := NewConstantType("pot", vessel)
	cup := NewConstantType("cup", vessel)
	d := NewDomain(
		[]*ConstantType{vessel, pot, cup},
		[]Constant{{Name: "cup1", Type: cup}, {Name: "pot1", Type: pot}, {Name: "cup2", Type: cup}},
		nil, nil, nil,
	)

	names := func(cs []Constant) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.Name)
		}
		return out
	}
	assert.Equal(t, []string{"cup1", "pot1", "cup2"}, names(d.ConstantsOf(vessel)))
	assert.Equal(t, []string{"cup1", "cup2"}, names(d.ConstantsOf(cup)))
	assert.Equal(t, []string{"cup1", "pot1", "cup2"}, names(d.ConstantsOf(AnyType)))

	c, ok := d.Constant("pot1")
	require.True(t, ok)
	assert.Same(t, pot, c.Type)
}

func TestDomain_ActionsBecomeTasks(t *testing.T) {
	k := newKitchen()
	d := k.domain()

	boil, ok := d.Task("boil")
	require.True(t, ok)
	assert.True(t, boil.Primitive())
	serve, ok := d.Task("serve")
	require.True(t, ok)
	assert.False(t, serve.Primitive())
	_, ok = d.Task("fry")
	assert.False(t, ok)
}

func TestDomain_Linearize(t *testing.T) {
	k := newKitchen()
	r := k.method("serve", k.serve, k.act(k.boil), k.act(k.stir), k.act(k.pour))
	r.Ordering = []Ordering{{Before: 0, After: 2}}
	r.PosPre = []RuleCondition{{Subtask: 2, Until: WholeRule, Predicate: "clean", Vars: []int{0}}}
	d := k.domain(r)

	rules := d.RulesFor("serve")
	require.Len(t, rules, 3)
	order := func(r *Rule) []string {
		var out []string
		for _, st := range r.Subtasks {
			out = append(out, st.Type.Name)
		}
		return out
	}
	assert.Equal(t, "serve", rules[0].Name)
	assert.Equal(t, []string{"boil", "stir", "pour"}, order(rules[0]))
	assert.Equal(t, "serve#1", rules[1].Name)
	assert.Equal(t, []string{"boil", "pour", "stir"}, order(rules[1]))
	assert.Equal(t, "serve#2", rules[2].Name)
	assert.Equal(t, []string{"stir", "boil", "pour"}, order(rules[2]))

	// conditions and constraints follow their subtask
	assert.Equal(t, 1, rules[1].PosPre[0].Subtask)
	assert.Equal(t, []Ordering{{Before: 0, After: 1}}, rules[1].Ordering)
	assert.Equal(t, []Ordering{{Before: 1, After: 2}}, rules[2].Ordering)
}

func TestDomain_UnorderedMethodKeepsOrder(t *testing.T) {
	k := newKitchen()
	r := k.method("serve", k.serve, k.act(k.boil), k.act(k.pour))
	d := k.domain(r)
	require.Len(t, d.RulesFor("serve"), 1)
	assert.Same(t, r, d.RulesFor("serve")[0])
}

func TestNewDomain_PanicsOnBrokenSchema(t *testing.T) {
	k := newKitchen()
	tests := []struct {
		name string
		rule *Rule
	}{
		{"undeclared task", &Rule{Name: "r", MainTask: &TaskType{Name: "cook"}}},
		{"missing main task", &Rule{Name: "r"}},
		{"variable out of range", &Rule{
			Name:     "r",
			MainTask: k.serve,
			Subtasks: []Subtask{{Type: k.act(k.boil), Refs: []int{3}}},
		}},
		{"arity mismatch", &Rule{
			Name:         "r",
			MainTask:     k.serve,
			AllVars:      []string{"p"},
			AllVarsTypes: []*ConstantType{k.pot},
			Subtasks:     []Subtask{{Type: k.act(k.boil), Refs: []int{0, 0}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() { k.domain(tt.rule) })
		})
	}
}

func TestDomain_RootRule(t *testing.T) {
	k := newKitchen()
	d := k.domain()

	root, bound := d.rootRule([]Term{NewTerm("serve"), NewTerm("prep", "pot2")})
	assert.Equal(t, RootTaskName, root.Name)
	require.Len(t, root.Subtasks, 2)
	assert.Equal(t, []int{0}, root.Subtasks[1].Refs)
	require.Len(t, bound, 1)
	assert.Equal(t, "pot2", bound[0].Name)
	assert.Same(t, k.pot, bound[0].Type)

	assert.Panics(t, func() { d.rootRule([]Term{NewTerm("cook")}) })
}

func TestResolvePlan(t *testing.T) {
	k := newKitchen()
	d := k.domain()

	plan, ok := resolvePlan(d, actions("boil", "pour"))
	require.True(t, ok)
	assert.Same(t, k.pot, plan[0].Args[0].Type)

	_, ok = resolvePlan(d, []Term{NewTerm("serve")})
	assert.False(t, ok, "compound tasks are not actions")
}
