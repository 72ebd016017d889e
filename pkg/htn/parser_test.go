package htn

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_AcceptsValidPlan(t *testing.T) {
	k := newKitchen()
	d := k.domain(k.method("serve-hot", k.serve, k.act(k.boil)))

	res, err := Verify(context.Background(), d, nil, actions("boil"), serveGoal)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, []string{"boil(pot1)"}, planStrings(res.Plan))
	require.Len(t, res.Root.Timeline, 1)
	assert.True(t, res.Root.Timeline[0].PosPostConditions.Has(NewTerm("hot", "pot1")))
	assert.NotEmpty(t, res.RunID)
	assert.Zero(t, res.Flaws)
}

func TestVerify_RejectsUnmetPrecondition(t *testing.T) {
	k := newKitchen()
	d := k.domain(k.method("serve-poured", k.serve, k.act(k.pour)))

	res, err := Verify(context.Background(), d, nil, actions("pour"), serveGoal)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Nil(t, res.Root)
	assert.Positive(t, res.Stats.Rejected)
}

func TestVerify_InitialStateSatisfiesPrecondition(t *testing.T) {
	k := newKitchen()
	d := k.domain(k.method("serve-poured", k.serve, k.act(k.pour)))
	state := []Term{NewTerm("hot", "pot1")}

	res, err := Verify(context.Background(), d, state, actions("pour"), serveGoal)
	require.NoError(t, err)
	require.True(t, res.Found)
	post := res.Root.Timeline[0].PosPostConditions
	assert.True(t, post.Has(NewTerm("hot", "pot1")))
	assert.True(t, post.Has(NewTerm("served", "pot1")))
}

func TestVerify_NotAParse(t *testing.T) {
	k := newKitchen()
	d := k.domain(k.method("serve", k.serve, k.act(k.boil), k.act(k.pour)))

	tests := []struct {
		name string
		plan []Term
	}{
		{"wrong order", actions("pour", "boil")},
		{"too short", actions("boil")},
		{"too long", actions("boil", "pour", "pour")},
		{"unknown action", []Term{NewTerm("fry", "pot1")}},
		{"wrong arity", []Term{NewTerm("boil")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Verify(context.Background(), d, nil, tt.plan, serveGoal)
			require.NoError(t, err)
			assert.False(t, res.Found)
		})
	}
}

func TestVerify_GoalArguments(t *testing.T) {
	k := newKitchen()
	d := k.domain(k.method("prep-boil", k.prep, k.act(k.boil)))

	res, err := Verify(context.Background(), d, nil, actions("boil"), []Term{NewTerm("prep", "pot1")})
	require.NoError(t, err)
	assert.True(t, res.Found)

	res, err = Verify(context.Background(), d, nil, actions("boil"), []Term{NewTerm("prep", "pot2")})
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestVerify_BetweenConditions(t *testing.T) {
	k := newKitchen()
	plan := actions("boil", "stir", "pour")
	between := func(positive bool) *Domain {
		r := k.method("serve", k.serve, k.act(k.boil), k.act(k.stir), k.act(k.pour))
		c := []RuleCondition{{Subtask: 0, Until: 2, Predicate: "hot", Vars: []int{0}}}
		if positive {
			r.PosBetween = c
		} else {
			r.NegBetween = c
		}
		return k.domain(r)
	}

	res, err := Verify(context.Background(), between(true), nil, plan, serveGoal)
	require.NoError(t, err)
	assert.True(t, res.Found, "hot holds from boil until pour")

	res, err = Verify(context.Background(), between(false), nil, plan, serveGoal)
	require.NoError(t, err)
	assert.False(t, res.Found, "pour needs the hot pot the condition forbids")
}

func TestVerify_MethodPostconditions(t *testing.T) {
	k := newKitchen()
	r := k.method("serve", k.serve, k.act(k.boil))
	r.NegPost = []RuleCondition{{Subtask: WholeRule, Until: WholeRule, Predicate: "hot", Vars: []int{0}}}
	d := k.domain(r)

	res, err := Verify(context.Background(), d, nil, actions("boil"), serveGoal)
	require.NoError(t, err)
	require.True(t, res.Found)
	last := res.Root.Timeline[len(res.Root.Timeline)-1]
	assert.True(t, last.NegPostConditions.Has(NewTerm("hot", "pot1")))
	assert.False(t, last.PosPostConditions.Has(NewTerm("hot", "pot1")))
}

func TestVerify_EmptyMethod(t *testing.T) {
	k := newKitchen()
	empty := &Rule{Name: "nothing", MainTask: k.serve}
	d := k.domain(empty)

	res, err := Verify(context.Background(), d, nil, nil, serveGoal)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Empty(t, res.Plan)
	require.Len(t, res.Root.Children, 1)
	assert.True(t, res.Root.Children[0].Span().Empty())
}

func TestVerify_EmptyMethodEffectsPrecedeNextAction(t *testing.T) {
	k := newKitchen()
	assumeHot := k.method("prep-assume-hot", k.prep)
	assumeHot.PosPost = []RuleCondition{{Subtask: WholeRule, Until: WholeRule, Predicate: "hot", Vars: []int{0}}}
	hot := NewTerm("hot", "pot1")

	t.Run("before", func(t *testing.T) {
		d := k.domain(k.method("serve", k.serve, k.prep, k.act(k.pour)), assumeHot)

		res, err := Verify(context.Background(), d, nil, actions("pour"), serveGoal)
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.Equal(t, []string{"pour(pot1)"}, planStrings(res.Plan))
		require.Len(t, res.Root.Timeline, 1)
		assert.True(t, res.Root.Timeline[0].PosPreConditions.Has(hot))
	})

	t.Run("after", func(t *testing.T) {
		d := k.domain(k.method("serve", k.serve, k.act(k.pour), k.prep), assumeHot)

		res, err := Verify(context.Background(), d, nil, actions("pour"), serveGoal)
		require.NoError(t, err)
		assert.False(t, res.Found)

		res, err = Verify(context.Background(), d, []Term{hot}, actions("pour"), serveGoal)
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.True(t, res.Root.Timeline[0].PosPostConditions.Has(hot))
	})
}

func TestVerify_SubtaskRelativePreconditionUnsupported(t *testing.T) {
	k := newKitchen()
	r := k.method("serve", k.serve, k.act(k.boil), k.act(k.pour))
	r.PosPre = []RuleCondition{{Subtask: 1, Until: WholeRule, Predicate: "hot", Vars: []int{0}}}
	d := k.domain(r)

	res, err := Verify(context.Background(), d, nil, actions("boil", "pour"), serveGoal)
	assert.True(t, errors.Is(err, ErrUnsupported), "got %v", err)
	assert.False(t, res.Found)
}

func TestVerify_Cancelled(t *testing.T) {
	k := newKitchen()
	d := k.domain(k.method("serve-hot", k.serve, k.act(k.boil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Verify(ctx, d, nil, actions("boil"), serveGoal)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Found)
}

func TestVerify_AmbiguousGrammar(t *testing.T) {
	k := newKitchen()
	d := k.domain(
		k.method("serve", k.serve, k.prep),
		k.method("prep-a", k.prep, k.act(k.boil)),
		k.method("prep-b", k.prep, k.act(k.boil)),
	)

	res, err := Verify(context.Background(), d, nil, actions("boil"), serveGoal)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Contains(t, res.Root.Tree(), "prep(pot1) [prep-a]")
}

func TestVerify_Deterministic(t *testing.T) {
	k := newKitchen()
	d := k.domain(
		k.method("serve", k.serve, k.prep, k.act(k.pour)),
		k.method("prep-a", k.prep, k.act(k.boil)),
		k.method("prep-b", k.prep, k.act(k.stir), k.act(k.boil)),
	)
	plan := actions("stir", "boil", "pour")

	first, err := Verify(context.Background(), d, nil, plan, serveGoal)
	require.NoError(t, err)
	second, err := Verify(context.Background(), d, nil, plan, serveGoal)
	require.NoError(t, err)
	require.True(t, first.Found)

	opts := cmp.Options{
		cmpopts.IgnoreUnexported(Subplan{}),
		cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 }),
	}
	assert.Empty(t, cmp.Diff(first.Root, second.Root, opts))
	assert.Empty(t, cmp.Diff(first.Plan, second.Plan))
	assert.Equal(t, first.Stats, second.Stats)
}

func TestVerify_EverySubplanValid(t *testing.T) {
	k := newKitchen()
	d := k.domain(
		k.method("serve", k.serve, k.prep, k.act(k.pour)),
		k.method("prep", k.prep, k.act(k.boil), k.act(k.stir)),
	)

	res, err := Verify(context.Background(), d, nil, actions("boil", "stir", "pour"), serveGoal)
	require.NoError(t, err)
	require.True(t, res.Found)

	var walk func(sp *Subplan)
	walk = func(sp *Subplan) {
		assert.True(t, sp.Valid(), "invalid timeline under %s", sp.Task)
		for _, c := range sp.Children {
			walk(c)
		}
	}
	walk(res.Root)
	for i := range res.Plan {
		assert.True(t, res.Root.ConsumesObserved(i))
	}
}

func TestRecognize_CompletesPrefix(t *testing.T) {
	k := newKitchen()
	d := k.domain(k.method("serve", k.serve, k.act(k.boil), k.act(k.pour)))

	res, err := Recognize(context.Background(), d, nil, actions("boil"), serveGoal)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, []string{"boil(pot1)", "pour(pot1)"}, planStrings(res.Plan))
	// the observed slot plus one folded slot for the hypothesized rest
	assert.Len(t, res.Root.Timeline, 2)
	assert.True(t, res.Root.ConsumesObserved(0))
	assert.False(t, res.Root.ConsumesObserved(1))
}

func TestRecognize_FullPlanNeedsNoExtension(t *testing.T) {
	k := newKitchen()
	d := k.domain(k.method("serve", k.serve, k.act(k.boil), k.act(k.pour)))

	res, err := Recognize(context.Background(), d, nil, actions("boil", "pour"), serveGoal)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, []string{"boil(pot1)", "pour(pot1)"}, planStrings(res.Plan))
}

func TestRecognize_MaxLength(t *testing.T) {
	k := newKitchen()
	d := k.domain(k.method("serve", k.serve, k.act(k.boil), k.act(k.pour)))

	res, err := Recognize(context.Background(), d, nil, actions("boil"), serveGoal, WithMaxLength(1))
	assert.ErrorIs(t, err, ErrSearchLimitReached)
	assert.False(t, res.Found)

	// a prefix no decomposition starts with
	res, err = Recognize(context.Background(), d, nil, actions("pour"), serveGoal, WithMaxLength(4))
	assert.ErrorIs(t, err, ErrSearchLimitReached)
	assert.False(t, res.Found)
}
