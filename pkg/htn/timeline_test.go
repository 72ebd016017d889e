package htn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slotOf(pre, notPre, post, notPost []Term) Slot {
	s := NewSlot()
	for _, t := range pre {
		s.PosPreConditions.Add(t)
	}
	for _, t := range notPre {
		s.NegPreConditions.Add(t)
	}
	for _, t := range post {
		s.PosPostConditions.Add(t)
	}
	for _, t := range notPost {
		s.NegPostConditions.Add(t)
	}
	return s
}

func TestPropagate(t *testing.T) {
	hot, served := NewTerm("hot", "pot1"), NewTerm("served", "pot1")
	timeline := []Slot{
		slotOf(nil, nil, []Term{hot}, nil),
		slotOf([]Term{hot}, nil, []Term{served}, []Term{hot}),
		NewSlot(),
	}

	out := Propagate(NewSlot(), timeline)
	require.Len(t, out, 3)
	assert.True(t, out[0].PosPostConditions.Has(hot))
	assert.True(t, out[1].PosPreConditions.Has(hot))
	assert.True(t, out[1].PosPostConditions.Has(served))
	assert.False(t, out[1].PosPostConditions.Has(hot))
	assert.True(t, out[2].NegPreConditions.Has(hot))
	assert.True(t, out[2].PosPostConditions.Has(served))
	assert.True(t, CheckValidity(out))

	// input untouched
	assert.Empty(t, timeline[2].PosPreConditions)
}

func TestPropagate_Idempotent(t *testing.T) {
	a, b, c := NewTerm("a"), NewTerm("b"), NewTerm("c")
	seed := slotOf(nil, nil, []Term{a}, []Term{c})
	timeline := []Slot{
		slotOf(nil, nil, []Term{b}, []Term{a}),
		slotOf([]Term{b}, nil, []Term{c}, nil),
		slotOf(nil, []Term{a}, nil, []Term{b}),
	}

	once := Propagate(seed, timeline)
	twice := Propagate(seed, once)
	require.Len(t, twice, len(once))
	for i := range once {
		assert.True(t, once[i].Equal(twice[i]), "slot %d: %s != %s", i, once[i], twice[i])
	}
}

func TestPropagate_AssertionBeatsInheritance(t *testing.T) {
	a := NewTerm("a")
	seed := slotOf(nil, nil, nil, []Term{a})
	out := Propagate(seed, []Slot{slotOf(nil, nil, []Term{a}, nil)})
	assert.True(t, out[0].PosPostConditions.Has(a))
	assert.False(t, out[0].NegPostConditions.Has(a))
	assert.True(t, out[0].Valid())
}

func TestSlotValid(t *testing.T) {
	a := NewTerm("a")
	assert.True(t, NewSlot().Valid())
	assert.False(t, slotOf([]Term{a}, []Term{a}, nil, nil).Valid())
	assert.False(t, slotOf(nil, nil, []Term{a}, []Term{a}).Valid())
	assert.True(t, slotOf([]Term{a}, nil, nil, []Term{a}).Valid())
}

func TestInitialSlot_ClosedWorld(t *testing.T) {
	hot, cold := NewTerm("hot", "pot1"), NewTerm("cold", "pot1")
	timeline := []Slot{slotOf([]Term{hot}, []Term{cold}, nil, nil)}

	seed := InitialSlot([]Term{hot}, timeline)
	assert.True(t, seed.PosPostConditions.Has(hot))
	assert.True(t, seed.NegPostConditions.Has(cold))
	assert.False(t, seed.NegPostConditions.Has(hot))

	out, ok := ValidateAgainst(nil, timeline)
	assert.False(t, ok)
	assert.False(t, out[0].Valid())

	_, ok = ValidateAgainst([]Term{hot}, timeline)
	assert.True(t, ok)
}

func TestSeedSlot_LeadOverridesClosedWorld(t *testing.T) {
	hot, served := NewTerm("hot", "pot1"), NewTerm("served", "pot1")
	step := NewSlot()
	step.PosPreConditions.Add(hot)
	lead := NewSlot()
	lead.PosPostConditions.Add(hot)
	lead.NegPostConditions.Add(served)

	seed := SeedSlot([]Term{served}, lead, []Slot{step})
	assert.True(t, seed.PosPostConditions.Has(hot))
	assert.False(t, seed.NegPostConditions.Has(hot))
	assert.True(t, seed.NegPostConditions.Has(served))
	assert.False(t, seed.PosPostConditions.Has(served))
	assert.True(t, CheckValidity(Propagate(seed, []Slot{step})))
}

func TestMegaslotPropagate(t *testing.T) {
	hot, served := NewTerm("hot", "pot1"), NewTerm("served", "pot1")
	timeline := []Slot{
		slotOf(nil, nil, []Term{hot}, nil),
		slotOf([]Term{hot}, nil, nil, []Term{hot}),
		slotOf(nil, []Term{hot}, []Term{served, hot}, nil),
	}

	out, ok := MegaslotPropagate(NewSlot(), timeline, 1)
	require.True(t, ok)
	require.Len(t, out, 2)
	mega := out[1]
	// contradictions inside the hypothesized tail resolve to the positive side
	assert.True(t, mega.PosPreConditions.Has(hot))
	assert.False(t, mega.NegPreConditions.Has(hot))
	assert.True(t, mega.PosPostConditions.Has(served))
	assert.True(t, mega.PosPostConditions.Has(hot))
	assert.True(t, mega.Valid())

	full, ok := MegaslotPropagate(NewSlot(), timeline[:2], 2)
	require.True(t, ok)
	assert.Len(t, full, 2)
}

func TestMegaslotPropagate_RejectsInvalidPrefix(t *testing.T) {
	a := NewTerm("a")
	timeline := []Slot{slotOf([]Term{a}, nil, nil, nil), NewSlot()}
	_, ok := MegaslotPropagate(slotOf(nil, nil, nil, []Term{a}), timeline, 1)
	assert.False(t, ok)

	unground := NewSlot()
	unground.PosPostConditions.Add(Term{Name: "hot", Args: []Constant{Var(AnyType)}})
	_, ok = MegaslotPropagate(NewSlot(), []Slot{unground, NewSlot()}, 1)
	assert.False(t, ok)
}

func TestCheckOrdering(t *testing.T) {
	tests := []struct {
		name     string
		spans    []Span
		ordering []Ordering
		want     bool
	}{
		{"no constraints", []Span{{0, 0}, {1, 1}}, nil, true},
		{"respected", []Span{{0, 1}, {2, 3}}, []Ordering{{Before: 0, After: 1}}, true},
		{"touching", []Span{{0, 1}, {1, 3}}, []Ordering{{Before: 0, After: 1}}, false},
		{"reversed", []Span{{2, 2}, {0, 1}}, []Ordering{{Before: 0, After: 1}}, false},
		{"empty before action", []Span{{-0.5, -0.5}, {0, 0}}, []Ordering{{Before: 0, After: 1}}, true},
		{"out of range", []Span{{0, 0}}, []Ordering{{Before: 0, After: 1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckOrdering(tt.spans, tt.ordering))
		})
	}
}

func TestSpan(t *testing.T) {
	assert.True(t, Span{Start: 1.5, End: 1.5}.Empty())
	assert.False(t, Span{Start: 1, End: 2}.Empty())
	assert.False(t, Span{Start: 0.5, End: 2}.Empty())
	assert.True(t, Span{Start: 0, End: 1.5}.endsInGap())
	assert.False(t, Span{Start: 0.5, End: 1}.endsInGap())
	assert.Equal(t, 1, timelineLength(Span{Start: 1.5, End: 1.5}))
	assert.Equal(t, 3, timelineLength(Span{Start: 0, End: 2}))
	assert.Equal(t, 2, slotIndex(3, 1))
	assert.Equal(t, 0, slotIndex(1.5, 1.5))
}
