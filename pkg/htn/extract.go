package htn

import (
	"context"
	"iter"
)

// pathNode is the chain of chart items currently being expanded above a
// node, used to cut derivation cycles through unit and empty rules.
type pathNode struct {
	item *chartItem
	next *pathNode
}

func (p *pathNode) contains(it *chartItem) bool {
	for n := p; n != nil; n = n.next {
		if n.item == it {
			return true
		}
	}
	return false
}

// extractor rebuilds grounded subplans from the derivations recorded in a
// chart, one at a time.
type extractor struct {
	asm *assembler
}

// subplans lazily enumerates the grounded subplans of a complete item.
// Nothing is computed before the first pull, and each further pull resumes
// the enumeration where it stopped.
func (e *extractor) subplans(ctx context.Context, it *chartItem, path *pathNode) iter.Seq[*Subplan] {
	return func(yield func(*Subplan) bool) {
		if path.contains(it) {
			return
		}
		below := &pathNode{item: it, next: path}
		for parts := range e.parts(ctx, it, below) {
			for sp := range e.asm.groundAndAssemble(ctx, it.rule, parts, float64(it.end), it.iteration) {
				if !yield(sp) {
					return
				}
			}
			if e.asm.err != nil || ctx.Err() != nil {
				return
			}
		}
	}
}

// parts enumerates the filled subtasks before the dot of it, left to right.
func (e *extractor) parts(ctx context.Context, it *chartItem, path *pathNode) iter.Seq[[]part] {
	return func(yield func([]part) bool) {
		for _, d := range it.derivs {
			if ctx.Err() != nil {
				return
			}
			if d.prev == nil {
				if !yield(nil) {
					return
				}
				continue
			}
			for prefix := range e.parts(ctx, d.prev, path) {
				if d.child == nil {
					if !yield(extend(prefix, part{pos: d.pos, observed: d.observed})) {
						return
					}
					continue
				}
				for sub := range e.subplans(ctx, d.child, path) {
					if !yield(extend(prefix, part{sub: sub})) {
						return
					}
				}
			}
		}
	}
}

func extend(prefix []part, p part) []part {
	out := make([]part, len(prefix), len(prefix)+1)
	copy(out, prefix)
	return append(out, p)
}
