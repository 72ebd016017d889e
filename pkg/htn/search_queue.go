package htn

// itemKind tags the three search item variants by the symbol after the dot.
type itemKind int

const (
	kindCompleter itemKind = iota
	kindScanner
	kindPredictor
)

func (k itemKind) String() string {
	switch k {
	case kindCompleter:
		return "completer"
	case kindScanner:
		return "scanner"
	default:
		return "predictor"
	}
}

func kindOf(c *CFGRule) itemKind {
	next := c.Next()
	switch {
	case next == nil:
		return kindCompleter
	case next.Kind == Primitive:
		return kindScanner
	default:
		return kindPredictor
	}
}

// queueEntry is a snapshot of an item's priority. An item whose bound drops
// is pushed again; the older entry is skipped when it surfaces.
type queueEntry struct {
	idx      int
	flaws    int
	kind     itemKind
	coverage int
	seq      int
}

// itemQueue implements heap.Interface ordered by flaws, then kind, then
// observed coverage (larger first), then insertion order.
type itemQueue []queueEntry

func (q itemQueue) Len() int { return len(q) }

func (q itemQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.flaws != b.flaws {
		return a.flaws < b.flaws
	}
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	if a.coverage != b.coverage {
		return a.coverage > b.coverage
	}
	return a.seq < b.seq
}

func (q itemQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *itemQueue) Push(x any) { *q = append(*q, x.(queueEntry)) }

func (q *itemQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}
