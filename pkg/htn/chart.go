package htn

import (
	"context"
	"fmt"

	"github.com/mitchellh/hashstructure"
)

// itemPattern is the normalized identity of a chart item, used as the
// deduplication key of a chart column and of the search arena.
//
// Like a tabling call pattern it keeps the canonical structure for exact
// comparison and a precomputed hash of that structure for bucket lookup.
type itemPattern struct {
	id     ruleIdentity
	origin int
	hash   uint64
}

func newItemPattern(c *CFGRule, origin int, provenance bool) itemPattern {
	p := itemPattern{id: c.identity(provenance), origin: origin}
	h, err := hashstructure.Hash(struct {
		Identity ruleIdentity
		Origin   int
	}{p.id, origin}, nil)
	if err != nil {
		// one shared bucket; Equal still tells items apart
		h = 0
	}
	p.hash = h
	return p
}

// Equal compares two patterns structurally.
func (p itemPattern) Equal(other itemPattern) bool {
	return p.hash == other.hash && p.origin == other.origin && p.id.equal(other.id)
}

// derivation records how a chart item was reached: from prev by scanning the
// action at pos, or from prev by completing child. Items with the dot at 0
// have a single derivation with a nil prev.
type derivation struct {
	prev     *chartItem
	child    *chartItem
	pos      int
	observed int
}

// chartItem is a dotted rule with the chart position where it started.
type chartItem struct {
	rule      *CFGRule
	origin    int
	end       int
	iteration int
	pattern   itemPattern
	derivs    []derivation
}

func (it *chartItem) String() string {
	return fmt.Sprintf("[%d,%d] %s", it.origin, it.end, it.rule)
}

func (it *chartItem) addDerivation(d derivation) {
	for _, e := range it.derivs {
		if e.prev == d.prev && e.child == d.child && e.pos == d.pos {
			return
		}
	}
	it.derivs = append(it.derivs, d)
}

// column holds the items ending at one chart position. items doubles as the
// agenda: it is processed front to back while new items are appended.
type column struct {
	index    int
	items    []*chartItem
	buckets  map[uint64][]*chartItem
	waiting  map[string][]*chartItem
	nullable map[string][]*chartItem
}

func newColumn(i int) *column {
	return &column{
		index:    i,
		buckets:  make(map[uint64][]*chartItem),
		waiting:  make(map[string][]*chartItem),
		nullable: make(map[string][]*chartItem),
	}
}

func (col *column) find(p itemPattern) *chartItem {
	for _, it := range col.buckets[p.hash] {
		if it.pattern.Equal(p) {
			return it
		}
	}
	return nil
}

// Stats counts the work done by a run.
type Stats struct {
	Items       int
	Predictions int
	Scans       int
	Completions int
	Goals       int
	Rejected    int

	PlannerCalls int
}

// chart is the Earley chart of one parse of length columns-1.
type chart struct {
	domain   *Domain
	cfg      *config
	mode     string
	observed []Term
	length   int
	columns  []*column
	counter  int
	stats    *Stats
	root     *Rule
}

func newChart(d *Domain, cfg *config, mode string, observed []Term, length int, root *Rule, stats *Stats) *chart {
	ch := &chart{
		domain:   d,
		cfg:      cfg,
		mode:     mode,
		observed: observed,
		length:   length,
		root:     root,
		stats:    stats,
	}
	for i := 0; i <= length; i++ {
		ch.columns = append(ch.columns, newColumn(i))
	}
	return ch
}

// add inserts an item into column end unless a structurally equal one is
// already there, in which case the derivation is attached to the existing
// item.
func (ch *chart) add(c *CFGRule, origin, end int, d derivation) *chartItem {
	col := ch.columns[end]
	p := newItemPattern(c, origin, ch.cfg.compareProvenance)
	if it := col.find(p); it != nil {
		it.addDerivation(d)
		return it
	}
	ch.counter++
	it := &chartItem{
		rule:      c,
		origin:    origin,
		end:       end,
		iteration: ch.counter,
		pattern:   p,
		derivs:    []derivation{d},
	}
	col.items = append(col.items, it)
	col.buckets[p.hash] = append(col.buckets[p.hash], it)
	ch.stats.Items++
	ch.cfg.recorder.Record(ch.mode, EventItem)
	return it
}

// parse fills the chart. Positions are processed in increasing order and
// every column is settled before the next one is touched.
func (ch *chart) parse(ctx context.Context, rootBindings []Constant) error {
	start := NewCFGRule(ch.root)
	if !start.bindVars(rootBindings) {
		return nil
	}
	ch.add(start, 0, 0, derivation{observed: -1})

	for i := 0; i <= ch.length; i++ {
		col := ch.columns[i]
		for k := 0; k < len(col.items); k++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			it := col.items[k]
			next := it.rule.Next()
			switch {
			case next == nil:
				ch.complete(it)
			case next.Kind == Primitive:
				ch.scan(it)
			default:
				ch.predict(it, next)
			}
		}
	}
	return nil
}

// predict instantiates every rule for the compound task after the dot.
func (ch *chart) predict(it *chartItem, next *CFGTask) {
	ch.stats.Predictions++
	ch.cfg.recorder.Record(ch.mode, EventPredict)
	col := ch.columns[it.end]
	name := next.Type.Name
	col.waiting[name] = append(col.waiting[name], it)

	for _, r := range ch.domain.RulesFor(name) {
		c := NewCFGRule(r)
		if !c.SetVariablesFromMainTask(*next) {
			continue
		}
		ch.add(c, it.end, it.end, derivation{observed: -1})
	}
	// Empty decompositions completed at this position before it was
	// waiting would otherwise be missed.
	for _, done := range col.nullable[name] {
		ch.advance(it, done)
	}
}

// scan matches the primitive after the dot against the action at the item's
// end position. Past the observed prefix any action of the right type fits.
func (ch *chart) scan(it *chartItem) {
	i := it.end
	if i >= ch.length {
		return
	}
	ch.stats.Scans++
	ch.cfg.recorder.Record(ch.mode, EventScan)
	next := it.rule.Next()

	if i >= len(ch.observed) {
		ch.add(it.rule.Advance(), it.origin, i+1, derivation{prev: it, pos: i, observed: -1})
		return
	}

	action := ch.observed[i]
	if !next.compatible(action) {
		return
	}
	inst := CFGTask{Kind: Primitive, Type: next.Type, Args: action.Args}
	for j, a := range action.Args {
		if a.Bound() {
			inst.Supports = append(inst.Supports, Support{Param: j, Position: i, Action: action.String()})
		}
	}
	adv := it.rule.Advance()
	if !adv.SetVariablesFromSubtask(it.rule.Dot, inst) {
		return
	}
	ch.add(adv, it.origin, i+1, derivation{prev: it, pos: i, observed: i})
}

// complete advances every item waiting for this item's task at its origin.
func (ch *chart) complete(it *chartItem) {
	ch.stats.Completions++
	ch.cfg.recorder.Record(ch.mode, EventComplete)
	name := it.rule.MainTask.Type.Name
	if it.origin == it.end {
		col := ch.columns[it.end]
		col.nullable[name] = append(col.nullable[name], it)
	}
	waiting := ch.columns[it.origin].waiting[name]
	for k := 0; k < len(waiting); k++ {
		ch.advance(waiting[k], it)
	}
}

func (ch *chart) advance(w, done *chartItem) {
	adv := w.rule.Advance()
	if !adv.SetVariablesFromSubtask(w.rule.Dot, done.rule.MainTask) {
		return
	}
	ch.add(adv, w.origin, done.end, derivation{prev: w, child: done, observed: -1})
}

// goals returns the complete root items spanning the whole chart.
func (ch *chart) goals() []*chartItem {
	var out []*chartItem
	for _, it := range ch.columns[ch.length].items {
		if it.rule.Rule == ch.root && it.origin == 0 && it.rule.Complete() {
			out = append(out, it)
		}
	}
	return out
}
