package ordering

import (
	"container/heap"
	"context"
	"log/slog"
	"slices"

	"github.com/c360/streamreplay/diagnostics"
	"github.com/c360/streamreplay/pkg/timestamp"
	"github.com/c360/streamreplay/source"
)

// item is one parsed row waiting in a bucket.
type item struct {
	ts       float64 // after per-key repair
	original float64 // as parsed
	rawTS    string
	row      source.Row
}

// bucket holds the rows of one ScopeKey in first-seen key order.
type bucket struct {
	key   ScopeKey
	items []item
}

// Presort buffers the whole input, repairs each key's rows in timestamp
// order and then merges all keys into one stream.
//
// Usage: Add every row of one pass, then call Merge once per replay pass.
type Presort struct {
	cfg    Config
	state  *State
	sink   diagnostics.Sink
	logger *slog.Logger
	stats  Stats

	buckets  []*bucket
	index    map[ScopeKey]int
	prepared bool
}

// NewPresort returns an empty presort engine. A nil state gets a fresh one
// and a nil sink discards events.
func NewPresort(cfg Config, state *State, sink diagnostics.Sink, logger *slog.Logger) *Presort {
	if state == nil {
		state = NewState()
	}
	if sink == nil {
		sink = diagnostics.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Presort{
		cfg:    cfg,
		state:  state,
		sink:   sink,
		logger: logger.With("component", "presort"),
		index:  make(map[ScopeKey]int),
	}
}

// Stats returns counters so far.
func (p *Presort) Stats() Stats {
	return p.stats
}

// Len returns the number of buffered rows.
func (p *Presort) Len() int {
	n := 0
	for _, b := range p.buckets {
		n += len(b.items)
	}
	return n
}

// Add buffers row under its key. Blank rows are skipped and rows with an
// unparsable timestamp are reported and dropped here.
func (p *Presort) Add(row source.Row) {
	if row.Blank() {
		p.stats.Blank++
		return
	}

	ts, rawTS, ok := parseRowTimestamp(row, p.cfg.TimestampIndex)
	if !ok {
		p.stats.Unparsable++
		p.sink.Emit(unparsableEvent(rawTS, row))
		return
	}

	key := KeyOf(row.Fields, p.cfg.KeyIndices)
	bi, ok := p.index[key]
	if !ok {
		bi = len(p.buckets)
		p.index[key] = bi
		p.buckets = append(p.buckets, &bucket{key: key})
	}
	b := p.buckets[bi]
	b.items = append(b.items, item{ts: ts, original: ts, rawTS: rawTS, row: row})
	p.prepared = false
}

// prepare sorts every bucket and applies the per-key policy from -Inf.
// It runs once; later passes merge the already repaired buckets.
func (p *Presort) prepare() {
	if p.prepared {
		return
	}
	for _, b := range p.buckets {
		slices.SortStableFunc(b.items, func(x, y item) int {
			switch {
			case x.ts < y.ts:
				return -1
			case x.ts > y.ts:
				return 1
			}
			return 0
		})

		kept := b.items[:0]
		prev := negInf
		for _, it := range b.items {
			c := check{policy: p.cfg.Policy, sink: p.sink, stats: &p.stats, rawTS: it.rawTS, row: it.row, presort: true}
			ts, accepted := c.run(it.ts, prev, b.key, false)
			if !accepted {
				continue
			}
			it.ts = ts
			prev = ts
			kept = append(kept, it)
		}
		b.items = kept
	}
	p.prepared = true
	p.logger.Debug("Presort buckets prepared", "keys", len(p.buckets), "rows", p.Len())
}

// Merge runs the k-way merge once, applying the global policy when the scope
// asks for it, and hands every emitted row to emit. pass is the loop pass
// number; with ResetOnLoop the global pointer starts over on every pass.
// It returns how many rows were emitted.
func (p *Presort) Merge(ctx context.Context, pass int, emit func([]byte) error) (int, error) {
	p.prepare()
	if pass > 0 && p.cfg.ResetOnLoop {
		p.state.Reset()
	}

	h := &mergeHeap{}
	for bi, b := range p.buckets {
		if len(b.items) > 0 {
			*h = append(*h, cursor{ts: b.items[0].ts, bucket: bi})
		}
	}
	heap.Init(h)

	emitted := 0
	for h.Len() > 0 {
		if emitted%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return emitted, err
			}
		}

		cur := heap.Pop(h).(cursor)
		b := p.buckets[cur.bucket]
		it := b.items[cur.idx]
		if next := cur.idx + 1; next < len(b.items) {
			heap.Push(h, cursor{ts: b.items[next].ts, bucket: cur.bucket, idx: next})
		}

		ts := it.ts
		if p.cfg.Scope.Global() {
			c := check{policy: p.cfg.Policy, sink: p.sink, stats: &p.stats, rawTS: it.rawTS, row: it.row, presort: true}
			var accepted bool
			if ts, accepted = c.run(ts, p.state.LastGlobal(), "", true); !accepted {
				continue
			}
			p.state.SetGlobal(ts)
		}

		p.stats.Accepted++
		out := it.row.Bytes()
		if ts != it.original {
			out = it.row.WithField(p.cfg.TimestampIndex, timestamp.FormatSeconds(ts))
		}
		if err := emit(out); err != nil {
			return emitted, err
		}
		emitted++
	}
	return emitted, nil
}

// checkEvery is how many merged rows pass between context checks.
const checkEvery = 256

// cursor points at the next unmerged row of one bucket.
type cursor struct {
	ts     float64
	bucket int
	idx    int
}

// mergeHeap orders cursors by timestamp, then bucket index, so ties resolve
// to the key that appeared first in the file.
type mergeHeap []cursor

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if h[i].ts != h[j].ts {
		return h[i].ts < h[j].ts
	}
	return h[i].bucket < h[j].bucket
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(cursor)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
