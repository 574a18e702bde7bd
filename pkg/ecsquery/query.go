// Package ecsquery compiles filters over a Store into ordered iteration
// batches: read/write/with_tag/without_tag sets, plus an optional
// detect_changes restriction driven by the store's per-column change
// counters.
package ecsquery

import (
	"sort"
	"strconv"
	"strings"

	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// DefaultBatchSize is the number of entities per iteration batch when the
// caller doesn't request a specific size.
const DefaultBatchSize = 128

// Filter describes which entities a Query matches.
type Filter struct {
	Read           []ecscomponent.ID
	Write          []ecscomponent.ID
	WithTag        []ecscomponent.ID
	WithoutTag     []ecscomponent.ID
	DetectChanges  bool
	MultiThreaded  bool
}

func (f Filter) key() string {
	ids := func(xs []ecscomponent.ID) string {
		sorted := append([]ecscomponent.ID(nil), xs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var b strings.Builder
		for _, id := range sorted {
			b.WriteString(strconv.FormatUint(uint64(id), 36))
			b.WriteByte(',')
		}
		return b.String()
	}
	tag := "0"
	if f.DetectChanges {
		tag = "1"
	}
	return ids(f.Read) + "|" + ids(f.Write) + "|" + ids(f.WithTag) + "|" + ids(f.WithoutTag) + "|" + tag
}

// Batch is an independent slice of matched entities; batches from different
// internal partitions may be dispatched to different worker goroutines.
type Batch struct {
	Entities []handle.Handle
}

// Query is the compiled, cacheable result of a Filter against one Store.
type Query struct {
	filter     Filter
	store      *ecscomponent.Store
	lastSeen   uint64 // change counter observed as of this query's last Execute
}

// Cache builds Queries deterministically: identical filters share the same
// *Query instance.
type Cache struct {
	store   *ecscomponent.Store
	queries map[string]*Query
}

// NewCache creates a Query Cache bound to one Store.
func NewCache(store *ecscomponent.Store) *Cache {
	return &Cache{store: store, queries: make(map[string]*Query)}
}

// Build returns the cached Query for filter, compiling a new one on first use.
func (c *Cache) Build(filter Filter) *Query {
	k := filter.key()
	if q, ok := c.queries[k]; ok {
		return q
	}
	q := &Query{filter: filter, store: c.store}
	c.queries[k] = q
	return q
}

// Invalidate drops every cached Query. Called when a new component type is
// registered.
func (c *Cache) Invalidate() {
	c.queries = make(map[string]*Query)
}

// Execute resolves the query's matching entities into batches of at most
// batchSize entities each. Pass 0 for DefaultBatchSize.
func (q *Query) Execute(batchSize int) []Batch {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	candidates := q.candidateSet()
	matched := make([]handle.Handle, 0, len(candidates))
	for _, e := range candidates {
		if q.matches(e) {
			matched = append(matched, e)
		}
	}

	if q.filter.DetectChanges {
		matched = q.filterChanged(matched)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i] < matched[j] })

	batches := make([]Batch, 0, (len(matched)+batchSize-1)/batchSize)
	for start := 0; start < len(matched); start += batchSize {
		end := start + batchSize
		if end > len(matched) {
			end = len(matched)
		}
		batches = append(batches, Batch{Entities: matched[start:end]})
	}

	// Recording that this execution has observed the store's current state
	// lets the *next* call to a detect_changes query see only what's new.
	q.lastSeen = q.maxChangeCounter()
	return batches
}

// candidateSet seeds iteration from whichever type-set is narrowest: read,
// then write, then with_tag. At least one of these must be non-empty for a
// useful filter; an entirely untyped filter (only without_tag) has no
// narrower candidate set to scan than "all entities", which this store
// doesn't track globally, so such filters are not supported.
func (q *Query) candidateSet() []handle.Handle {
	pools := [][]ecscomponent.ID{q.filter.Read, q.filter.Write, q.filter.WithTag}
	var narrowest []handle.Handle
	for _, pool := range pools {
		for _, typ := range pool {
			entities := q.store.EntitiesWith(typ)
			if narrowest == nil || len(entities) < len(narrowest) {
				narrowest = entities
			}
		}
	}
	return narrowest
}

func (q *Query) matches(e handle.Handle) bool {
	for _, typ := range q.filter.Read {
		if !q.store.Has(e, typ) {
			return false
		}
	}
	for _, typ := range q.filter.Write {
		if !q.store.Has(e, typ) {
			return false
		}
	}
	for _, typ := range q.filter.WithTag {
		if !q.store.Has(e, typ) {
			return false
		}
	}
	for _, typ := range q.filter.WithoutTag {
		if q.store.Has(e, typ) {
			return false
		}
	}
	return true
}

func (q *Query) maxChangeCounter() uint64 {
	var max uint64
	for _, typ := range q.filter.Read {
		if c := q.store.ChangeCounter(typ); c > max {
			max = c
		}
	}
	for _, typ := range q.filter.Write {
		if c := q.store.ChangeCounter(typ); c > max {
			max = c
		}
	}
	return max
}

// filterChanged restricts matched to entities whose read/write columns have
// changed since this query's previous Execute call. The store tracks one
// change counter per column (not per entity), so a changed column makes
// every one of its current members eligible — the whole column is one
// coarse-grained chunk.
func (q *Query) filterChanged(matched []handle.Handle) []handle.Handle {
	if q.maxChangeCounter() <= q.lastSeen {
		return nil
	}
	return matched
}
