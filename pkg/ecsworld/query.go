package ecsworld

import (
	"sync"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/pkg/ecsquery"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// queryTable hands out opaque QueryHandles for host-facing query lifecycle
// calls (create_query/query_entities/query_count/free_query), backed by
// the same handle.Registry idiom used for entities and backend resources.
type queryTable struct {
	registry *handle.Registry

	mu      sync.Mutex
	queries map[handle.Handle]*ecsquery.Query
}

func newQueryTable() *queryTable {
	return &queryTable{
		registry: handle.NewRegistry(),
		queries:  make(map[handle.Handle]*ecsquery.Query),
	}
}

// CreateQuery compiles filter (sharing cached internals with any identical
// filter already built against this World) and returns an opaque
// QueryHandle the host can hold onto across ticks.
func (w *World) CreateQuery(filter ecsquery.Filter) (handle.Handle, error) {
	q := w.Queries.Build(filter)
	h, err := w.registeredQueries.registry.Allocate()
	if err != nil {
		return handle.Nil, err
	}
	w.registeredQueries.mu.Lock()
	w.registeredQueries.queries[h] = q
	w.registeredQueries.mu.Unlock()
	return h, nil
}

// FreeQuery releases a QueryHandle previously returned by CreateQuery.
func (w *World) FreeQuery(qh handle.Handle) {
	w.registeredQueries.mu.Lock()
	delete(w.registeredQueries.queries, qh)
	w.registeredQueries.mu.Unlock()
	w.registeredQueries.registry.Free(qh)
}

func (w *World) lookupQuery(qh handle.Handle) (*ecsquery.Query, error) {
	w.registeredQueries.mu.Lock()
	defer w.registeredQueries.mu.Unlock()
	q, ok := w.registeredQueries.queries[qh]
	if !ok {
		return nil, errors.New(errors.CodeUnknownComponent, "unknown or freed query handle")
	}
	return q, nil
}

// QueryEntities resolves qh's current matches, flattened across batches in
// batch order, and returns the [offset, offset+limit) slice (limit<=0 means
// "no limit").
func (w *World) QueryEntities(qh handle.Handle, limit, offset int) ([]handle.Handle, error) {
	q, err := w.lookupQuery(qh)
	if err != nil {
		return nil, err
	}

	var matched []handle.Handle
	for _, b := range q.Execute(0) {
		matched = append(matched, b.Entities...)
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], nil
}

// QueryCount returns the total number of entities qh currently matches,
// independent of any limit/offset a caller might apply to QueryEntities.
func (w *World) QueryCount(qh handle.Handle) (int, error) {
	q, err := w.lookupQuery(qh)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, b := range q.Execute(0) {
		count += len(b.Entities)
	}
	return count, nil
}
