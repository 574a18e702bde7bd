// Package renderbackendtest provides an in-process RenderBackend that
// records every call it receives, for tests and the headless demo binary.
// It validates RIDs the way a real host would: a call against a handle it
// never minted fails with a backend error, which the render systems treat as
// silently-dropped-and-logged per the engine's error taxonomy.
package renderbackendtest

import (
	"sync"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/internal/occlusion"
	"github.com/fractalforge/ecsruntime/internal/render"
)

// Call records one backend invocation.
type Call struct {
	Method    string
	RID       render.RID
	Index     int
	Transform occlusion.Mat4
	Color     [4]float64
}

// Recording is a render.RenderBackend that remembers everything.
type Recording struct {
	mu          sync.Mutex
	nextRID     render.RID
	multimeshes map[render.RID]int // RID -> allocated instance count
	instances   map[render.RID]bool
	calls       []Call
}

// New creates an empty Recording backend.
func New() *Recording {
	return &Recording{
		nextRID:     1,
		multimeshes: make(map[render.RID]int),
		instances:   make(map[render.RID]bool),
	}
}

func (r *Recording) mint() render.RID {
	rid := r.nextRID
	r.nextRID++
	return rid
}

func (r *Recording) record(c Call) {
	r.calls = append(r.calls, c)
}

// Calls returns a copy of every recorded call, in arrival order.
func (r *Recording) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many calls of one method were recorded.
func (r *Recording) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// InstanceCreate implements render.RenderBackend.
func (r *Recording) InstanceCreate(base, scenario render.RID) (render.RID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rid := r.mint()
	r.instances[rid] = true
	r.record(Call{Method: "instance_create", RID: rid})
	return rid, nil
}

// InstanceSetTransform implements render.RenderBackend.
func (r *Recording) InstanceSetTransform(instance render.RID, transform occlusion.Mat4) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.instances[instance] {
		return errors.InvalidBackendHandle(uint64(instance))
	}
	r.record(Call{Method: "instance_set_transform", RID: instance, Transform: transform})
	return nil
}

// MultimeshCreate implements render.RenderBackend.
func (r *Recording) MultimeshCreate() (render.RID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rid := r.mint()
	r.multimeshes[rid] = 0
	r.record(Call{Method: "multimesh_create", RID: rid})
	return rid, nil
}

// MultimeshAllocateData implements render.RenderBackend.
func (r *Recording) MultimeshAllocateData(multimesh render.RID, instanceCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.multimeshes[multimesh]; !ok {
		return errors.InvalidBackendHandle(uint64(multimesh))
	}
	r.multimeshes[multimesh] = instanceCount
	r.record(Call{Method: "multimesh_allocate_data", RID: multimesh, Index: instanceCount})
	return nil
}

// MultimeshSetInstanceTransform implements render.RenderBackend.
func (r *Recording) MultimeshSetInstanceTransform(multimesh render.RID, index int, transform occlusion.Mat4) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	count, ok := r.multimeshes[multimesh]
	if !ok || index < 0 || index >= count {
		return errors.InvalidBackendHandle(uint64(multimesh))
	}
	r.record(Call{Method: "multimesh_instance_set_transform", RID: multimesh, Index: index, Transform: transform})
	return nil
}

// MultimeshSetInstanceColor implements render.RenderBackend.
func (r *Recording) MultimeshSetInstanceColor(multimesh render.RID, index int, color [4]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	count, ok := r.multimeshes[multimesh]
	if !ok || index < 0 || index >= count {
		return errors.InvalidBackendHandle(uint64(multimesh))
	}
	r.record(Call{Method: "multimesh_instance_set_color", RID: multimesh, Index: index, Color: color})
	return nil
}

// MultimeshGetInstanceCount implements render.RenderBackend.
func (r *Recording) MultimeshGetInstanceCount(multimesh render.RID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count, ok := r.multimeshes[multimesh]
	if !ok {
		return 0, errors.InvalidBackendHandle(uint64(multimesh))
	}
	return count, nil
}

// CameraCreate implements render.RenderBackend.
func (r *Recording) CameraCreate() (render.RID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rid := r.mint()
	r.record(Call{Method: "camera_create", RID: rid})
	return rid, nil
}

// CanvasItemCreate implements render.RenderBackend.
func (r *Recording) CanvasItemCreate() (render.RID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rid := r.mint()
	r.record(Call{Method: "canvas_item_create", RID: rid})
	return rid, nil
}

var _ render.RenderBackend = (*Recording)(nil)
