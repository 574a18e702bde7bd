package render

import (
	"sync"

	"github.com/fractalforge/ecsruntime/internal/occlusion"
	"github.com/fractalforge/ecsruntime/internal/scheduler"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsquery"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// Phase names for the render sub-pipeline, chained after the occlusion
// chain's last phase.
const (
	PhaseFrustumCulling = "RenderFrustumCulling"
	PhaseMultimesh       = "RenderMultimesh"
	PhaseMesh            = "RenderMesh"
)

// RegisterPhases chains the render phases onto occlusion's last phase.
func RegisterPhases(w *ecsworld.World) error {
	chain := []struct{ name, dependsOn string }{
		{PhaseFrustumCulling, occlusion.PhaseCull},
		{PhaseMultimesh, PhaseFrustumCulling},
		{PhaseMesh, PhaseMultimesh},
	}
	for _, p := range chain {
		if err := w.RegisterPhase(p.name, p.dependsOn); err != nil {
			return err
		}
	}
	return nil
}

func mainCamera(w *ecsworld.World, occComps *occlusion.Components) (occlusion.Camera, bool) {
	v, err := w.Store.Read(w.Singletons.MainCamera, occComps.Camera)
	if err != nil {
		return occlusion.Camera{}, false
	}
	cam, ok := v.(occlusion.Camera)
	return cam, ok
}

// RegisterSystems wires the three render sub-pipeline systems against
// backend.
func RegisterSystems(w *ecsworld.World, occComps *occlusion.Components, comps *Components, backend RenderBackend, tracker *BatchTracker) error {
	var loggedInvalidMu sync.Mutex
	loggedInvalid := make(map[handle.Handle]bool)
	logInvalidOnce := func(entity handle.Handle) bool {
		loggedInvalidMu.Lock()
		defer loggedInvalidMu.Unlock()
		if loggedInvalid[entity] {
			return false
		}
		loggedInvalid[entity] = true
		return true
	}
	var loggedFailedMu sync.Mutex
	loggedFailed := make(map[RID]bool)
	logBackendFailure := func(rid RID, err error) {
		loggedFailedMu.Lock()
		defer loggedFailedMu.Unlock()
		if err != nil && w.Logger != nil && !loggedFailed[rid] {
			loggedFailed[rid] = true
			w.Logger.WithFields(map[string]interface{}{"rid": uint64(rid), "error": err.Error()}).Warn("render: backend call failed, dropped")
		}
	}

	systems := []scheduler.System{
		{
			Name:          "render.MultiMeshFrustumCulling",
			Phase:         PhaseFrustumCulling,
			Interval:      w.Config.FrustumCullingInterval,
			MultiThreaded: true,
			Filter: ecsquery.Filter{
				Read: []ecscomponent.ID{occComps.Transform, occComps.LocalAABB, comps.Visibility},
			},
			Callback: func(tc *scheduler.TickContext, batch ecsquery.Batch) {
				cam, ok := mainCamera(w, occComps)
				if !ok {
					return
				}
				planes := cam.FrustumPlanes()
				culledCount := 0
				for _, e := range batch.Entities {
					vv, err := w.Store.Read(e, comps.Visibility)
					if err != nil {
						continue
					}
					if !vv.(Visibility).Visible {
						continue
					}
					tv, err := w.Store.Read(e, occComps.Transform)
					if err != nil {
						continue
					}
					lv, err := w.Store.Read(e, occComps.LocalAABB)
					if err != nil {
						continue
					}
					worldAABB := occlusion.TransformAABB(lv.(occlusion.AABB), tv.(occlusion.Mat4))
					culled := occlusion.FrustumCull(planes, worldAABB)
					entity := e
					if culled {
						culledCount++
						_ = tc.Enqueue("frustum_tag", func() { _ = w.Store.Attach(entity, comps.FrustumCulled, nil) })
					} else {
						_ = tc.Enqueue("frustum_untag", func() { w.Store.Detach(entity, comps.FrustumCulled) })
					}
				}
				if w.Metrics != nil {
					w.Metrics.FrustumCulledEntities.Set(float64(culledCount))
				}
			},
		},
		{
			Name:          "render.MultiMeshRender",
			Phase:         PhaseMultimesh,
			MultiThreaded: true,
			Filter: ecsquery.Filter{
				Read:       []ecscomponent.ID{comps.Visibility, comps.MultimeshRef},
				WithTag:    []ecscomponent.ID{comps.DirtyTransform},
				WithoutTag: []ecscomponent.ID{comps.FrustumCulled, comps.Occluded},
			},
			Callback: func(tc *scheduler.TickContext, batch ecsquery.Batch) {
				frame := w.Frame.Tick
				modulus := w.Config.BatchModulus
				for _, e := range batch.Entities {
					vv, err := w.Store.Read(e, comps.Visibility)
					if err != nil || !vv.(Visibility).Visible {
						continue
					}
					refv, err := w.Store.Read(e, comps.MultimeshRef)
					if err != nil {
						continue
					}
					ref := refv.(MultimeshRef)
					if !tracker.ShouldFlush(ref.Index, frame, modulus) {
						continue
					}
					tv, err := w.Store.Read(e, occComps.Transform)
					if err != nil {
						continue
					}
					transform := tv.(occlusion.Mat4)
					multimesh, index := ref.Multimesh, ref.Index
					entity := e
					_ = tc.Enqueue("multimesh_instance_set_transform", func() {
						logBackendFailure(multimesh, backend.MultimeshSetInstanceTransform(multimesh, index, transform))
						w.Store.Detach(entity, comps.DirtyTransform)
					})
				}
			},
		},
		{
			Name:          "render.MeshRender",
			Phase:         PhaseMesh,
			MultiThreaded: true,
			Filter: ecsquery.Filter{
				Read:    []ecscomponent.ID{comps.Visibility, comps.InstanceRef},
				WithTag: []ecscomponent.ID{comps.DirtyTransform},
			},
			Callback: func(tc *scheduler.TickContext, batch ecsquery.Batch) {
				for _, e := range batch.Entities {
					vv, err := w.Store.Read(e, comps.Visibility)
					if err != nil || !vv.(Visibility).Visible {
						continue
					}
					refv, err := w.Store.Read(e, comps.InstanceRef)
					if err != nil {
						continue
					}
					ref := refv.(InstanceRef)
					entity := e

					// Occluded entities get the stale-safe no-op regardless
					// of their instance handle; only visible entities are
					// held to a valid handle.
					if w.Store.Has(e, comps.Occluded) {
						_ = tc.Enqueue("instance_set_transform_noop", func() {
							w.Store.Detach(entity, comps.DirtyTransform)
						})
						continue
					}

					if ref.Instance == 0 {
						if logInvalidOnce(e) && w.Logger != nil {
							w.Logger.WithFields(map[string]interface{}{
								"entity": uint64(e),
							}).Warn("mesh render: invalid instance handle, skipping")
						}
						continue
					}

					tv, err := w.Store.Read(e, occComps.Transform)
					if err != nil {
						continue
					}
					transform := tv.(occlusion.Mat4)
					instance := ref.Instance
					_ = tc.Enqueue("instance_set_transform", func() {
						logBackendFailure(instance, backend.InstanceSetTransform(instance, transform))
						w.Store.Detach(entity, comps.DirtyTransform)
					})
				}
			},
		},
	}

	for _, s := range systems {
		if err := w.RegisterSystem(s); err != nil {
			return err
		}
	}
	return nil
}
