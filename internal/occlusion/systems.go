package occlusion

import (
	"github.com/fractalforge/ecsruntime/internal/scheduler"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsquery"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
)

// Phase names for the occlusion chain, each strictly DependsOn the
// previous. ClearBins gets its own phase rather than sharing Binning's,
// because two same-phase systems with disjoint write sets may run
// concurrently and "clear the bins" must fully precede "append to the
// bins", not race it.
const (
	PhaseProjectTris  = "OcclusionProjectTris"
	PhaseUpdateAABBs  = "OcclusionUpdateAABBs"
	PhaseBinningClear = "OcclusionBinningClear"
	PhaseBinning      = "OcclusionBinning"
	PhaseRasterize    = "OcclusionRasterize"
	PhaseCull         = "OcclusionCull"
)

// RegisterPhases chains the occlusion phases onto the built-in OnUpdate
// phase.
func RegisterPhases(w *ecsworld.World) error {
	chain := []struct{ name, dependsOn string }{
		{PhaseProjectTris, scheduler.PhaseOnUpdate},
		{PhaseUpdateAABBs, PhaseProjectTris},
		{PhaseBinningClear, PhaseUpdateAABBs},
		{PhaseBinning, PhaseBinningClear},
		{PhaseRasterize, PhaseBinning},
		{PhaseCull, PhaseRasterize},
	}
	for _, p := range chain {
		if err := w.RegisterPhase(p.name, p.dependsOn); err != nil {
			return err
		}
	}
	return nil
}

func mainCamera(w *ecsworld.World, comps *Components) (Camera, bool) {
	v, err := w.Store.Read(w.Singletons.MainCamera, comps.Camera)
	if err != nil {
		return Camera{}, false
	}
	cam, ok := v.(Camera)
	return cam, ok
}

// RegisterSystems wires the five-stage occlusion pipeline against oracle.
func RegisterSystems(w *ecsworld.World, oracle *Oracle, comps *Components) error {
	screenW, screenH := oracle.Width, oracle.Height

	systems := []scheduler.System{
		{
			Name:          "occlusion.ProjectOccluderTriangles",
			Phase:         PhaseProjectTris,
			MultiThreaded: true,
			Filter: ecsquery.Filter{
				Read:  []ecscomponent.ID{comps.Transform, comps.Occluder},
				Write: []ecscomponent.ID{comps.ScreenTris},
			},
			Callback: func(tc *scheduler.TickContext, batch ecsquery.Batch) {
				cam, ok := mainCamera(w, comps)
				if !ok {
					return
				}
				for _, e := range batch.Entities {
					tv, err := w.Store.Read(e, comps.Transform)
					if err != nil {
						continue
					}
					ov, err := w.Store.Read(e, comps.Occluder)
					if err != nil {
						continue
					}
					xform := tv.(Mat4)
					tris := ov.([]Triangle)

					screenTris := make([]ScreenTriangle, 0, len(tris))
					for _, tri := range tris {
						worldTri := Triangle{
							V0: TransformPoint(xform, tri.V0),
							V1: TransformPoint(xform, tri.V1),
							V2: TransformPoint(xform, tri.V2),
						}
						if st, ok := cam.ProjectTriangle(worldTri, screenW, screenH); ok {
							screenTris = append(screenTris, st)
						}
					}
					_ = w.Store.Write(e, comps.ScreenTris, screenTris)
				}
			},
		},
		{
			Name:          "occlusion.UpdateWorldAABBs",
			Phase:         PhaseUpdateAABBs,
			MultiThreaded: true,
			Filter: ecsquery.Filter{
				Read:  []ecscomponent.ID{comps.Transform, comps.LocalAABB},
				Write: []ecscomponent.ID{comps.WorldAABB},
			},
			Callback: func(tc *scheduler.TickContext, batch ecsquery.Batch) {
				for _, e := range batch.Entities {
					tv, err := w.Store.Read(e, comps.Transform)
					if err != nil {
						continue
					}
					lv, err := w.Store.Read(e, comps.LocalAABB)
					if err != nil {
						continue
					}
					world := TransformAABB(lv.(AABB), tv.(Mat4))
					_ = w.Store.Write(e, comps.WorldAABB, world)
				}
			},
		},
		{
			Name:  "occlusion.ClearOcclusionBins",
			Phase: PhaseBinningClear,
			Filter: ecsquery.Filter{
				Read: []ecscomponent.ID{comps.Camera},
			},
			Callback: func(tc *scheduler.TickContext, batch ecsquery.Batch) {
				oracle.ClearBins()
			},
		},
		{
			Name:          "occlusion.BinOccluderTriangles",
			Phase:         PhaseBinning,
			MultiThreaded: true,
			Filter: ecsquery.Filter{
				Read: []ecscomponent.ID{comps.ScreenTris},
			},
			Callback: func(tc *scheduler.TickContext, batch ecsquery.Batch) {
				for _, e := range batch.Entities {
					v, err := w.Store.Read(e, comps.ScreenTris)
					if err != nil {
						continue
					}
					for _, tri := range v.([]ScreenTriangle) {
						oracle.BinTriangle(tri)
					}
				}
			},
		},
		{
			Name:  "occlusion.RasterizeOcclusionTiles",
			Phase: PhaseRasterize,
			Filter: ecsquery.Filter{
				Read: []ecscomponent.ID{comps.Camera},
			},
			Callback: func(tc *scheduler.TickContext, batch ecsquery.Batch) {
				oracle.RasterizeAll(tc.Context, w.Pool)
			},
		},
		{
			Name:          "occlusion.CullOccludees",
			Phase:         PhaseCull,
			MultiThreaded: true,
			Filter: ecsquery.Filter{
				Read:  []ecscomponent.ID{comps.Transform, comps.WorldAABB, comps.Occludee},
				Write: []ecscomponent.ID{comps.ScreenAABBComp},
			},
			Callback: func(tc *scheduler.TickContext, batch ecsquery.Batch) {
				cam, ok := mainCamera(w, comps)
				if !ok {
					return
				}
				for _, e := range batch.Entities {
					wv, err := w.Store.Read(e, comps.WorldAABB)
					if err != nil {
						continue
					}
					entity := e
					sa, anyVisible := cam.ProjectAABB(wv.(AABB), screenW, screenH)
					if !anyVisible {
						// Entirely behind the near plane: nothing to sample
						// against, so fail open — including clearing any
						// Occluded tag left from an earlier classification.
						_ = tc.Enqueue("occlusion_untag", func() { w.Store.Detach(entity, comps.Occluded) })
						continue
					}
					_ = w.Store.Write(e, comps.ScreenAABBComp, sa)

					visible := oracle.IsVisible(sa)
					if visible {
						_ = tc.Enqueue("occlusion_untag", func() { w.Store.Detach(entity, comps.Occluded) })
					} else {
						_ = tc.Enqueue("occlusion_tag", func() { _ = w.Store.Attach(entity, comps.Occluded, nil) })
					}
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
