package render

import (
	"github.com/fractalforge/ecsruntime/internal/occlusion"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// Visibility mirrors the host's VisibilityComponent: a plain bool field
// rather than a tag, since the render systems test its value, not merely
// its presence.
type Visibility struct {
	Visible bool
}

// MultimeshRef binds an entity to one instance slot of a host-side
// multimesh.
type MultimeshRef struct {
	Multimesh RID
	Index     int
}

// InstanceRef binds an entity to a single host-side render instance (the
// non-multimesh MeshRenderSystem path).
type InstanceRef struct {
	Instance RID
}

// Components are the component type IDs the render sub-pipeline reads and
// writes. Transform and LocalAABB are shared with the occlusion pipeline's
// Components (registered once, reused here) since both stages compute
// world_aabb = local_aabb x transform over the same kind of data.
type Components struct {
	Transform     ecscomponent.ID
	LocalAABB     ecscomponent.ID
	Occluded      ecscomponent.ID // shared with occlusion.Components.Occluded
	Visibility    ecscomponent.ID
	MultimeshRef  ecscomponent.ID
	InstanceRef   ecscomponent.ID
	FrustumCulled ecscomponent.ID // tag
	DirtyTransform ecscomponent.ID // tag
}

// RegisterComponents registers the render-only component types and reuses
// occ's Transform/LocalAABB/Occluded IDs, since the render sub-pipeline
// runs after the occlusion chain over the same kind of entity data.
func RegisterComponents(w *ecsworld.World, occ *occlusion.Components) *Components {
	reg := func(name string, isTag bool) ecscomponent.ID {
		return w.RegisterComponentType(ecscomponent.TypeInfo{Name: name, IsTag: isTag}).ID
	}
	return &Components{
		Transform:      occ.Transform,
		LocalAABB:      occ.LocalAABB,
		Occluded:       occ.Occluded,
		Visibility:     reg("VisibilityComponent", false),
		MultimeshRef:   reg("MultimeshRef", false),
		InstanceRef:    reg("InstanceRef", false),
		FrustumCulled:  reg("FrustumCulled", true),
		DirtyTransform: reg("DirtyTransform", true),
	}
}

// NewMultimeshRenderable attaches everything a multimesh-backed entity needs
// to flow through MultiMeshRenderSystem: Visibility, its instance/index
// binding, and an initial DirtyTransform so its first transform gets
// flushed to the backend.
func (c *Components) NewMultimeshRenderable(w *ecsworld.World, entity handle.Handle, multimesh RID, index int) error {
	if err := w.Store.Attach(entity, c.Visibility, Visibility{Visible: true}); err != nil {
		return err
	}
	if err := w.Store.Attach(entity, c.MultimeshRef, MultimeshRef{Multimesh: multimesh, Index: index}); err != nil {
		return err
	}
	return w.Store.Attach(entity, c.DirtyTransform, nil)
}

// NewMeshRenderable attaches everything a single-instance entity needs to
// flow through MeshRenderSystem.
func (c *Components) NewMeshRenderable(w *ecsworld.World, entity handle.Handle, instance RID) error {
	if err := w.Store.Attach(entity, c.Visibility, Visibility{Visible: true}); err != nil {
		return err
	}
	if err := w.Store.Attach(entity, c.InstanceRef, InstanceRef{Instance: instance}); err != nil {
		return err
	}
	return w.Store.Attach(entity, c.DirtyTransform, nil)
}

// MarkDirty (re)attaches the DirtyTransform tag, e.g. after a host moves an
// entity. Idempotent.
func (c *Components) MarkDirty(w *ecsworld.World, entity handle.Handle) error {
	return w.Store.Attach(entity, c.DirtyTransform, nil)
}
