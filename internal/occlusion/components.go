package occlusion

import (
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// Components are the component type IDs the occlusion pipeline reads and
// writes. Registered once against a World's shared component type registry.
type Components struct {
	Transform      ecscomponent.ID // Mat4 world transform
	Occluder       ecscomponent.ID // Triangle list, local space
	Occludee       ecscomponent.ID // tag: participates in culling
	LocalAABB      ecscomponent.ID // AABB, local space
	WorldAABB      ecscomponent.ID // AABB, computed by UpdateAABBs
	ScreenTris     ecscomponent.ID // []ScreenTriangle, computed by UpdateTris
	ScreenAABBComp ecscomponent.ID // ScreenAABB, computed by Cull before sampling
	Camera         ecscomponent.ID // Camera, attached to the World's MainCamera entity
	Occluded       ecscomponent.ID // tag: classified fully-behind by the oracle
}

// RegisterComponents registers every occlusion component type against w.
func RegisterComponents(w *ecsworld.World) *Components {
	reg := func(name string, isTag bool) ecscomponent.ID {
		return w.RegisterComponentType(ecscomponent.TypeInfo{Name: name, IsTag: isTag}).ID
	}
	return &Components{
		Transform:      reg("Transform", false),
		Occluder:       reg("Occluder", false),
		Occludee:       reg("Occludee", true),
		LocalAABB:      reg("LocalAABB", false),
		WorldAABB:      reg("WorldAABB", false),
		ScreenTris:     reg("ScreenTriangles", false),
		ScreenAABBComp: reg("ScreenAABB", false),
		Camera:         reg("Camera", false),
		Occluded:       reg("Occluded", true),
	}
}

// NewOccluder attaches entity's Occluder triangle list plus a zero-value
// ScreenTriangles placeholder. The placeholder matters because the
// ProjectOccluderTriangles system declares ScreenTriangles as a Write
// column, and a query only matches entities that already carry every Write
// column — the first tick that touches a freshly-attached Occluder needs
// this column to exist, not be created by that tick's system.
func (c *Components) NewOccluder(w *ecsworld.World, entity handle.Handle, tris []Triangle) error {
	if err := w.Store.Attach(entity, c.Occluder, tris); err != nil {
		return err
	}
	return w.Store.Attach(entity, c.ScreenTris, []ScreenTriangle{})
}

// NewOccludee attaches entity's Occludee tag, local AABB, and the
// WorldAABB/ScreenAABB placeholders that UpdateWorldAABBs and CullOccludees
// write into, for the same reason NewOccluder pre-attaches ScreenTriangles.
func (c *Components) NewOccludee(w *ecsworld.World, entity handle.Handle, local AABB) error {
	if err := w.Store.Attach(entity, c.Occludee, nil); err != nil {
		return err
	}
	if err := w.Store.Attach(entity, c.LocalAABB, local); err != nil {
		return err
	}
	if err := w.Store.Attach(entity, c.WorldAABB, AABB{}); err != nil {
		return err
	}
	return w.Store.Attach(entity, c.ScreenAABBComp, ScreenAABB{})
}

// SetMainCamera attaches entity's Camera data and records it as the World's
// weak MainCamera singleton.
func (c *Components) SetMainCamera(w *ecsworld.World, entity handle.Handle, cam Camera) error {
	if err := w.Store.Attach(entity, c.Camera, cam); err != nil {
		return err
	}
	w.Singletons.MainCamera = entity
	return nil
}
