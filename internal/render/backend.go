// Package render implements the render sub-pipeline: three systems,
// registered after the occlusion chain, that turn FrustumCulled/Occluded
// classifications into deferred calls against a host-supplied
// RenderBackend. Every backend call goes through the command queue and runs
// on the main thread during drain, so backend handles are main-thread-only
// by construction.
package render

import "github.com/fractalforge/ecsruntime/internal/occlusion"

// RID is an opaque resource handle minted by the host rendering backend —
// mesh instances, multimeshes, cameras, canvas items. The core never
// interprets it; it only threads RIDs through component storage and command
// arguments.
type RID uint64

// RenderBackend is the host-implemented rendering capability, consumed
// through opaque handles. Every method is called only from within a drained
// command, i.e. on the main thread.
type RenderBackend interface {
	InstanceCreate(base, scenario RID) (RID, error)
	InstanceSetTransform(instance RID, transform occlusion.Mat4) error

	MultimeshCreate() (RID, error)
	MultimeshAllocateData(multimesh RID, instanceCount int) error
	MultimeshSetInstanceTransform(multimesh RID, index int, transform occlusion.Mat4) error
	MultimeshSetInstanceColor(multimesh RID, index int, color [4]float64) error
	MultimeshGetInstanceCount(multimesh RID) (int, error)

	CameraCreate() (RID, error)
	CanvasItemCreate() (RID, error)
}
