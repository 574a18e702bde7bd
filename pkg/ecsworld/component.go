// Dictionary projection for the host-facing component getters and the
// debugger's component inspection surface. A component's registered
// Serialize function produces its wire JSON; gjson turns that into a plain
// map without round-tripping through a typed struct, and jsonpath lets a
// caller pull a sub-path out of that JSON once it is decoded into generic
// values.
package ecsworld

import (
	"encoding/json"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// RegisterComponentType registers info with the World's shared component
// type registry (process-wide) and invalidates cached queries so a query
// built against the new type can never be satisfied by a stale cache.
func (w *World) RegisterComponentType(info ecscomponent.TypeInfo) *ecscomponent.TypeInfo {
	registered := w.Types.Register(info)
	w.InvalidateQueries()
	return registered
}

// Attach inserts or overwrites entity's instance of the named component
// type. Must run on the main thread or via the command queue.
func (w *World) Attach(entity handle.Handle, typeName string, value interface{}) error {
	info, ok := w.Types.Lookup(typeName)
	if !ok {
		return errors.UnknownComponent(typeName)
	}
	return w.Store.Attach(entity, info.ID, value)
}

// Detach removes entity's instance of the named component type. Idempotent.
func (w *World) Detach(entity handle.Handle, typeName string) error {
	info, ok := w.Types.Lookup(typeName)
	if !ok {
		return errors.UnknownComponent(typeName)
	}
	w.Store.Detach(entity, info.ID)
	return nil
}

// Has reports whether entity currently carries the named component type.
func (w *World) Has(entity handle.Handle, typeName string) bool {
	info, ok := w.Types.Lookup(typeName)
	if !ok {
		return false
	}
	return w.Store.Has(entity, info.ID)
}

// Get projects entity's instance of typeName into a dictionary (a JSON-ish
// map), using the type's registered Serialize function. Returns an empty
// map for a tag component, which carries no payload.
func (w *World) Get(entity handle.Handle, typeName string) (map[string]interface{}, error) {
	info, ok := w.Types.Lookup(typeName)
	if !ok {
		return nil, errors.UnknownComponent(typeName)
	}
	if info.IsTag || info.Serialize == nil {
		return map[string]interface{}{}, nil
	}

	value, err := w.Store.Read(entity, info.ID)
	if err != nil {
		return nil, err
	}
	blob, err := info.Serialize(value)
	if err != nil {
		return nil, errors.SerializeFailed(typeName, err)
	}

	parsed := gjson.ParseBytes(blob)
	dict, ok := parsed.Value().(map[string]interface{})
	if !ok {
		// Serialize produced a scalar or array rather than an object; wrap
		// it so callers always get a dictionary back.
		return map[string]interface{}{"value": parsed.Value()}, nil
	}
	return dict, nil
}

// GetPath decodes entity's serialized component into generic JSON values and
// evaluates a JSONPath expression against them, for callers that want one
// field rather than the whole dictionary.
func (w *World) GetPath(entity handle.Handle, typeName, path string) (interface{}, error) {
	info, ok := w.Types.Lookup(typeName)
	if !ok {
		return nil, errors.UnknownComponent(typeName)
	}
	if info.IsTag || info.Serialize == nil {
		return nil, nil
	}

	value, err := w.Store.Read(entity, info.ID)
	if err != nil {
		return nil, err
	}
	blob, err := info.Serialize(value)
	if err != nil {
		return nil, errors.SerializeFailed(typeName, err)
	}

	var generic interface{}
	if err := json.Unmarshal(blob, &generic); err != nil {
		return nil, errors.DeserializeFailed(typeName, err)
	}
	return jsonpath.Get(path, generic)
}
