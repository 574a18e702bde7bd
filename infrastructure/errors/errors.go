// Package errors provides a single structured error surface for the engine,
// covering every category in the error taxonomy: precondition violations,
// resource exhaustion, scheduler violations, backend failures, network
// protocol failures, and serialization failures. Core code never panics on
// user/peer input; the only fatals are internal invariant violations.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies which taxonomy category an EngineError belongs to.
type Code string

const (
	// Precondition violations — best-effort no-op, logged, not fatal.
	CodeDeadEntity        Code = "PRECOND_DEAD_ENTITY"
	CodeUnknownComponent  Code = "PRECOND_UNKNOWN_COMPONENT"
	CodeUnknownPhase      Code = "PRECOND_UNKNOWN_PHASE"
	CodeComponentMismatch Code = "PRECOND_COMPONENT_MISMATCH"

	// Resource exhaustion — soft, except handle-space exhaustion which is fatal.
	CodeCommandQueueFull Code = "RESOURCE_COMMAND_QUEUE_FULL"
	CodeHandleSpaceFull  Code = "RESOURCE_HANDLE_SPACE_FULL"

	// Scheduler violations — fatal at registration time, except
	// CodeOverlappingWriters, which Fatal reports as non-fatal.
	CodePhaseCycle         Code = "SCHEDULER_PHASE_CYCLE"
	CodeDuplicateSystem    Code = "SCHEDULER_DUPLICATE_SYSTEM"
	CodeUnknownPhaseDep    Code = "SCHEDULER_UNKNOWN_PHASE_DEP"
	CodeOverlappingWriters Code = "SCHEDULER_OVERLAPPING_WRITERS"

	// Backend failures — silently dropped, logged once per handle.
	CodeInvalidBackendHandle Code = "BACKEND_INVALID_HANDLE"

	// Network protocol failures — connection torn down, no surviving state.
	CodeProtocolVersionMismatch Code = "NETWORK_VERSION_MISMATCH"
	CodeMalformedPacket         Code = "NETWORK_MALFORMED_PACKET"
	CodeHandshakeTimeout        Code = "NETWORK_HANDSHAKE_TIMEOUT"

	// Serialization failures — the single component is skipped.
	CodeSerializeFailed   Code = "SERIALIZE_FAILED"
	CodeDeserializeFailed Code = "SERIALIZE_DESERIALIZE_FAILED"

	// Internal invariant violations — the only fatals.
	CodeInternalInvariant Code = "INTERNAL_INVARIANT_VIOLATION"
)

// Fatal reports whether errors of this code represent a construction failure
// or fatal condition rather than a recoverable, logged no-op.
func (c Code) Fatal() bool {
	switch c {
	case CodeHandleSpaceFull, CodePhaseCycle, CodeDuplicateSystem, CodeUnknownPhaseDep, CodeInternalInvariant:
		return true
	default:
		return false
	}
}

// EngineError is a structured error carrying a taxonomy code, a human
// message, optional key/value details, and an optional wrapped cause.
type EngineError struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair and returns the receiver for chaining.
func (e *EngineError) WithDetails(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an EngineError with no wrapped cause.
func New(code Code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// Wrap creates an EngineError around an existing error.
func Wrap(code Code, message string, err error) *EngineError {
	return &EngineError{Code: code, Message: message, Err: err}
}

// Precondition-violation constructors.

func DeadEntity(entity uint64) *EngineError {
	return New(CodeDeadEntity, "operation on a dead entity handle").WithDetails("entity", entity)
}

func UnknownComponent(typeName string) *EngineError {
	return New(CodeUnknownComponent, "unregistered component type").WithDetails("type", typeName)
}

func UnknownPhase(name string) *EngineError {
	return New(CodeUnknownPhase, "unknown phase").WithDetails("phase", name)
}

// Resource-exhaustion constructors.

func CommandQueueFull(closureType string) *EngineError {
	return New(CodeCommandQueueFull, "command pool exhausted; command dropped").WithDetails("closure_type", closureType)
}

func HandleSpaceFull() *EngineError {
	return New(CodeHandleSpaceFull, "32-bit handle index space exhausted")
}

// Scheduler-violation constructors (fatal, surfaced as construction failures).

func PhaseCycle(cycle []string) *EngineError {
	return New(CodePhaseCycle, "phase DependsOn graph contains a cycle").WithDetails("cycle", cycle)
}

func DuplicateSystem(name string) *EngineError {
	return New(CodeDuplicateSystem, "duplicate system name").WithDetails("system", name)
}

func UnknownPhaseDep(phase, dep string) *EngineError {
	return New(CodeUnknownPhaseDep, "phase depends on an unregistered phase").
		WithDetails("phase", phase).WithDetails("depends_on", dep)
}

// Backend-failure constructor.

func InvalidBackendHandle(rid uint64) *EngineError {
	return New(CodeInvalidBackendHandle, "render backend call against an invalid RID").WithDetails("rid", rid)
}

// Network-protocol-failure constructors.

func ProtocolVersionMismatch(want, got uint8) *EngineError {
	return New(CodeProtocolVersionMismatch, "handshake protocol version mismatch").
		WithDetails("want", want).WithDetails("got", got)
}

func MalformedPacket(reason string) *EngineError {
	return New(CodeMalformedPacket, "malformed packet").WithDetails("reason", reason)
}

func HandshakeTimeout() *EngineError {
	return New(CodeHandshakeTimeout, "handshake did not complete before timeout")
}

// Serialization-failure constructors.

func SerializeFailed(typeName string, err error) *EngineError {
	return Wrap(CodeSerializeFailed, "component serialize failed", err).WithDetails("type", typeName)
}

func DeserializeFailed(typeName string, err error) *EngineError {
	return Wrap(CodeDeserializeFailed, "component deserialize failed", err).WithDetails("type", typeName)
}

// InternalInvariant wraps an internal invariant violation — the only class
// of error that should ever be treated as fatal by a caller.
func InternalInvariant(message string) *EngineError {
	return New(CodeInternalInvariant, message)
}

// As reports whether err is (or wraps) an *EngineError, mirroring errors.As.
func As(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// CodeOf extracts the Code from err, or "" if err is not an EngineError.
func CodeOf(err error) Code {
	if ee, ok := As(err); ok {
		return ee.Code
	}
	return ""
}
