package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	plain := New(CodeDeadEntity, "operation on a dead entity handle")
	assert.Equal(t, "[PRECOND_DEAD_ENTITY] operation on a dead entity handle", plain.Error())

	wrapped := Wrap(CodeSerializeFailed, "component serialize failed", stderrors.New("short write"))
	assert.Equal(t, "[SERIALIZE_FAILED] component serialize failed: short write", wrapped.Error())
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(CodeDeserializeFailed, "bad wire format", cause)
	assert.Same(t, cause, err.Unwrap())
	assert.True(t, stderrors.Is(err, cause))
}

func TestWithDetailsChains(t *testing.T) {
	err := New(CodeUnknownComponent, "unregistered component type").
		WithDetails("type", "Transform").
		WithDetails("world", "w1")

	require.Len(t, err.Details, 2)
	assert.Equal(t, "Transform", err.Details["type"])
	assert.Equal(t, "w1", err.Details["world"])
}

func TestFatalClassification(t *testing.T) {
	fatalCodes := []Code{CodeHandleSpaceFull, CodePhaseCycle, CodeDuplicateSystem, CodeUnknownPhaseDep, CodeInternalInvariant}
	for _, c := range fatalCodes {
		assert.True(t, c.Fatal(), "%s should be fatal", c)
	}

	softCodes := []Code{CodeDeadEntity, CodeUnknownComponent, CodeCommandQueueFull, CodeMalformedPacket}
	for _, c := range softCodes {
		assert.False(t, c.Fatal(), "%s should not be fatal", c)
	}
}

func TestConstructorsAttachDetails(t *testing.T) {
	assert.Equal(t, uint64(7), DeadEntity(7).Details["entity"])
	assert.Equal(t, "multimesh_transform", CommandQueueFull("multimesh_transform").Details["closure_type"])
	assert.Equal(t, []string{"OnUpdate", "OnRender"}, PhaseCycle([]string{"OnUpdate", "OnRender"}).Details["cycle"])
	assert.Equal(t, uint8(2), ProtocolVersionMismatch(1, 2).Details["got"])
}

func TestAsAndCodeOf(t *testing.T) {
	err := HandshakeTimeout()
	var wrapped error = err

	ee, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeHandshakeTimeout, ee.Code)
	assert.Equal(t, CodeHandshakeTimeout, CodeOf(wrapped))

	assert.Equal(t, Code(""), CodeOf(stderrors.New("plain error")))
}
