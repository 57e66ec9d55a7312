package cerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFound(t *testing.T) {
	err := NotFound("Agent")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsInvalid(err))
	assert.Equal(t, "Agent not found", Message(err))
}

func TestInvalid(t *testing.T) {
	err := Invalid("agentId is required")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "agentId is required", Message(err))
}

func TestMessage_PlainError(t *testing.T) {
	assert.Equal(t, "boom", Message(errors.New("boom")))
	assert.Empty(t, Message(nil))
}

func TestIs_SurvivesFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("handling request: %w", NotFound("Task"))
	assert.True(t, IsNotFound(err))
}
