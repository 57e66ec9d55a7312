package coord

import (
	"encoding/json"
	"fmt"

	"github.com/p-blackswan/collabd/internal/cerrors"
)

// Inbound streaming frames form a closed set: every known frame kind
// decodes into its own typed command carrying exactly the fields that
// kind needs, so a missing required field is caught here at the
// transport boundary instead of deep inside a handler.

// Frame is one decoded inbound command from a streaming connection.
type Frame interface {
	frameKind() string
}

// AgentRegisterFrame registers the sending connection's agent.
type AgentRegisterFrame struct {
	Agent Agent
}

// AgentUpdateFrame updates an existing agent.
type AgentUpdateFrame struct {
	AgentID string
	Patch   AgentPatch
}

// TaskCreateFrame creates a task.
type TaskCreateFrame struct {
	Task Task
}

// TaskUpdateFrame updates an existing task.
type TaskUpdateFrame struct {
	TaskID string
	Patch  TaskPatch
}

// MessageSendFrame appends a message.
type MessageSendFrame struct {
	Message Message
}

// ContextUpdateFrame shallow-merges into the context map.
type ContextUpdateFrame struct {
	Context map[string]string
}

func (AgentRegisterFrame) frameKind() string { return "agent.register" }
func (AgentUpdateFrame) frameKind() string   { return "agent.update" }
func (TaskCreateFrame) frameKind() string    { return "task.create" }
func (TaskUpdateFrame) frameKind() string    { return "task.update" }
func (MessageSendFrame) frameKind() string   { return "message.send" }
func (ContextUpdateFrame) frameKind() string { return "context.update" }

// DecodeFrame parses one raw inbound frame into its typed command.
// Malformed JSON and unknown types yield ErrInvalidInput; so does a
// missing required field, with a field-specific message.
func DecodeFrame(raw []byte) (Frame, error) {
	var env struct {
		Type    string            `json:"type"`
		Agent   *Agent            `json:"agent"`
		AgentID string            `json:"agentId"`
		Task    *Task             `json:"task"`
		TaskID  string            `json:"taskId"`
		Message *Message          `json:"message"`
		Updates json.RawMessage   `json:"updates"`
		Context map[string]string `json:"context"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, cerrors.Invalid("malformed frame")
	}

	switch env.Type {
	case "agent.register":
		f := AgentRegisterFrame{}
		if env.Agent != nil {
			f.Agent = *env.Agent
		}
		return f, nil

	case "agent.update":
		if env.AgentID == "" {
			return nil, cerrors.Invalid("agentId is required")
		}
		f := AgentUpdateFrame{AgentID: env.AgentID}
		if len(env.Updates) > 0 {
			if err := json.Unmarshal(env.Updates, &f.Patch); err != nil {
				return nil, cerrors.Invalid("malformed agent updates")
			}
		}
		return f, nil

	case "task.create":
		if env.Task == nil || env.Task.Title == "" {
			return nil, cerrors.Invalid("task title is required")
		}
		return TaskCreateFrame{Task: *env.Task}, nil

	case "task.update":
		if env.TaskID == "" {
			return nil, cerrors.Invalid("taskId is required")
		}
		f := TaskUpdateFrame{TaskID: env.TaskID}
		if len(env.Updates) > 0 {
			if err := json.Unmarshal(env.Updates, &f.Patch); err != nil {
				return nil, cerrors.Invalid("malformed task updates")
			}
		}
		return f, nil

	case "message.send":
		if env.Message == nil || env.Message.Content == "" {
			return nil, cerrors.Invalid("message content is required")
		}
		return MessageSendFrame{Message: *env.Message}, nil

	case "context.update":
		if env.Context == nil {
			return nil, cerrors.Invalid("context is required")
		}
		return ContextUpdateFrame{Context: env.Context}, nil

	case "":
		return nil, cerrors.Invalid("frame type is required")

	default:
		return nil, cerrors.Invalid(fmt.Sprintf("unknown frame type %q", env.Type))
	}
}
