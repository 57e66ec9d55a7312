package coord

import (
	"sort"
	"time"
)

// EventType names a broadcast event. One event is emitted per mutation.
type EventType string

const (
	EvtProjectInitialized EventType = "project.initialized"
	EvtAgentJoined        EventType = "agent.joined"
	EvtAgentUpdated       EventType = "agent.updated"
	EvtAgentLeft          EventType = "agent.left"
	EvtTaskCreated        EventType = "task.created"
	EvtTaskUpdated        EventType = "task.updated"
	EvtTaskDeleted        EventType = "task.deleted"
	EvtMessageNew         EventType = "message.new"
	EvtContextUpdated     EventType = "context.updated"
	EvtWelcome            EventType = "welcome"
)

// Event is the frame pushed to every live subscriber after a mutation.
type Event struct {
	Type      EventType   `json:"type"`
	ProjectID string      `json:"projectId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"ts"`
}

// Welcome is the private frame sent to a connection that registered an
// agent: its assigned id plus the full current state.
type Welcome struct {
	Type    EventType `json:"type"`
	AgentID string    `json:"agentId"`
	State   StateView `json:"state"`
}

// StateView is the serialized form of ProjectState: agent and task maps
// materialized as id-sorted lists. It is used both for snapshots and for
// full-state query results, so connection handles can never appear in
// either by construction.
type StateView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      ProjectStatus     `json:"status"`
	Agents      []Agent           `json:"agents"`
	Tasks       []Task            `json:"tasks"`
	Files       []string          `json:"files"`
	Context     map[string]string `json:"context"`
	Messages    []Message         `json:"messages"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Settings    Settings          `json:"settings"`
}

// viewOf materializes a ProjectState into its serialized form.
func viewOf(s *ProjectState) StateView {
	v := StateView{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Status:      s.Status,
		Agents:      make([]Agent, 0, len(s.Agents)),
		Tasks:       make([]Task, 0, len(s.Tasks)),
		Files:       append([]string{}, s.Files...),
		Context:     make(map[string]string, len(s.Context)),
		Messages:    append([]Message{}, s.Messages...),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		Settings:    s.Settings,
	}
	for _, a := range s.Agents {
		v.Agents = append(v.Agents, *a)
	}
	for _, t := range s.Tasks {
		v.Tasks = append(v.Tasks, *t)
	}
	sort.Slice(v.Agents, func(i, j int) bool { return v.Agents[i].ID < v.Agents[j].ID })
	sort.Slice(v.Tasks, func(i, j int) bool { return v.Tasks[i].ID < v.Tasks[j].ID })
	for k, val := range s.Context {
		v.Context[k] = val
	}
	return v
}

// stateOf rebuilds a ProjectState from its serialized form, restoring the
// agent and task maps from their list representation.
func stateOf(v StateView) *ProjectState {
	s := &ProjectState{
		ID:          v.ID,
		Name:        v.Name,
		Description: v.Description,
		Status:      v.Status,
		Agents:      make(map[string]*Agent, len(v.Agents)),
		Tasks:       make(map[string]*Task, len(v.Tasks)),
		Files:       v.Files,
		Context:     v.Context,
		Messages:    v.Messages,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
		Settings:    v.Settings,
	}
	if s.Files == nil {
		s.Files = []string{}
	}
	if s.Context == nil {
		s.Context = make(map[string]string)
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	for i := range v.Agents {
		a := v.Agents[i]
		s.Agents[a.ID] = &a
	}
	for i := range v.Tasks {
		t := v.Tasks[i]
		s.Tasks[t.ID] = &t
	}
	return s
}
