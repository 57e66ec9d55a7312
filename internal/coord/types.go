// Package coord implements the per-project coordinator: a single-writer
// actor that owns one project's live collaboration state, persists a
// snapshot after every mutation and fans change events out to all
// connected subscribers.
package coord

import "time"

// ProjectStatus is the lifecycle status of a project.
type ProjectStatus string

const (
	StatusPlanning  ProjectStatus = "planning"
	StatusActive    ProjectStatus = "active"
	StatusPaused    ProjectStatus = "paused"
	StatusCompleted ProjectStatus = "completed"
	StatusArchived  ProjectStatus = "archived"
)

// AgentRole is the functional role of an agent within the project.
type AgentRole string

const (
	RoleFrontend  AgentRole = "frontend"
	RoleBackend   AgentRole = "backend"
	RoleFullstack AgentRole = "fullstack"
	RoleDevops    AgentRole = "devops"
	RoleDesigner  AgentRole = "designer"
	RoleTester    AgentRole = "tester"
)

// AgentModel tags the model/kind of software agent.
type AgentModel string

const (
	ModelClaude AgentModel = "claude"
	ModelGPT    AgentModel = "gpt"
	ModelGemini AgentModel = "gemini"
	ModelLlama  AgentModel = "llama"
	ModelCustom AgentModel = "custom"
)

// AgentStatus is an agent's live working status.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentBlocked AgentStatus = "blocked"
	AgentOffline AgentStatus = "offline"
)

// TaskStatus is a task's lifecycle status.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskBlocked    TaskStatus = "blocked"
	TaskCompleted  TaskStatus = "completed"
)

// TaskPriority is a task's priority level.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// MessageType classifies a project message.
type MessageType string

const (
	MsgChat   MessageType = "chat"
	MsgStatus MessageType = "status"
	MsgCode   MessageType = "code"
	MsgFile   MessageType = "file"
	MsgSystem MessageType = "system"
)

// SystemAgentID is the sentinel sender for system-generated messages.
const SystemAgentID = "system"

// maxMessages bounds the message history; oldest entries are evicted first.
const maxMessages = 1000

// Agent is a registered software agent. Live connection handles are held
// by the actor and the connection registry, never on the entity itself,
// so snapshots and query results can never leak them.
type Agent struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Role         AgentRole         `json:"role"`
	Model        AgentModel        `json:"model"`
	Status       AgentStatus       `json:"status"`
	CurrentTask  string            `json:"currentTask,omitempty"`
	LastSeen     time.Time         `json:"lastSeen"`
	Capabilities []string          `json:"capabilities"`
	Preferences  map[string]string `json:"preferences"`
}

// Task is a shared unit of work. AssignedTo is not validated against the
// agent set; a task may be assigned to an agent that has already left.
// ActualHours is nil until reported; an explicit zero is a valid report
// and counts toward the completed-task average.
type Task struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	AssignedTo     string       `json:"assignedTo,omitempty"`
	Status         TaskStatus   `json:"status"`
	Priority       TaskPriority `json:"priority"`
	Dependencies   []string     `json:"dependencies"`
	Tags           []string     `json:"tags"`
	EstimatedHours float64      `json:"estimatedHours,omitempty"`
	ActualHours    *float64     `json:"actualHours,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Message is one entry in the bounded project history.
type Message struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agentId"`
	Type      MessageType       `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notifications are per-event toggles gating system message emission.
type Notifications struct {
	OnTaskComplete bool `json:"onTaskComplete"`
	OnAgentJoin    bool `json:"onAgentJoin"`
	OnBlocker      bool `json:"onBlocker"`
}

// Settings carries project configuration. MaxAgents and AutoSaveInterval
// are advisory: stored and served but not enforced by any code path.
type Settings struct {
	MaxAgents        int           `json:"maxAgents"`
	ChatEnabled      bool          `json:"chatEnabled"`
	AutoSaveInterval time.Duration `json:"autoSaveInterval"`
	Notifications    Notifications `json:"notifications"`
}

// DefaultSettings returns the settings a fresh project starts with.
func DefaultSettings() Settings {
	return Settings{
		MaxAgents:        10,
		ChatEnabled:      true,
		AutoSaveInterval: 30 * time.Second,
		Notifications: Notifications{
			OnTaskComplete: true,
			OnAgentJoin:    true,
			OnBlocker:      true,
		},
	}
}

// ProjectState is the root aggregate owned by one Actor. The agent and
// task maps are keyed by entity id; both are materialized as sorted lists
// in snapshots and query results (see StateView).
type ProjectState struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      ProjectStatus     `json:"status"`
	Agents      map[string]*Agent `json:"-"`
	Tasks       map[string]*Task  `json:"-"`
	Files       []string          `json:"files"`
	Context     map[string]string `json:"context"`
	Messages    []Message         `json:"messages"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Settings    Settings          `json:"settings"`
}

// newProjectState returns the default state used when no snapshot exists.
func newProjectState(now time.Time) *ProjectState {
	return &ProjectState{
		Status:    StatusPlanning,
		Agents:    make(map[string]*Agent),
		Tasks:     make(map[string]*Task),
		Files:     []string{},
		Context:   make(map[string]string),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Settings:  DefaultSettings(),
	}
}

// AgentPatch is a partial agent update; nil fields are left untouched.
type AgentPatch struct {
	Name         *string            `json:"name"`
	Role         *AgentRole         `json:"role"`
	Model        *AgentModel        `json:"model"`
	Status       *AgentStatus       `json:"status"`
	CurrentTask  *string            `json:"currentTask"`
	Capabilities *[]string          `json:"capabilities"`
	Preferences  *map[string]string `json:"preferences"`
}

// TaskPatch is a partial task update; nil fields are left untouched.
type TaskPatch struct {
	Title          *string       `json:"title"`
	Description    *string       `json:"description"`
	AssignedTo     *string       `json:"assignedTo"`
	Status         *TaskStatus   `json:"status"`
	Priority       *TaskPriority `json:"priority"`
	Dependencies   *[]string     `json:"dependencies"`
	Tags           *[]string     `json:"tags"`
	EstimatedHours *float64      `json:"estimatedHours"`
	ActualHours    *float64      `json:"actualHours"`
}

// InitState is the partial state accepted by Initialize. Supplied fields
// overlay the current state; omitted fields keep their current values.
type InitState struct {
	ID          *string            `json:"id"`
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Status      *ProjectStatus     `json:"status"`
	Files       *[]string          `json:"files"`
	Context     *map[string]string `json:"context"`
	Settings    *Settings          `json:"settings"`
}
