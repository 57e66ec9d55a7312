package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/collabd/internal/cerrors"
	"github.com/p-blackswan/collabd/internal/retry"
	"github.com/p-blackswan/collabd/internal/snapshot"
)

// ErrStopped is returned for commands issued against a stopped actor.
var ErrStopped = errors.New("coordinator stopped")

// commandBuffer bounds how many commands may queue while the actor is
// loading its snapshot or busy. Senders block past this, they are never
// rejected.
const commandBuffer = 64

type result struct {
	v   interface{}
	err error
}

type command struct {
	fn    func() (interface{}, error)
	reply chan result
}

// Actor is the single-writer coordinator for one project. All commands
// and queries execute on its goroutine, strictly serialized: a query
// always observes a fully-completed prior mutation. Every mutation
// persists a snapshot before it is considered complete, then broadcasts
// a typed event to all live connections.
type Actor struct {
	projectID string
	snaps     snapshot.Store
	registry  *Registry
	now       func() time.Time
	logger    zerolog.Logger

	cmds chan command
	stop chan struct{}
	done chan struct{}

	// state is owned by the run goroutine once it starts.
	state *ProjectState
}

// Option configures an Actor.
type Option func(*Actor)

// WithClock injects the time source used for every timestamp the actor
// writes. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Actor) { a.now = now }
}

// WithBroadcastDropped sets a callback invoked once per subscriber pruned
// during a broadcast.
func WithBroadcastDropped(fn func()) Option {
	return func(a *Actor) { a.registry = NewRegistry(fn, a.logger) }
}

// StartActor creates the coordinator for projectID and starts its
// goroutine. The snapshot load completes before the first command is
// consumed; commands arriving during the load queue up.
func StartActor(projectID string, snaps snapshot.Store, logger zerolog.Logger, opts ...Option) *Actor {
	a := &Actor{
		projectID: projectID,
		snaps:     snaps,
		now:       time.Now,
		logger:    logger.With().Str("component", "coord.actor").Str("project", projectID).Logger(),
		cmds:      make(chan command, commandBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	a.registry = NewRegistry(nil, a.logger)
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

// ProjectID returns the identifier this actor coordinates.
func (a *Actor) ProjectID() string { return a.projectID }

// Registry returns the connection registry owned by this actor.
func (a *Actor) Registry() *Registry { return a.registry }

// Stop shuts the actor down after the in-flight command completes.
// Queued commands fail with ErrStopped.
func (a *Actor) Stop() {
	close(a.stop)
	<-a.done
}

func (a *Actor) run() {
	defer close(a.done)

	a.load()

	for {
		select {
		case <-a.stop:
			a.drain()
			return
		case cmd := <-a.cmds:
			v, err := cmd.fn()
			cmd.reply <- result{v: v, err: err}
		}
	}
}

// load reconstructs state from the persisted snapshot, or builds default
// state when none exists. An unreadable snapshot is logged and treated as
// absent rather than wedging the project.
func (a *Actor) load() {
	b, err := a.snaps.Load(context.Background(), a.projectID)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) {
			a.logger.Error().Err(err).Msg("snapshot load failed, starting from default state")
		}
		a.state = newProjectState(a.now())
		return
	}

	var v StateView
	if err := json.Unmarshal(b, &v); err != nil {
		a.logger.Error().Err(err).Msg("snapshot unreadable, starting from default state")
		a.state = newProjectState(a.now())
		return
	}

	a.state = stateOf(v)
	a.logger.Info().
		Int("agents", len(a.state.Agents)).
		Int("tasks", len(a.state.Tasks)).
		Int("messages", len(a.state.Messages)).
		Msg("state reconstructed from snapshot")
}

func (a *Actor) drain() {
	for {
		select {
		case cmd := <-a.cmds:
			cmd.reply <- result{err: ErrStopped}
		default:
			return
		}
	}
}

// do queues fn onto the actor goroutine and waits for its result. Once
// accepted a command runs to completion; ctx only bounds the queueing
// wait.
func (a *Actor) do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	cmd := command{fn: fn, reply: make(chan result, 1)}
	select {
	case a.cmds <- cmd:
	case <-a.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.v, res.err
	case <-a.done:
		// The in-flight command may have completed just before shutdown.
		select {
		case res := <-cmd.reply:
			return res.v, res.err
		default:
			return nil, ErrStopped
		}
	}
}

// snapshotRetry bounds retries of a contended snapshot write. Delays are
// short: the actor goroutine blocks for their full duration.
var snapshotRetry = retry.Config{
	MaxAttempts: 3,
	BaseDelay:   25 * time.Millisecond,
	MaxDelay:    200 * time.Millisecond,
	Jitter:      true,
}

// persist writes the current snapshot. Runs on the actor goroutine; the
// mutation is not complete until this returns.
func (a *Actor) persist() error {
	b, err := json.Marshal(viewOf(a.state))
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	err = retry.Do(context.Background(), snapshotRetry, func(ctx context.Context) error {
		return a.snaps.Save(ctx, a.projectID, b)
	})
	if err != nil {
		return fmt.Errorf("persisting snapshot: %w", err)
	}
	return nil
}

func (a *Actor) broadcast(t EventType, data interface{}) {
	a.registry.Broadcast(Event{
		Type:      t,
		ProjectID: a.state.ID,
		Data:      data,
		Timestamp: a.now(),
	})
}

// appendMessage appends to the bounded history, evicting the oldest
// entries past the window. Caller persists and broadcasts.
func (a *Actor) appendMessage(m Message) Message {
	a.state.Messages = append(a.state.Messages, m)
	if n := len(a.state.Messages); n > maxMessages {
		a.state.Messages = a.state.Messages[n-maxMessages:]
	}
	return m
}

func (a *Actor) systemMessage(content string) Message {
	return a.appendMessage(Message{
		ID:        uuid.New().String(),
		AgentID:   SystemAgentID,
		Type:      MsgSystem,
		Content:   content,
		Timestamp: a.now(),
	})
}

// Initialize merges the supplied partial state over the current state,
// assigns a fresh identifier if none is set and resets both timestamps.
func (a *Actor) Initialize(ctx context.Context, init InitState) (StateView, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		s := a.state
		if init.ID != nil && *init.ID != "" {
			s.ID = *init.ID
		}
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if init.Name != nil {
			s.Name = *init.Name
		}
		if init.Description != nil {
			s.Description = *init.Description
		}
		if init.Status != nil {
			s.Status = *init.Status
		}
		if init.Files != nil {
			s.Files = *init.Files
		}
		if init.Context != nil {
			s.Context = *init.Context
		}
		if init.Settings != nil {
			s.Settings = *init.Settings
		}
		now := a.now()
		s.CreatedAt = now
		s.UpdatedAt = now

		if err := a.persist(); err != nil {
			return nil, err
		}
		view := viewOf(s)
		a.broadcast(EvtProjectInitialized, view)
		return view, nil
	})
	if err != nil {
		return StateView{}, err
	}
	return v.(StateView), nil
}

// RegisterAgent stores a new agent, filling defaults for omitted fields.
// Status is forced to active regardless of input. If conn is non-nil it
// receives a private welcome frame with the assigned id and full state.
func (a *Actor) RegisterAgent(ctx context.Context, draft Agent, conn Conn) (Agent, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		now := a.now()
		if draft.ID == "" {
			draft.ID = uuid.New().String()
		}
		if draft.Role == "" {
			draft.Role = RoleFullstack
		}
		if draft.Model == "" {
			draft.Model = ModelCustom
		}
		draft.Status = AgentActive
		draft.LastSeen = now
		if draft.Capabilities == nil {
			draft.Capabilities = []string{}
		}
		if draft.Preferences == nil {
			draft.Preferences = make(map[string]string)
		}

		agent := draft
		a.state.Agents[agent.ID] = &agent
		a.state.UpdatedAt = now

		var sys *Message
		if a.state.Settings.Notifications.OnAgentJoin {
			m := a.systemMessage(fmt.Sprintf("%s joined the project", agent.Name))
			sys = &m
		}

		if err := a.persist(); err != nil {
			return nil, err
		}
		a.broadcast(EvtAgentJoined, agent)
		if sys != nil {
			a.broadcast(EvtMessageNew, *sys)
		}

		if conn != nil {
			w := Welcome{Type: EvtWelcome, AgentID: agent.ID, State: viewOf(a.state)}
			b, err := json.Marshal(w)
			if err != nil {
				a.logger.Error().Err(err).Str("agent", agent.ID).Msg("welcome frame marshal failed")
			} else if err := conn.Send(b); err != nil {
				a.logger.Warn().Err(err).Str("agent", agent.ID).Msg("welcome frame send failed")
			}
		}
		return agent, nil
	})
	if err != nil {
		return Agent{}, err
	}
	return v.(Agent), nil
}

// UpdateAgent overlays the supplied fields onto an existing agent and
// refreshes its last-seen timestamp. Fails with a NotFound error if the
// agent does not exist.
func (a *Actor) UpdateAgent(ctx context.Context, id string, patch AgentPatch) (Agent, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		agent, ok := a.state.Agents[id]
		if !ok {
			return nil, cerrors.NotFound("Agent")
		}
		if patch.Name != nil {
			agent.Name = *patch.Name
		}
		if patch.Role != nil {
			agent.Role = *patch.Role
		}
		if patch.Model != nil {
			agent.Model = *patch.Model
		}
		if patch.Status != nil {
			agent.Status = *patch.Status
		}
		if patch.CurrentTask != nil {
			agent.CurrentTask = *patch.CurrentTask
		}
		if patch.Capabilities != nil {
			agent.Capabilities = *patch.Capabilities
		}
		if patch.Preferences != nil {
			agent.Preferences = *patch.Preferences
		}
		now := a.now()
		agent.LastSeen = now
		a.state.UpdatedAt = now

		if err := a.persist(); err != nil {
			return nil, err
		}
		a.broadcast(EvtAgentUpdated, *agent)
		return *agent, nil
	})
	if err != nil {
		return Agent{}, err
	}
	return v.(Agent), nil
}

// RemoveAgent deletes an agent. Returns false without side effects if the
// agent does not exist.
func (a *Actor) RemoveAgent(ctx context.Context, id string) (bool, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		if _, ok := a.state.Agents[id]; !ok {
			return false, nil
		}
		delete(a.state.Agents, id)
		a.state.UpdatedAt = a.now()

		if err := a.persist(); err != nil {
			return nil, err
		}
		a.broadcast(EvtAgentLeft, map[string]string{"agentId": id})
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// CreateTask stores a new task, filling defaults for omitted fields.
func (a *Actor) CreateTask(ctx context.Context, draft Task) (Task, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		now := a.now()
		if draft.ID == "" {
			draft.ID = uuid.New().String()
		}
		if draft.Status == "" {
			draft.Status = TaskTodo
		}
		if draft.Priority == "" {
			draft.Priority = PriorityMedium
		}
		if draft.Dependencies == nil {
			draft.Dependencies = []string{}
		}
		if draft.Tags == nil {
			draft.Tags = []string{}
		}
		draft.CreatedAt = now
		draft.UpdatedAt = now

		task := draft
		a.state.Tasks[task.ID] = &task
		a.state.UpdatedAt = now

		if err := a.persist(); err != nil {
			return nil, err
		}
		a.broadcast(EvtTaskCreated, task)
		return task, nil
	})
	if err != nil {
		return Task{}, err
	}
	return v.(Task), nil
}

// UpdateTask overlays the supplied fields onto an existing task. Fails
// with a NotFound error if the task does not exist. A transition into
// completed or blocked emits a system message, gated by the matching
// notification toggle.
func (a *Actor) UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		task, ok := a.state.Tasks[id]
		if !ok {
			return nil, cerrors.NotFound("Task")
		}
		if patch.Title != nil {
			task.Title = *patch.Title
		}
		if patch.Description != nil {
			task.Description = *patch.Description
		}
		if patch.AssignedTo != nil {
			task.AssignedTo = *patch.AssignedTo
		}
		if patch.Status != nil {
			task.Status = *patch.Status
		}
		if patch.Priority != nil {
			task.Priority = *patch.Priority
		}
		if patch.Dependencies != nil {
			task.Dependencies = *patch.Dependencies
		}
		if patch.Tags != nil {
			task.Tags = *patch.Tags
		}
		if patch.EstimatedHours != nil {
			task.EstimatedHours = *patch.EstimatedHours
		}
		if patch.ActualHours != nil {
			v := *patch.ActualHours
			task.ActualHours = &v
		}
		now := a.now()
		task.UpdatedAt = now
		a.state.UpdatedAt = now

		var sys *Message
		if patch.Status != nil {
			switch *patch.Status {
			case TaskCompleted:
				if a.state.Settings.Notifications.OnTaskComplete {
					m := a.systemMessage(fmt.Sprintf("Task completed: %s", task.Title))
					sys = &m
				}
			case TaskBlocked:
				if a.state.Settings.Notifications.OnBlocker {
					m := a.systemMessage(fmt.Sprintf("Task blocked: %s", task.Title))
					sys = &m
				}
			}
		}

		if err := a.persist(); err != nil {
			return nil, err
		}
		a.broadcast(EvtTaskUpdated, *task)
		if sys != nil {
			a.broadcast(EvtMessageNew, *sys)
		}
		return *task, nil
	})
	if err != nil {
		return Task{}, err
	}
	return v.(Task), nil
}

// DeleteTask removes a task unconditionally; deleting an absent task is
// not an error.
func (a *Actor) DeleteTask(ctx context.Context, id string) error {
	_, err := a.do(ctx, func() (interface{}, error) {
		delete(a.state.Tasks, id)
		a.state.UpdatedAt = a.now()

		if err := a.persist(); err != nil {
			return nil, err
		}
		a.broadcast(EvtTaskDeleted, map[string]string{"taskId": id})
		return nil, nil
	})
	return err
}

// SendMessage appends a message to the bounded history, filling defaults
// for omitted fields.
func (a *Actor) SendMessage(ctx context.Context, draft Message) (Message, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		now := a.now()
		if draft.ID == "" {
			draft.ID = uuid.New().String()
		}
		if draft.AgentID == "" {
			draft.AgentID = SystemAgentID
		}
		if draft.Type == "" {
			draft.Type = MsgChat
		}
		draft.Timestamp = now

		msg := a.appendMessage(draft)
		a.state.UpdatedAt = now

		if err := a.persist(); err != nil {
			return nil, err
		}
		a.broadcast(EvtMessageNew, msg)
		return msg, nil
	})
	if err != nil {
		return Message{}, err
	}
	return v.(Message), nil
}

// UpdateContext shallow-merges the patch into the context map.
func (a *Actor) UpdateContext(ctx context.Context, patch map[string]string) (map[string]string, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		for k, val := range patch {
			a.state.Context[k] = val
		}
		a.state.UpdatedAt = a.now()

		if err := a.persist(); err != nil {
			return nil, err
		}
		merged := make(map[string]string, len(a.state.Context))
		for k, val := range a.state.Context {
			merged[k] = val
		}
		a.broadcast(EvtContextUpdated, merged)
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}
