package coord

import (
	"context"
	"sort"
	"time"
)

// TaskFilter selects tasks by exact status and/or tag overlap. A task
// passes the tag filter when it shares at least one tag with the
// requested set.
type TaskFilter struct {
	Status TaskStatus
	Tags   []string
}

// MessageFilter selects messages by exact type, then truncates to the
// most recent Limit entries when Limit > 0.
type MessageFilter struct {
	Type  MessageType
	Limit int
}

// Analytics is the aggregated view over one project's live state.
type Analytics struct {
	Agents struct {
		Total   int                `json:"total"`
		Active  int                `json:"active"`
		ByRole  map[AgentRole]int  `json:"byRole"`
		ByModel map[AgentModel]int `json:"byModel"`
	} `json:"agents"`
	Tasks struct {
		Total      int                  `json:"total"`
		Completed  int                  `json:"completed"`
		InProgress int                  `json:"inProgress"`
		Blocked    int                  `json:"blocked"`
		ByPriority map[TaskPriority]int `json:"byPriority"`
	} `json:"tasks"`
	MessagesLastHour int     `json:"messagesLastHour"`
	AvgTaskHours     float64 `json:"avgTaskHours"`
	CompletionRate   float64 `json:"completionRate"`
}

// Agents returns all agents, id-sorted.
func (a *Actor) Agents(ctx context.Context) ([]Agent, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		out := make([]Agent, 0, len(a.state.Agents))
		for _, ag := range a.state.Agents {
			out = append(out, *ag)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Agent), nil
}

// Tasks returns tasks matching the filter, id-sorted.
func (a *Actor) Tasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		out := make([]Task, 0, len(a.state.Tasks))
		for _, t := range a.state.Tasks {
			if f.Status != "" && t.Status != f.Status {
				continue
			}
			if len(f.Tags) > 0 && !sharesTag(t.Tags, f.Tags) {
				continue
			}
			out = append(out, *t)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Task), nil
}

// Messages returns messages matching the filter in chronological order.
// When a limit is set, the most recent matches are kept, not the oldest.
func (a *Actor) Messages(ctx context.Context, f MessageFilter) ([]Message, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		out := make([]Message, 0, len(a.state.Messages))
		for _, m := range a.state.Messages {
			if f.Type != "" && m.Type != f.Type {
				continue
			}
			out = append(out, m)
		}
		if f.Limit > 0 && len(out) > f.Limit {
			out = out[len(out)-f.Limit:]
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Message), nil
}

// State returns the full state with agent and task maps materialized as
// lists. Connection handles never appear in the result.
func (a *Actor) State(ctx context.Context) (StateView, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		return viewOf(a.state), nil
	})
	if err != nil {
		return StateView{}, err
	}
	return v.(StateView), nil
}

// Analytics aggregates agent, task and message statistics over the
// current state.
func (a *Actor) Analytics(ctx context.Context) (Analytics, error) {
	v, err := a.do(ctx, func() (interface{}, error) {
		var an Analytics
		an.Agents.ByRole = make(map[AgentRole]int)
		an.Agents.ByModel = make(map[AgentModel]int)
		an.Tasks.ByPriority = make(map[TaskPriority]int)

		for _, ag := range a.state.Agents {
			an.Agents.Total++
			if ag.Status == AgentActive {
				an.Agents.Active++
			}
			an.Agents.ByRole[ag.Role]++
			an.Agents.ByModel[ag.Model]++
		}

		var hours float64
		var hoursN int
		for _, t := range a.state.Tasks {
			an.Tasks.Total++
			an.Tasks.ByPriority[t.Priority]++
			switch t.Status {
			case TaskCompleted:
				an.Tasks.Completed++
				if t.ActualHours != nil {
					hours += *t.ActualHours
					hoursN++
				}
			case TaskInProgress:
				an.Tasks.InProgress++
			case TaskBlocked:
				an.Tasks.Blocked++
			}
		}
		if hoursN > 0 {
			an.AvgTaskHours = hours / float64(hoursN)
		}
		if an.Tasks.Total > 0 {
			an.CompletionRate = float64(an.Tasks.Completed) / float64(an.Tasks.Total)
		}

		cutoff := a.now().Add(-time.Hour)
		for _, m := range a.state.Messages {
			if m.Timestamp.After(cutoff) {
				an.MessagesLastHour++
			}
		}
		return an, nil
	})
	if err != nil {
		return Analytics{}, err
	}
	return v.(Analytics), nil
}

// sharesTag reports whether have and want share at least one tag.
func sharesTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
