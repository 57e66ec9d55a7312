package coord

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/collabd/internal/snapshot"
)

// Hub resolves project identifiers to their coordinator actors, starting
// one lazily on first use. Actors for different identifiers are fully
// independent and never share state.
type Hub struct {
	snaps  snapshot.Store
	now    func() time.Time
	onDrop func()
	logger zerolog.Logger

	mu     sync.Mutex
	actors map[string]*Actor
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// HubWithClock injects the time source handed to every actor.
func HubWithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// HubWithBroadcastDropped sets the pruned-subscriber callback handed to
// every actor.
func HubWithBroadcastDropped(fn func()) HubOption {
	return func(h *Hub) { h.onDrop = fn }
}

// NewHub creates a hub backed by the given snapshot store.
func NewHub(snaps snapshot.Store, logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		snaps:  snaps,
		now:    time.Now,
		logger: logger.With().Str("component", "coord.hub").Logger(),
		actors: make(map[string]*Actor),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Get returns the actor for projectID, starting it if necessary. The
// returned actor's snapshot load may still be in progress; commands sent
// before it completes queue behind the initialization barrier.
func (h *Hub) Get(projectID string) *Actor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.actors[projectID]; ok {
		return a
	}

	opts := []Option{WithClock(h.now)}
	if h.onDrop != nil {
		opts = append(opts, WithBroadcastDropped(h.onDrop))
	}
	a := StartActor(projectID, h.snaps, h.logger, opts...)
	h.actors[projectID] = a
	h.logger.Debug().Str("project", projectID).Msg("coordinator started")
	return a
}

// Len returns the number of live actors.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.actors)
}

// Stop shuts down every actor and waits for each to finish its in-flight
// command.
func (h *Hub) Stop() {
	h.mu.Lock()
	actors := make([]*Actor, 0, len(h.actors))
	for _, a := range h.actors {
		actors = append(actors, a)
	}
	h.actors = make(map[string]*Actor)
	h.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}
}
