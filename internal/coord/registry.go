package coord

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Conn is a live subscriber connection. Send runs on the owning actor's
// goroutine and must return promptly: implementations queue or fail
// rather than wait on the peer, so one stalled subscriber can never
// stall the actor.
type Conn interface {
	Send(payload []byte) error
}

// Registry tracks the open streaming connections of one coordinator
// instance. Connections are added on upgrade and removed on close or on
// the first failed send.
type Registry struct {
	mu      sync.Mutex
	conns   map[Conn]struct{}
	dropped func()
	logger  zerolog.Logger
}

// NewRegistry creates an empty connection registry. onDropped, if non-nil,
// is invoked once per connection pruned during a broadcast.
func NewRegistry(onDropped func(), logger zerolog.Logger) *Registry {
	return &Registry{
		conns:   make(map[Conn]struct{}),
		dropped: onDropped,
		logger:  logger.With().Str("component", "coord.registry").Logger(),
	}
}

// Add registers a live connection.
func (r *Registry) Add(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

// Remove drops a connection. No-op if the connection is not present.
func (r *Registry) Remove(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Broadcast serializes the event once and attempts delivery to every
// member. A member whose send fails is removed without aborting delivery
// to the rest; delivery is best-effort, at most once per live connection.
func (r *Registry) Broadcast(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		r.logger.Error().Err(err).Str("event", string(evt.Type)).Msg("event marshal failed")
		return
	}

	r.mu.Lock()
	targets := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	var failed []Conn
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			r.logger.Warn().Err(err).Str("event", string(evt.Type)).Msg("dropping subscriber after failed send")
			failed = append(failed, c)
		}
	}

	if len(failed) > 0 {
		r.mu.Lock()
		for _, c := range failed {
			delete(r.conns, c)
		}
		r.mu.Unlock()
		if r.dropped != nil {
			for range failed {
				r.dropped()
			}
		}
	}
}
