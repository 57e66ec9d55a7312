package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/collabd/internal/cerrors"
	"github.com/p-blackswan/collabd/internal/coord"
)

const (
	// writeWait bounds a single socket write; a peer that stops reading
	// trips it once its receive window fills.
	writeWait = 10 * time.Second

	// sendBuffer is how many outbound frames may queue per connection
	// before the subscriber is considered dead.
	sendBuffer = 256
)

var (
	errSlowConsumer = errors.New("subscriber not keeping up")
	errConnClosed   = errors.New("connection closed")
)

// wsConn adapts a websocket connection to coord.Conn. Send enqueues
// without blocking: the actor goroutine must never wait on a peer, so a
// full buffer or a closed connection turns into a send error that the
// registry prunes. A dedicated pump goroutine drains the queue onto the
// socket under a write deadline.
type wsConn struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{
		conn: c,
		out:  make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (w *wsConn) Send(payload []byte) error {
	select {
	case <-w.done:
		return errConnClosed
	default:
	}
	select {
	case w.out <- payload:
		return nil
	case <-w.done:
		return errConnClosed
	default:
		return errSlowConsumer
	}
}

// writePump drains outbound frames onto the socket. A failed or timed-out
// write stops the pump and closes the socket, which also unblocks the
// read loop.
func (w *wsConn) writePump() {
	defer w.conn.Close()
	for {
		select {
		case payload := <-w.out:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				w.close()
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *wsConn) close() {
	w.once.Do(func() { close(w.done) })
}

// errorFrame is the outbound error envelope. The connection stays open
// after every error; only a read failure closes it.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (w *wsConn) sendError(msg string) {
	b, err := json.Marshal(errorFrame{Type: "error", Message: msg})
	if err != nil {
		return
	}
	_ = w.Send(b)
}

// HandleStream serves one persistent streaming connection. The
// connection subscribes to the project's broadcasts on upgrade and may
// send typed command frames that dispatch to the same coordinator
// operations as the HTTP surface.
func (h *Handlers) HandleStream(c *websocket.Conn) {
	projectID := c.Params("id")
	actor := h.hub.Get(projectID)
	logger := h.logger.With().Str("project", projectID).Logger()

	wc := newWSConn(c)
	go wc.writePump()
	actor.Registry().Add(wc)
	if h.metrics != nil {
		h.metrics.Connections.Inc()
	}
	logger.Debug().Msg("stream connected")

	defer func() {
		actor.Registry().Remove(wc)
		wc.close()
		if h.metrics != nil {
			h.metrics.Connections.Dec()
		}
		logger.Debug().Msg("stream closed")
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}

		frame, err := coord.DecodeFrame(raw)
		if err != nil {
			wc.sendError(cerrors.Message(err))
			continue
		}

		h.dispatchFrame(actor, wc, frame, logger)
	}
}

// dispatchFrame invokes the coordinator operation for one decoded frame.
// NotFound and validation errors are reported on the same connection
// without closing it; anything unexpected is logged and reported as a
// generic error frame.
func (h *Handlers) dispatchFrame(actor *coord.Actor, wc *wsConn, frame coord.Frame, logger zerolog.Logger) {
	ctx := context.Background()
	start := time.Now()

	var op string
	var err error
	switch f := frame.(type) {
	case coord.AgentRegisterFrame:
		op = "agent.register"
		_, err = actor.RegisterAgent(ctx, f.Agent, wc)
	case coord.AgentUpdateFrame:
		op = "agent.update"
		_, err = actor.UpdateAgent(ctx, f.AgentID, f.Patch)
	case coord.TaskCreateFrame:
		op = "task.create"
		_, err = actor.CreateTask(ctx, f.Task)
	case coord.TaskUpdateFrame:
		op = "task.update"
		_, err = actor.UpdateTask(ctx, f.TaskID, f.Patch)
	case coord.MessageSendFrame:
		op = "message.send"
		_, err = actor.SendMessage(ctx, f.Message)
	case coord.ContextUpdateFrame:
		op = "context.update"
		_, err = actor.UpdateContext(ctx, f.Context)
	default:
		wc.sendError("unknown frame type")
		return
	}

	h.record(op, start, err)
	if err == nil {
		return
	}

	switch {
	case cerrors.IsNotFound(err), cerrors.IsInvalid(err):
		wc.sendError(cerrors.Message(err))
	default:
		logger.Error().Err(err).Str("op", op).Msg("stream command failed")
		wc.sendError("An internal error occurred")
	}
}
