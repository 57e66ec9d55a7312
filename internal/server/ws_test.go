package server_test

import (
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/collabd/internal/server"
)

// startServer binds the app to an ephemeral port and returns its base
// ws:// URL.
func startServer(t *testing.T, s *server.Server) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = s.App().Listener(ln)
	}()
	t.Cleanup(func() { _ = s.Shutdown() })

	return fmt.Sprintf("ws://%s", ln.Addr().String())
}

func dialStream(t *testing.T, base, projectID string) *websocket.Conn {
	t.Helper()
	var conn *websocket.Conn
	var err error
	// The listener goroutine may not be serving yet on the first dial.
	for i := 0; i < 20; i++ {
		conn, _, err = websocket.DefaultDialer.Dial(base+"/ws/projects/"+projectID, nil)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame interface{}) {
	t.Helper()
	b, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func TestStream_RegisterAgentSequence(t *testing.T) {
	base := startServer(t, setupServer(t))
	conn := dialStream(t, base, "p-1")

	writeFrame(t, conn, map[string]interface{}{
		"type":  "agent.register",
		"agent": map[string]string{"name": "Ada", "role": "backend"},
	})

	joined := readFrame(t, conn)
	assert.Equal(t, "agent.joined", joined["type"])
	data := joined["data"].(map[string]interface{})
	assert.Equal(t, "Ada", data["name"])
	assert.Equal(t, "active", data["status"])

	note := readFrame(t, conn)
	assert.Equal(t, "message.new", note["type"])
	noteData := note["data"].(map[string]interface{})
	assert.Contains(t, noteData["content"], "Ada joined the project")

	welcome := readFrame(t, conn)
	assert.Equal(t, "welcome", welcome["type"])
	assert.Equal(t, data["id"], welcome["agentId"])
	state := welcome["state"].(map[string]interface{})
	assert.Len(t, state["agents"], 1)
}

func TestStream_BroadcastReachesAllSubscribers(t *testing.T) {
	base := startServer(t, setupServer(t))
	sender := dialStream(t, base, "p-1")
	watcher := dialStream(t, base, "p-1")

	writeFrame(t, sender, map[string]interface{}{
		"type":    "message.send",
		"message": map[string]string{"content": "hello room"},
	})

	for _, conn := range []*websocket.Conn{sender, watcher} {
		evt := readFrame(t, conn)
		assert.Equal(t, "message.new", evt["type"])
		data := evt["data"].(map[string]interface{})
		assert.Equal(t, "hello room", data["content"])
	}
}

func TestStream_ProjectsAreIsolated(t *testing.T) {
	base := startServer(t, setupServer(t))
	p1 := dialStream(t, base, "p-1")
	p2 := dialStream(t, base, "p-2")

	writeFrame(t, p1, map[string]interface{}{
		"type": "task.create",
		"task": map[string]string{"title": "only p-1"},
	})

	evt := readFrame(t, p1)
	assert.Equal(t, "task.created", evt["type"])

	require.NoError(t, p2.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := p2.ReadMessage()
	assert.Error(t, err, "subscriber of another project must not receive the event")
}

func TestStream_ErrorsDoNotCloseConnection(t *testing.T) {
	base := startServer(t, setupServer(t))
	conn := dialStream(t, base, "p-1")

	// Missing required field.
	writeFrame(t, conn, map[string]interface{}{"type": "task.update"})
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "taskId is required")

	// Unknown frame type.
	writeFrame(t, conn, map[string]interface{}{"type": "task.destroy"})
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "unknown frame type")

	// Unknown target entity.
	writeFrame(t, conn, map[string]interface{}{
		"type":    "agent.update",
		"agentId": "missing",
		"updates": map[string]string{"status": "idle"},
	})
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "Agent not found")

	// Connection still serves valid frames after every error.
	writeFrame(t, conn, map[string]interface{}{
		"type": "task.create",
		"task": map[string]string{"title": "still alive"},
	})
	evt := readFrame(t, conn)
	assert.Equal(t, "task.created", evt["type"])
}
