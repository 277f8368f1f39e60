package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeline-cloud/backend/internal/hub"
	"pipeline-cloud/backend/pkg/models"
)

func startTestServer(t *testing.T) (*hub.Hub, *websocket.Conn) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(logger)

	e := echo.New()
	e.GET("/ws", NewServer(h, logger).Handle)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return h, conn
}

func waitForMembers(t *testing.T, h *hub.Hub, runID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.GroupSize(runID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("group %s never reached %d members", runID, want)
}

func readPush(t *testing.T, conn *websocket.Conn) pushMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg pushMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestJoinReceivesProgress(t *testing.T) {
	h, conn := startTestServer(t)

	err := conn.WriteJSON(controlMessage{Event: "join_project_updates", ProjectID: "run-1"})
	require.NoError(t, err)
	waitForMembers(t, h, "run-1", 1)

	h.Publish("run-1", hub.EventNewProgress, models.Progress{
		SubmittedProcesses: 2,
		CompletedProcesses: 1,
	})

	msg := readPush(t, conn)
	assert.Equal(t, hub.EventNewProgress, msg.Event)

	data, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"submitted_processes":2,"completed_processes":1}`, string(data))
}

func TestLeaveStopsPushes(t *testing.T) {
	h, conn := startTestServer(t)

	require.NoError(t, conn.WriteJSON(controlMessage{Event: "join_project_updates", ProjectID: "run-1"}))
	waitForMembers(t, h, "run-1", 1)

	require.NoError(t, conn.WriteJSON(controlMessage{Event: "leave_project_updates", ProjectID: "run-1"}))
	waitForMembers(t, h, "run-1", 0)

	h.Publish("run-1", hub.EventFinishedWorkflow, struct{}{})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no push may arrive after leaving")
}

func TestConnectionLossLeavesGroups(t *testing.T) {
	h, conn := startTestServer(t)

	require.NoError(t, conn.WriteJSON(controlMessage{Event: "join_project_updates", ProjectID: "run-1"}))
	waitForMembers(t, h, "run-1", 1)

	conn.Close()
	waitForMembers(t, h, "run-1", 0)
}

func TestMalformedControlMessagesIgnored(t *testing.T) {
	h, conn := startTestServer(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(controlMessage{Event: "dance", ProjectID: "run-1"}))
	require.NoError(t, conn.WriteJSON(controlMessage{Event: "join_project_updates"}))

	// The connection stays usable after garbage input.
	require.NoError(t, conn.WriteJSON(controlMessage{Event: "join_project_updates", ProjectID: "run-2"}))
	waitForMembers(t, h, "run-2", 1)
	assert.Zero(t, h.GroupSize("run-1"))
}
