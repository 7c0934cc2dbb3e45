package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-router/internal/shared/model"
)

// wireFrame 客户端视角的服务端帧
type wireFrame struct {
	Type      string                    `json:"type"`
	RequestID string                    `json:"request_id"`
	Stage     string                    `json:"stage"`
	Error     string                    `json:"error"`
	Data      *model.MiddlewareResponse `json:"data"`
}

func dialStream(t *testing.T, s *testServer) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/messages/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f wireFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestStream_Message(t *testing.T) {
	s := newTestServer(t)
	conn := dialStream(t, s)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "message",
		"data": message("xin chào"),
	}))

	f := readFrame(t, conn)
	assert.Equal(t, "status", f.Type)
	assert.Equal(t, "processing", f.Stage)
	assert.Equal(t, "req-1", f.RequestID)

	f = readFrame(t, conn)
	assert.Equal(t, "status", f.Type)
	assert.Equal(t, "analyzing", f.Stage)

	f = readFrame(t, conn)
	assert.Equal(t, "complete", f.Type)
	require.NotNil(t, f.Data)
	assert.Equal(t, model.ResponseStatusSuccess, f.Data.Status)
	assert.Equal(t, model.ProviderRuleBased, f.Data.ProviderUsed)

	// 同一连接继续处理下一条
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "message",
		"data": message("đơn hàng của tôi"),
	}))
	for i := 0; i < 2; i++ {
		assert.Equal(t, "status", readFrame(t, conn).Type)
	}
	assert.Equal(t, "complete", readFrame(t, conn).Type)

	c := s.manager.Load(t.Context(), message("x"))
	assert.Equal(t, 2, c.MessageCount)
}

func TestStream_InvalidRequest(t *testing.T) {
	s := newTestServer(t)
	conn := dialStream(t, s)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "message",
		"data": message(""),
	}))

	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, f.Error, "VALIDATION_ERROR")
	require.NotNil(t, f.Data)
	assert.Equal(t, model.ResponseStatusError, f.Data.Status)
}

func TestStream_PingAndBadFrames(t *testing.T) {
	s := newTestServer(t)
	conn := dialStream(t, s)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "invalid frame", f.Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	f = readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, f.Error, "subscribe")

	assert.Equal(t, 1.0, testutil.ToFloat64(s.handler.metrics.WSConnectionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.handler.metrics.WSMessagesTotal.WithLabelValues("in", "ping")))
}
