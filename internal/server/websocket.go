package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-router/internal/router/engine"
	"chat-router/internal/shared/model"
	"chat-router/pkg/logging"
)

const (
	// writeWait 单帧写超时
	writeWait = 10 * time.Second
	// pongWait 读超时，收到任意消息或 pong 后续期
	pongWait = 60 * time.Second
	// maxFrameSize 客户端单帧上限
	maxFrameSize = 64 * 1024
)

// upgrader WebSocket 升级器配置
//
// CheckOrigin 当前允许所有来源，生产环境由前置网关限制。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// 帧类型
const (
	frameMessage  = "message"
	framePing     = "ping"
	framePong     = "pong"
	frameComplete = "complete"
	frameError    = "error"
)

// clientFrame 客户端消息
//
//	消息：{"type": "message", "data": {MiddlewareRequest}}
//	心跳：{"type": "ping"}
type clientFrame struct {
	Type string                   `json:"type"`
	Data *model.MiddlewareRequest `json:"data,omitempty"`
}

// serverFrame 终止帧
//
//	完成：{"type": "complete", "data": {MiddlewareResponse}}
//	失败：{"type": "error", "error": "...", "data": {MiddlewareResponse}}
//
// 中间状态帧直接使用 engine.StreamEvent：{"type": "status", "request_id", "stage"}。
type serverFrame struct {
	Type  string                    `json:"type"`
	Error string                    `json:"error,omitempty"`
	Data  *model.MiddlewareResponse `json:"data,omitempty"`
}

// StreamGateway WebSocket 流式消息网关
//
// 每个连接顺序处理客户端发来的消息，每条消息推送若干 status 帧，
// 最后恰好一个 complete 或 error 帧。
type StreamGateway struct {
	engine  *engine.Engine
	metrics *Metrics
	logger  *logging.Logger
}

// NewStreamGateway 创建网关
func NewStreamGateway(e *engine.Engine, metrics *Metrics, logger *logging.Logger) *StreamGateway {
	return &StreamGateway{engine: e, metrics: metrics, logger: logger.Named("stream")}
}

// HandleWebSocket 处理 WebSocket 连接
//
// 路由: GET /api/v1/messages/stream
func (g *StreamGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	g.metrics.WSConnectionOpened()
	defer g.metrics.WSConnectionClosed()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sink := &wsSink{conn: conn, metrics: g.metrics}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.WithError(err).Debug("WebSocket read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.metrics.RecordWSMessage("in", "invalid")
			sink.write(frameError, serverFrame{Type: frameError, Error: "invalid frame"})
			continue
		}
		g.metrics.RecordWSMessage("in", frame.Type)

		switch frame.Type {
		case framePing:
			sink.write(framePong, map[string]string{"type": framePong})
		case frameMessage:
			g.engine.ProcessStream(ctx, frame.Data, sink)
		default:
			sink.write(frameError, serverFrame{Type: frameError, Error: "unknown frame type: " + frame.Type})
		}
	}
}

// wsSink engine.Sink 的 WebSocket 实现，写操作串行化
//
// 终止帧写失败时忽略，连接断开由读循环感知。
type wsSink struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	metrics *Metrics
}

func (s *wsSink) write(kind string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		return err
	}
	s.metrics.RecordWSMessage("out", kind)
	return nil
}

func (s *wsSink) Send(ctx context.Context, ev engine.StreamEvent) error {
	return s.write(ev.Type, ev)
}

func (s *wsSink) Complete(resp *model.MiddlewareResponse) {
	s.write(frameComplete, serverFrame{Type: frameComplete, Data: resp})
}

func (s *wsSink) CompleteWithError(err error, resp *model.MiddlewareResponse) {
	frame := serverFrame{Type: frameError, Data: resp}
	if err != nil {
		frame.Error = err.Error()
	}
	s.write(frameError, frame)
}

var _ engine.Sink = (*wsSink)(nil)
