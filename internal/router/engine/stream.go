package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"chat-router/internal/shared/model"
)

// Stage 流式处理阶段
type Stage string

const (
	StageProcessing Stage = "processing"
	StageAnalyzing  Stage = "analyzing"
)

// StreamEvent 中间状态事件
type StreamEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Stage     Stage  `json:"stage,omitempty"`
}

// Sink 流式输出，与具体传输无关
//
// Complete / CompleteWithError 在每次 ProcessStream 中恰好调用一次。
type Sink interface {
	Send(ctx context.Context, event StreamEvent) error
	Complete(resp *model.MiddlewareResponse)
	CompleteWithError(err error, resp *model.MiddlewareResponse)
}

// onceSink 保证终止回调只触发一次
type onceSink struct {
	Sink
	once sync.Once
}

func (s *onceSink) Complete(resp *model.MiddlewareResponse) {
	s.once.Do(func() { s.Sink.Complete(resp) })
}

func (s *onceSink) CompleteWithError(err error, resp *model.MiddlewareResponse) {
	s.once.Do(func() { s.Sink.CompleteWithError(err, resp) })
}

// ProcessStream 流式处理一条消息
//
// 依次推送 processing、analyzing 事件，最后以最终响应调用 Complete，
// 失败时调用 CompleteWithError。内部流程与 Process 完全相同。
func (e *Engine) ProcessStream(ctx context.Context, req *model.MiddlewareRequest, sink Sink) (resp *model.MiddlewareResponse) {
	out := &onceSink{Sink: sink}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Stream processing panicked", slog.Any("panic", r))
			if resp == nil {
				resp = e.errors.HandleError(ctx, errors.New("stream processing panic"), req)
			}
		}
		if resp == nil || resp.Status == model.ResponseStatusError {
			out.CompleteWithError(streamError(resp), resp)
			return
		}
		out.Complete(resp)
	}()

	progress := func(stage Stage, requestID string) {
		ev := StreamEvent{Type: "status", RequestID: requestID, Stage: stage}
		if err := out.Send(ctx, ev); err != nil {
			// 客户端断开只停止推送，处理继续完成
			e.logger.WithContext(ctx).WithError(err).Debug("Stream send failed", slog.String("stage", string(stage)))
		}
	}
	return e.run(ctx, req, progress)
}

func streamError(resp *model.MiddlewareResponse) error {
	if resp == nil {
		return errors.New("processing failed")
	}
	if resp.ErrorMessage != "" {
		return errors.New(resp.ErrorMessage)
	}
	return errors.New(string(resp.Status))
}
