package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-router/internal/shared/model"
)

// recordingSink 记录所有事件和终止回调
type recordingSink struct {
	mu        sync.Mutex
	events    []StreamEvent
	completed []*model.MiddlewareResponse
	failed    []error
	sendErr   error
	panicOn   Stage
}

func (s *recordingSink) Send(ctx context.Context, ev StreamEvent) error {
	if s.panicOn != "" && ev.Stage == s.panicOn {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.sendErr
}

func (s *recordingSink) Complete(resp *model.MiddlewareResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, resp)
}

func (s *recordingSink) CompleteWithError(err error, resp *model.MiddlewareResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, err)
}

func (s *recordingSink) terminals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed) + len(s.failed)
}

func TestProcessStream_Success(t *testing.T) {
	h := newHarness(t, harnessOptions{fallback: true})
	sink := &recordingSink{}

	resp := h.engine.ProcessStream(context.Background(), request("xin chào"), sink)

	assert.Equal(t, model.ResponseStatusSuccess, resp.Status)
	require.Len(t, sink.events, 2)
	assert.Equal(t, StageProcessing, sink.events[0].Stage)
	assert.Equal(t, StageAnalyzing, sink.events[1].Stage)
	for _, ev := range sink.events {
		assert.Equal(t, "status", ev.Type)
		assert.Equal(t, "req-1", ev.RequestID)
	}
	require.Len(t, sink.completed, 1)
	assert.Same(t, resp, sink.completed[0])
	assert.Empty(t, sink.failed)
}

func TestProcessStream_GeneratesRequestID(t *testing.T) {
	h := newHarness(t, harnessOptions{fallback: true})
	sink := &recordingSink{}
	req := request("xin chào")
	req.RequestID = ""

	resp := h.engine.ProcessStream(context.Background(), req, sink)

	require.NotEmpty(t, resp.RequestID)
	require.Len(t, sink.events, 2)
	assert.Equal(t, resp.RequestID, sink.events[0].RequestID)
	assert.Empty(t, req.RequestID, "caller request is not mutated")
}

func TestProcessStream_ValidationError(t *testing.T) {
	h := newHarness(t, harnessOptions{fallback: true})
	sink := &recordingSink{}

	resp := h.engine.ProcessStream(context.Background(), request(""), sink)

	assert.Equal(t, model.ResponseStatusError, resp.Status)
	assert.Empty(t, sink.events)
	assert.Empty(t, sink.completed)
	require.Len(t, sink.failed, 1)
	assert.Contains(t, sink.failed[0].Error(), "VALIDATION_ERROR")
}

func TestProcessStream_FallbackCompletes(t *testing.T) {
	h := newHarness(t, harnessOptions{fallback: true, withoutDialogue: true})
	h.ruleBased.SetError(context.DeadlineExceeded)
	sink := &recordingSink{}

	resp := h.engine.ProcessStream(context.Background(), request("xin chào"), sink)

	assert.Equal(t, model.ResponseStatusFallback, resp.Status)
	assert.Len(t, sink.completed, 1)
	assert.Empty(t, sink.failed)
}

func TestProcessStream_SendErrorDoesNotAbort(t *testing.T) {
	h := newHarness(t, harnessOptions{fallback: true})
	sink := &recordingSink{sendErr: errors.New("client gone")}

	resp := h.engine.ProcessStream(context.Background(), request("xin chào"), sink)

	assert.Equal(t, model.ResponseStatusSuccess, resp.Status)
	assert.Equal(t, 1, sink.terminals())
	_, updates := h.contexts.counts()
	assert.Equal(t, 1, updates)
}

func TestProcessStream_SinkPanicStillTerminatesOnce(t *testing.T) {
	for _, stage := range []Stage{StageProcessing, StageAnalyzing} {
		t.Run(string(stage), func(t *testing.T) {
			h := newHarness(t, harnessOptions{fallback: true})
			sink := &recordingSink{panicOn: stage}

			var resp *model.MiddlewareResponse
			require.NotPanics(t, func() {
				resp = h.engine.ProcessStream(context.Background(), request("xin chào"), sink)
			})
			require.NotNil(t, resp)
			assert.Equal(t, 1, sink.terminals())
		})
	}
}

func TestOnceSink(t *testing.T) {
	inner := &recordingSink{}
	s := &onceSink{Sink: inner}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				s.Complete(&model.MiddlewareResponse{})
			} else {
				s.CompleteWithError(errors.New("x"), nil)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, inner.terminals())
}
