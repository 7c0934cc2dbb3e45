package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-router/internal/shared/model"
)

// ============================================================================
// Registry
// ============================================================================

func TestRegistry(t *testing.T) {
	custom := NewMockProvider("ZZZ_CUSTOM", "z")
	r := NewRegistry(
		NewMockProvider(model.ProviderDialogue, "b"),
		custom,
		NewMockProvider(model.ProviderRuleBased, "a"),
	)

	assert.Equal(t, 3, r.Len())
	// 已知类型按默认优先级排在前面
	assert.Equal(t, []model.ProviderType{model.ProviderRuleBased, model.ProviderDialogue, "ZZZ_CUSTOM"}, r.Types())

	p, ok := r.Get(model.ProviderRuleBased)
	require.True(t, ok)
	assert.Equal(t, model.ProviderRuleBased, p.Type())

	_, ok = r.Get(model.ProviderFallback)
	assert.False(t, ok)

	// 覆盖注册
	replacement := NewMockProvider(model.ProviderRuleBased, "a2")
	r.Register(replacement)
	p, _ = r.Get(model.ProviderRuleBased)
	assert.Same(t, replacement, p)
	assert.Equal(t, 3, r.Len())
}

// ============================================================================
// HTTPProvider
// ============================================================================

func TestHTTPProvider_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer k-1", r.Header.Get("Authorization"))

		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bot-1", req.BotID)
		assert.Equal(t, "u1", req.UserID)

		json.NewEncoder(w).Encode(Reply{Text: "echo: " + req.Message, QuickReplies: []string{"ok"}})
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{Type: model.ProviderRuleBased, BaseURL: srv.URL + "/", APIKey: "k-1"}, srv.Client())
	assert.Equal(t, DefaultTimeout, p.Timeout())

	reply, err := p.SendMessage(context.Background(), "bot-1", "u1", "xin chào")
	require.NoError(t, err)
	assert.Equal(t, "echo: xin chào", reply.Text)
	assert.Equal(t, []string{"ok"}, reply.QuickReplies)
}

func TestHTTPProvider_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		client bool
		server bool
	}{
		{"bad request", http.StatusBadRequest, true, false},
		{"not found", http.StatusNotFound, true, false},
		{"internal", http.StatusInternalServerError, false, true},
		{"unavailable", http.StatusServiceUnavailable, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			p := NewHTTPProvider(HTTPConfig{Type: model.ProviderDialogue, BaseURL: srv.URL}, srv.Client())
			_, err := p.SendMessage(context.Background(), "", "u1", "hi")

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.client, httpErr.IsClientError())
			assert.Equal(t, tt.server, httpErr.IsServerError())
			assert.Equal(t, model.ProviderDialogue, httpErr.Provider)
		})
	}
}

func TestHTTPProvider_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{Type: model.ProviderRuleBased, BaseURL: srv.URL}, srv.Client())
	_, err := p.SendMessage(context.Background(), "", "u1", "hi")

	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

func TestHTTPProvider_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewHTTPProvider(HTTPConfig{Type: model.ProviderRuleBased, BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client())
	_, err := p.SendMessage(context.Background(), "", "u1", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPProvider_HealthCheck(t *testing.T) {
	var unhealthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, "bot 1", r.URL.Query().Get("bot_id"))
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{Type: model.ProviderRuleBased, BaseURL: srv.URL}, srv.Client())
	assert.True(t, p.HealthCheck(context.Background(), "bot 1"))

	unhealthy.Store(true)
	assert.False(t, p.HealthCheck(context.Background(), "bot 1"))

	down := NewHTTPProvider(HTTPConfig{Type: model.ProviderRuleBased, BaseURL: "http://127.0.0.1:1"}, nil)
	assert.False(t, down.HealthCheck(context.Background(), ""))
}

// ============================================================================
// MockProvider
// ============================================================================

func TestMockProvider(t *testing.T) {
	m := NewMockProvider(model.ProviderRuleBased, "hello")
	reply, err := m.SendMessage(context.Background(), "", "u", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply.Text)

	boom := errors.New("boom")
	m.SetError(boom)
	_, err = m.SendMessage(context.Background(), "", "u", "hi")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), m.Calls())

	m.SetReply(&Reply{Text: "back"})
	reply, err = m.SendMessage(context.Background(), "", "u", "hi")
	require.NoError(t, err)
	assert.Equal(t, "back", reply.Text)

	m.SetHealthy(false)
	assert.False(t, m.HealthCheck(context.Background(), ""))
	assert.Equal(t, int64(1), m.HealthChecks())
}
