package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chat-router/internal/shared/model"
)

// DefaultTimeout provider 调用默认超时
const DefaultTimeout = 25 * time.Second

// HTTPError provider 返回了非 2xx 状态码
type HTTPError struct {
	Provider   model.ProviderType
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider %s returned HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsClientError 4xx
func (e *HTTPError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError 5xx
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}

// HTTPConfig HTTPProvider 配置
type HTTPConfig struct {
	Type    model.ProviderType
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider 通过 JSON over HTTP 调用后端引擎
//
//	POST {base}/api/v1/messages  {"bot_id","user_id","message"} → Reply
//	GET  {base}/health?bot_id=   2xx 为健康
type HTTPProvider struct {
	config     HTTPConfig
	httpClient *http.Client
}

// NewHTTPProvider 创建 HTTPProvider，httpClient 为 nil 时使用默认客户端
func NewHTTPProvider(cfg HTTPConfig, httpClient *http.Client) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPProvider{config: cfg, httpClient: httpClient}
}

func (p *HTTPProvider) Type() model.ProviderType {
	return p.config.Type
}

// Timeout 单次调用超时
func (p *HTTPProvider) Timeout() time.Duration {
	return p.config.Timeout
}

type sendRequest struct {
	BotID   string `json:"bot_id"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

func (p *HTTPProvider) SendMessage(ctx context.Context, botID, userID, text string) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	body, err := json.Marshal(sendRequest{BotID: botID, UserID: userID, Message: text})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", p.config.Type, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.BaseURL+"/api/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", p.config.Type, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", p.config.Type, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", p.config.Type, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &HTTPError{Provider: p.config.Type, StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
	}

	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.config.Type, err)
	}
	return &reply, nil
}

func (p *HTTPProvider) HealthCheck(ctx context.Context, botID string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	u := p.config.BaseURL + "/health"
	if botID != "" {
		u += "?bot_id=" + url.QueryEscape(botID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 300
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Provider = (*HTTPProvider)(nil)
