// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	TraceIDKey   ContextKey = "trace_id"
	RequestIDKey ContextKey = "request_id"
	TenantIDKey  ContextKey = "tenant_id"
	ContextIDKey ContextKey = "context_id"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `json:"level" yaml:"level"`
	Format    string `json:"format" yaml:"format"` // json or text
	Output    string `json:"output" yaml:"output"` // stdout, stderr, or file path
	Component string `json:"component" yaml:"-"`
}

// ParseLevel 解析日志级别，未知值返回 info
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}
	return NewWithWriter(cfg, output)
}

// NewWithWriter 写入指定 writer 的日志器（测试用）
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger:    slog.New(handler).With(slog.String("component", cfg.Component)),
		component: cfg.Component,
	}
}

// Default 创建默认日志器
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// Discard 丢弃所有输出的日志器
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Component 组件名
func (l *Logger) Component() string {
	return l.component
}

// Named 派生子组件日志器
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("subcomponent", component)),
		component: l.component,
	}
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
	}
}

// ============================================================================
// 上下文传递
// ============================================================================

// ContextWithRequest 将请求标识写入 context，供 WithContext 提取
func ContextWithRequest(ctx context.Context, requestID, tenantID string) context.Context {
	if requestID != "" {
		ctx = context.WithValue(ctx, RequestIDKey, requestID)
	}
	if tenantID != "" {
		ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	}
	return ctx
}

// ContextWithContextID 将会话上下文 ID 写入 context
func ContextWithContextID(ctx context.Context, contextID string) context.Context {
	return context.WithValue(ctx, ContextIDKey, contextID)
}

// RequestIDFrom 读取请求 ID
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// WithContext 从上下文提取追踪信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	for _, key := range []ContextKey{TraceIDKey, RequestIDKey, TenantIDKey, ContextIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

// WithRequest 添加请求标识
func (l *Logger) WithRequest(requestID, tenantID, userID string) *Logger {
	return l.with(
		slog.String("request_id", requestID),
		slog.String("tenant_id", tenantID),
		slog.String("user_id", userID),
	)
}

// WithContextKey 添加会话上下文键
func (l *Logger) WithContextKey(key string) *Logger {
	return l.with(slog.String("context_key", key))
}

// WithProvider 添加 provider 类型
func (l *Logger) WithProvider(provider string) *Logger {
	return l.with(slog.String("provider", provider))
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(slog.Float64("duration_ms", float64(d.Milliseconds())))
}

// ============================================================================
// 常用日志
// ============================================================================

// HTTPRequestLog HTTP 请求日志
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	l.Logger.Info("HTTP request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("client_ip", clientIP),
	)
}

// StoreOpLog 存储层操作日志
func (l *Logger) StoreOpLog(tier, operation, key string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("tier", tier),
		slog.String("operation", operation),
		slog.String("key", key),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Warn("Store operation failed", attrs...)
	} else {
		l.Logger.Debug("Store operation", attrs...)
	}
}

// ProviderCallLog provider 调用日志
func (l *Logger) ProviderCallLog(provider, botID string, latency time.Duration, err error) {
	attrs := []any{
		slog.String("provider", provider),
		slog.String("bot_id", botID),
		slog.Float64("latency_ms", float64(latency.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Warn("Provider call failed", attrs...)
	} else {
		l.Logger.Debug("Provider call", attrs...)
	}
}

// HealthCheckLog provider 健康检查日志
func (l *Logger) HealthCheckLog(provider string, healthy bool, latency time.Duration) {
	attrs := []any{
		slog.String("provider", provider),
		slog.Bool("healthy", healthy),
		slog.Float64("latency_ms", float64(latency.Milliseconds())),
	}
	if healthy {
		l.Logger.Debug("Health check", attrs...)
	} else {
		l.Logger.Warn("Health check failed", attrs...)
	}
}
