// Package errhandler 错误分类、熔断和降级回复
//
// 所有 provider 失败都经过这里：
//
//	Classify(err) → ErrorKind
//	       │
//	       ▼  熔断器开启时
//	  BreakerRegistry 记录失败（按 provider 或按错误类别）
//	       │
//	       ▼  fallback 开启时
//	  切换备用 provider → 上下文相关的降级回复
//	       │
//	       ▼  否则
//	  终态错误响应（错误类别 + 标准提示语）
package errhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"syscall"

	"chat-router/internal/router/provider"
	"chat-router/internal/shared/model"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	KindTimeout       ErrorKind = "TIMEOUT"
	KindConnection    ErrorKind = "CONNECTION_ERROR"
	KindSocketTimeout ErrorKind = "SOCKET_TIMEOUT"
	KindHTTPClient    ErrorKind = "HTTP_CLIENT_ERROR"
	KindHTTPServer    ErrorKind = "HTTP_SERVER_ERROR"
	KindJSON          ErrorKind = "JSON_PROCESSING_ERROR"
	KindValidation    ErrorKind = "VALIDATION_ERROR"
	KindDomain        ErrorKind = "PENNY_ERROR"
	KindUnknown       ErrorKind = "UNKNOWN_ERROR"
)

// ErrCircuitOpen 熔断器开启，调用被跳过
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrProviderUnavailable 选中的 provider 未注册
var ErrProviderUnavailable = errors.New("provider not registered")

// Classify 按顺序匹配，第一个命中的类别生效
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrProviderUnavailable) {
		return KindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout() {
		return KindConnection
	}

	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return KindSocketTimeout
	}

	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.IsServerError() {
			return KindHTTPServer
		}
		return KindHTTPClient
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindJSON
	}

	var validationErr *model.ValidationError
	if errors.As(err, &validationErr) {
		return KindValidation
	}

	var domainErr *model.DomainError
	if errors.As(err, &domainErr) {
		return KindDomain
	}

	return KindUnknown
}

// canonicalMessages 面向用户的标准提示语
var canonicalMessages = map[ErrorKind]string{
	KindTimeout:       "Xin lỗi, hệ thống đang phản hồi chậm. Vui lòng thử lại sau ít phút.",
	KindConnection:    "Xin lỗi, hệ thống tạm thời không khả dụng. Vui lòng thử lại sau.",
	KindSocketTimeout: "Xin lỗi, kết nối bị gián đoạn. Vui lòng thử lại.",
	KindHTTPClient:    "Xin lỗi, yêu cầu của bạn chưa được xử lý. Vui lòng thử lại.",
	KindHTTPServer:    "Xin lỗi, hệ thống đang gặp sự cố. Chúng tôi sẽ sớm khắc phục.",
	KindJSON:          "Xin lỗi, đã có lỗi khi xử lý phản hồi. Vui lòng thử lại.",
	KindValidation:    "Tin nhắn không hợp lệ. Vui lòng kiểm tra và gửi lại.",
	KindUnknown:       "Xin lỗi, đã có lỗi xảy ra. Vui lòng thử lại sau.",
}

// CanonicalMessage 类别对应的标准提示语
//
// PENNY_ERROR 没有标准提示语，使用 UserMessage 取错误自身的消息。
func CanonicalMessage(kind ErrorKind) string {
	if msg, ok := canonicalMessages[kind]; ok {
		return msg
	}
	return canonicalMessages[KindUnknown]
}

// UserMessage 展示给用户的消息，PENNY_ERROR 原样透出
func UserMessage(err error) string {
	var domainErr *model.DomainError
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return CanonicalMessage(Classify(err))
}
