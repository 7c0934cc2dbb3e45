package model

import "fmt"

// ValidationError 请求校验错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// DomainError 业务侧错误，Message 直接展示给用户
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}
