package model

import (
	"fmt"
	"net/http"
)

// FetchError 远端请求失败：网络/传输错误，或非 2xx 响应。
// 本地状态保持不变，错误交给调用方展示。
type FetchError struct {
	Op      string // 如 "fetch timeline"
	Status  int    // HTTP 状态码，传输失败时为 0
	Message string // 服务端返回的 message 字段（如果有）
	Err     error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: status=%d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: status=%d %s", e.Op, e.Status, http.StatusText(e.Status))
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": failed"
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ChannelError 推送通道连接失败或被断开，只体现在连接状态上。
type ChannelError struct {
	Identity Identity
	Err      error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel for %q: %v", e.Identity, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// ValidationError 调用方传入了非法参数，请求不会发出。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
