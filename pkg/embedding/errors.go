package embedding

import "fmt"

// ConnectionError 表示与 Embedding 服务的网络连接在重试耗尽后仍然失败。
// 连接类故障大概率会影响后续所有请求，调用方应当据此快速失败。
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("embedding 服务连接失败 (已尝试 %d 次): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// APIError 表示服务可达但返回了错误状态码、空数据或不可解析的响应。
// 这类故障是请求局部的：重试耗尽后客户端降级为零向量而不是让整批失败。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding api 错误 [%d]: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("embedding api 错误: %s", e.Message)
}

// DimensionError 表示返回向量的维度与配置的维度 D 不一致。
// 这是致命的配置错误：不重试，也不降级。
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding 维度不匹配: 期望 %d, 实际 %d", e.Want, e.Got)
}
