// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 请求体相关错误
	ErrorInvalidJSON     = "INVALID_JSON"
	ErrorPayloadTooLarge = "PAYLOAD_TOO_LARGE"

	// 上游相关错误
	ErrorUpstreamFailed  = "UPSTREAM_ERROR"
	ErrorUpstreamTimeout = "UPSTREAM_TIMEOUT"

	// 配置相关
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
)
