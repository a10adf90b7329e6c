// internal/proxy/forwarder.go
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Corphon/ScriptHook/internal/config"
	apperrors "github.com/Corphon/ScriptHook/internal/errors"
	"github.com/Corphon/ScriptHook/internal/utils"
)

// maxResponseBytes 上游响应体上限
const maxResponseBytes = 32 << 20

var modelPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Response 上游响应，原样返回给调用方
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Forwarder 把客户端的 JSON 请求体转发到 Gemini generateContent，
// 并在服务端附加 API 密钥
type Forwarder struct {
	baseURL      string
	apiKey       string
	defaultModel string
	maxBodyBytes int64
	client       *http.Client
	metrics      *utils.APIMetrics
}

// Option 配置 Forwarder
type Option func(*Forwarder)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

func WithMetrics(m *utils.APIMetrics) Option {
	return func(f *Forwarder) { f.metrics = m }
}

func NewForwarder(cfg *config.AppConfig, opts ...Option) *Forwarder {
	f := &Forwarder{
		baseURL:      strings.TrimRight(cfg.GeminiBaseURL, "/"),
		apiKey:       cfg.GeminiAPIKey,
		defaultModel: cfg.GeminiModel,
		maxBodyBytes: cfg.MaxBodyBytes,
		client:       &http.Client{Timeout: cfg.UpstreamTimeout},
		metrics:      utils.NewAPIMetrics(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// MaxBodyBytes 请求体上限，供 HTTP 层限制读取
func (f *Forwarder) MaxBodyBytes() int64 {
	return f.maxBodyBytes
}

// ValidateModel 模型名只允许字母、数字、点、下划线和连字符
func ValidateModel(model string) error {
	if !modelPattern.MatchString(model) {
		return apperrors.NewValidationError(fmt.Sprintf("无效的模型名称: %q", model), nil)
	}
	return nil
}

// Forward 发送一次 POST。上游的状态码、响应体和 Content-Type 原样返回；
// 只有请求无法完成时才返回错误
func (f *Forwarder) Forward(ctx context.Context, model string, body []byte) (*Response, error) {
	if f.apiKey == "" {
		return nil, apperrors.NewUnavailableError("服务端未配置 Gemini 密钥", nil)
	}
	if model == "" {
		model = f.defaultModel
	}
	if err := ValidateModel(model); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, apperrors.NewValidationError("请求体不能为空", nil)
	}
	if f.maxBodyBytes > 0 && int64(len(body)) > f.maxBodyBytes {
		return nil, apperrors.NewTooLargeError(fmt.Sprintf("请求体超过 %d 字节", f.maxBodyBytes), nil)
	}
	if !json.Valid(body) {
		return nil, apperrors.NewValidationError("请求体必须是 JSON", nil)
	}

	apiURL := fmt.Sprintf("%s/models/%s:generateContent", f.baseURL, url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewProcessingError("创建上游请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", f.apiKey)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.RecordProxyRequest(model, 0, time.Since(start), err)
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, apperrors.NewTimeoutError("上游请求超时", err)
		}
		return nil, apperrors.NewUpstreamError("无法连接上游", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		f.metrics.RecordProxyRequest(model, resp.StatusCode, time.Since(start), err)
		return nil, apperrors.NewUpstreamError("读取上游响应失败", err)
	}
	f.metrics.RecordProxyRequest(model, resp.StatusCode, time.Since(start), nil)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        data,
	}, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
