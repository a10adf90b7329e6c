// internal/llm/providers/google/google.go
package google

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Corphon/ScriptHook/internal/errors"
	"github.com/Corphon/ScriptHook/internal/llm"
)

const (
	ProviderName   = "google"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.0-flash"

	// APIKeyHeader 密钥通过请求头发送，不出现在 URL 中
	APIKeyHeader = "x-goog-api-key"
)

func init() {
	llm.Register(ProviderName, func() llm.Provider {
		return New()
	})
}

// Provider Gemini generateContent 接口
type Provider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	models       []string
}

func New() *Provider {
	return &Provider{
		baseURL:      DefaultBaseURL,
		defaultModel: DefaultModel,
		client:       &http.Client{Timeout: 60 * time.Second},
		models: []string{
			"gemini-2.0-flash",
			"gemini-2.0-flash-lite",
			"gemini-2.5-flash",
			"gemini-2.5-pro",
			"gemini-1.5-flash",
			"gemini-1.5-pro",
		},
	}
}

// Initialize 支持的键：api_key（必填）、base_url、default_model、timeout（秒）
func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return llm.ErrMissingAPIKey
	}
	p.apiKey = apiKey

	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}
	if timeout := config["timeout"]; timeout != "" {
		secs, err := strconv.Atoi(timeout)
		if err != nil || secs <= 0 {
			return fmt.Errorf("无效的 timeout: %q", timeout)
		}
		p.client = &http.Client{Timeout: time.Duration(secs) * time.Second}
	}
	return nil
}

// SetHTTPClient 替换 HTTP 客户端（测试使用）
func (p *Provider) SetHTTPClient(c *http.Client) {
	p.client = c
}

func (p *Provider) GetName() string {
	return "google gemini"
}

func (p *Provider) GetSupportedModels() []string {
	for _, m := range p.models {
		if m == p.defaultModel {
			return append([]string(nil), p.models...)
		}
	}
	return append([]string{p.defaultModel}, p.models...)
}

// 请求/响应结构，字段名与 Gemini REST 接口一致
type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float32  `json:"temperature,omitempty"`
	TopP            float32  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, pt := range r.Candidates[0].Content.Parts {
		b.WriteString(pt.Text)
	}
	return b.String()
}

func (r *generateResponse) finishReason() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}

// APIError 上游返回的非 200 响应
type APIError struct {
	StatusCode int
	Status     string // 如 INVALID_ARGUMENT
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("google gemini API错误(%d %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("google gemini API错误(%d): %s", e.StatusCode, e.Message)
}

func buildRequest(req llm.CompletionRequest) generateRequest {
	contents := make([]content, 0, len(req.History)+1)
	for _, m := range req.History {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := llm.RoleUser
		if m.Role == llm.RoleModel || m.Role == "assistant" {
			role = llm.RoleModel
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	contents = append(contents, content{Role: llm.RoleUser, Parts: []part{{Text: req.Prompt}}})

	body := generateRequest{Contents: contents}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	gc := generationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   req.StopWords,
	}
	if gc.Temperature != 0 || gc.TopP != 0 || gc.MaxOutputTokens != 0 || len(gc.StopSequences) > 0 {
		body.GenerationConfig = &gc
	}
	return body
}

func (p *Provider) endpoint(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s", p.baseURL, url.PathEscape(model), method)
}

func (p *Provider) post(ctx context.Context, apiURL string, body generateRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.NewProcessingError("序列化 Gemini 请求失败", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperrors.NewProcessingError("创建 Gemini 请求失败", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(APIKeyHeader, p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, apperrors.NewTimeoutError("Gemini 请求超时", err)
		}
		return nil, apperrors.NewUpstreamError("无法连接 Gemini", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, apperrors.NewUpstreamError("Gemini 返回错误", readAPIError(httpResp))
	}
	return httpResp, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func readAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}

	var wrapped struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error.Message != "" {
		apiErr.Message = wrapped.Error.Message
		apiErr.Status = wrapped.Error.Status
	}
	return apiErr
}

func (p *Provider) model(req llm.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := p.model(req)

	httpResp, err := p.post(ctx, p.endpoint(model, "generateContent"), buildRequest(req))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var response generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, apperrors.NewUpstreamError("无法解析 Gemini 响应", err)
	}

	if len(response.Candidates) == 0 {
		reason := "google gemini未返回任何结果"
		if response.PromptFeedback != nil && response.PromptFeedback.BlockReason != "" {
			reason += ": " + response.PromptFeedback.BlockReason
		}
		return nil, apperrors.NewUpstreamError(reason, nil)
	}

	return &llm.CompletionResponse{
		Text:         response.text(),
		FinishReason: response.finishReason(),
		TokensUsed:   response.UsageMetadata.TotalTokenCount,
		PromptTokens: response.UsageMetadata.PromptTokenCount,
		OutputTokens: response.UsageMetadata.CandidatesTokenCount,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

// StreamCompletion 使用 SSE（alt=sse）读取增量结果
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	model := p.model(req)

	httpResp, err := p.post(ctx, p.endpoint(model, "streamGenerateContent")+"?alt=sse", buildRequest(req))
	if err != nil {
		return nil, err
	}

	respChan := make(chan llm.StreamResponse)

	go func() {
		defer httpResp.Body.Close()
		defer close(respChan)

		send := func(r llm.StreamResponse) bool {
			select {
			case respChan <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)

		var full strings.Builder
		var finish string
		var tokens int

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				// 空行、注释与 event: 行
				continue
			}

			var chunk generateResponse
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &chunk); err != nil {
				continue
			}
			if r := chunk.finishReason(); r != "" {
				finish = r
			}
			if chunk.UsageMetadata.TotalTokenCount > 0 {
				tokens = chunk.UsageMetadata.TotalTokenCount
			}

			if text := chunk.text(); text != "" {
				full.WriteString(text)
				if !send(llm.StreamResponse{Text: text, ModelName: model}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			send(llm.StreamResponse{
				Text:      full.String(),
				ModelName: model,
				Done:      true,
				Err:       apperrors.NewUpstreamError("读取 Gemini 流失败", err),
			})
			return
		}

		send(llm.StreamResponse{
			Text:         full.String(),
			FinishReason: finish,
			ModelName:    model,
			TokensUsed:   tokens,
			Done:         true,
		})
	}()

	return respChan, nil
}
