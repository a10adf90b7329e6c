// internal/services/chat_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/Corphon/ScriptHook/internal/errors"
	"github.com/Corphon/ScriptHook/internal/llm"
	"github.com/Corphon/ScriptHook/internal/prompts"
	"github.com/Corphon/ScriptHook/internal/proxy"
	"github.com/Corphon/ScriptHook/internal/scriptparse"
	"github.com/Corphon/ScriptHook/internal/utils"
)

const (
	maxMessageRunes = 32000
	maxHistoryTurns = 40
)

// ChatRequest 一次对话请求
type ChatRequest struct {
	Message    string        `json:"message"`
	History    []llm.Message `json:"history,omitempty"`
	Preset     string        `json:"preset,omitempty"`
	Model      string        `json:"model,omitempty"`
	Regenerate bool          `json:"regenerate,omitempty"` // 跳过缓存
}

// Usage token 用量
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChatReply 分类后的回复：script 时 Segments 有值，chat 时 Markdown 有值
type ChatReply struct {
	Kind     scriptparse.Kind      `json:"kind"`
	Markdown string                `json:"markdown,omitempty"`
	Segments *scriptparse.Segments `json:"segments,omitempty"`
	Script   any                   `json:"script,omitempty"`
	Raw      string                `json:"raw"`
	Model    string                `json:"model"`
	Preset   string                `json:"preset"`
	Usage    Usage                 `json:"usage"`
	Cached   bool                  `json:"cached,omitempty"`
}

// ChatService 组装提示词、调用模型并对回复分类
type ChatService struct {
	llm       *LLMService
	presets   *prompts.Store
	extractor *scriptparse.Extractor
	metrics   *utils.APIMetrics
	logger    *utils.Logger
}

func NewChatService(llmService *LLMService, presets *prompts.Store, extractor *scriptparse.Extractor) *ChatService {
	if extractor == nil {
		extractor = scriptparse.NewExtractor()
	}
	return &ChatService{
		llm:       llmService,
		presets:   presets,
		extractor: extractor,
		metrics:   utils.NewAPIMetrics(),
		logger:    utils.GetLogger(),
	}
}

// SetMetrics 替换指标记录器
func (s *ChatService) SetMetrics(m *utils.APIMetrics) {
	s.metrics = m
}

func (s *ChatService) IsReady() bool {
	return s.llm.IsReady()
}

// Presets 返回预设存储
func (s *ChatService) Presets() *prompts.Store {
	return s.presets
}

// buildRequest 校验请求并根据预设生成 CompletionRequest
func (s *ChatService) buildRequest(req ChatRequest) (llm.CompletionRequest, prompts.Preset, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return llm.CompletionRequest{}, prompts.Preset{}, apperrors.NewValidationError("消息不能为空", nil)
	}
	if utf8.RuneCountInString(message) > maxMessageRunes {
		return llm.CompletionRequest{}, prompts.Preset{}, apperrors.NewValidationError(
			fmt.Sprintf("消息过长（最多 %d 个字符）", maxMessageRunes), nil)
	}
	if req.Model != "" {
		if err := proxy.ValidateModel(req.Model); err != nil {
			return llm.CompletionRequest{}, prompts.Preset{}, err
		}
	}

	preset, ok := s.presets.Get(req.Preset)
	if !ok {
		return llm.CompletionRequest{}, prompts.Preset{}, apperrors.NewValidationError(
			fmt.Sprintf("未知的预设: %q", req.Preset), nil)
	}

	history := req.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	return llm.CompletionRequest{
		Prompt:       message,
		History:      history,
		SystemPrompt: preset.System,
		Temperature:  preset.Temperature,
		MaxTokens:    preset.MaxTokens,
		Model:        req.Model,
	}, preset, nil
}

func (s *ChatService) classify(text string) *scriptparse.Classification {
	c := s.extractor.Classify(text)
	s.metrics.RecordClassification(string(c.Kind))
	return c
}

func newReply(c *scriptparse.Classification, raw, model, preset string) *ChatReply {
	return &ChatReply{
		Kind:     c.Kind,
		Markdown: c.Markdown,
		Segments: c.Segments,
		Script:   c.Script,
		Raw:      raw,
		Model:    model,
		Preset:   preset,
	}
}

// Send 发送消息并返回分类后的回复
func (s *ChatService) Send(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	completion, preset, err := s.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, cached, err := s.llm.Complete(ctx, completion, !req.Regenerate)
	if err != nil {
		return nil, apperrors.WrapError(err, "生成回复失败", apperrors.ErrorTypeUpstream)
	}

	reply := newReply(s.classify(resp.Text), resp.Text, resp.ModelName, preset.Name)
	reply.Usage = Usage{
		PromptTokens: resp.PromptTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.TokensUsed,
	}
	reply.Cached = cached

	s.logger.Info("chat reply classified", map[string]interface{}{
		"kind":   reply.Kind,
		"preset": reply.Preset,
		"model":  reply.Model,
		"cached": cached,
	})
	return reply, nil
}

// Stream 逐块回调 onChunk，结束后对完整文本分类。onChunk 返回错误时停止
func (s *ChatService) Stream(ctx context.Context, req ChatRequest, onChunk func(text string) error) (*ChatReply, error) {
	completion, preset, err := s.buildRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	ch, err := s.llm.Stream(ctx, completion)
	if err != nil {
		return nil, apperrors.WrapError(err, "生成回复失败", apperrors.ErrorTypeUpstream)
	}

	model := completion.Model
	if model == "" {
		model = s.llm.GetDefaultModel()
	}

	for chunk := range ch {
		if chunk.Err != nil {
			s.llm.RecordStream(model, 0, time.Since(start), chunk.Err)
			return nil, apperrors.WrapError(chunk.Err, "生成回复失败", apperrors.ErrorTypeUpstream)
		}
		if !chunk.Done {
			if err := onChunk(chunk.Text); err != nil {
				return nil, err
			}
			continue
		}

		s.llm.RecordStream(model, chunk.TokensUsed, time.Since(start), nil)
		if chunk.ModelName != "" {
			model = chunk.ModelName
		}
		reply := newReply(s.classify(chunk.Text), chunk.Text, model, preset.Name)
		reply.Usage.TotalTokens = chunk.TokensUsed
		return reply, nil
	}

	// 通道在 Done 之前关闭：上下文被取消
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewTimeoutError("流式生成被取消", err)
	}
	return nil, apperrors.NewUpstreamError("流式响应提前结束", nil)
}
