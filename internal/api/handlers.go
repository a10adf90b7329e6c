// internal/api/handlers.go
package api

import (
	"io"
	"net/http"

	"github.com/Corphon/ScriptHook/internal/config"
	apperrors "github.com/Corphon/ScriptHook/internal/errors"
	"github.com/Corphon/ScriptHook/internal/proxy"
	"github.com/Corphon/ScriptHook/internal/services"
	"github.com/Corphon/ScriptHook/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	ChatService  *services.ChatService  // 对话服务
	ParseService *services.ParseService // 本地分类，不访问上游
	Forwarder    *proxy.Forwarder       // generateContent 代理
	Metrics      *utils.APIMetrics
	Response     *ResponseHelper // 响应助手

	config *config.AppConfig
	logger *utils.Logger
}

// NewHandler 创建API处理器
func NewHandler(cfg *config.AppConfig, chat *services.ChatService, parse *services.ParseService, forwarder *proxy.Forwarder, metrics *utils.APIMetrics) *Handler {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	return &Handler{
		ChatService:  chat,
		ParseService: parse,
		Forwarder:    forwarder,
		Metrics:      metrics,
		Response:     NewResponseHelper(),
		config:       cfg,
		logger:       utils.GetLogger(),
	}
}

// ParseRequest /api/parse 请求体
type ParseRequest struct {
	Text string `json:"text"`
}

// HealthStatus /api/health 响应
type HealthStatus struct {
	Status           string `json:"status"`
	APIKeyConfigured bool   `json:"api_key_configured"`
	LLMReady         bool   `json:"llm_ready"`
	DefaultModel     string `json:"default_model"`
}

// Health 存活检查，同时报告是否配置了 API 密钥
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, &HealthStatus{
		Status:           "ok",
		APIKeyConfigured: h.config.HasAPIKey(),
		LLMReady:         h.ChatService.IsReady(),
		DefaultModel:     h.config.GeminiModel,
	})
}

// Parse 对一段模型输出分类
func (h *Handler) Parse(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidJSON, "请求参数错误", err.Error())
		return
	}

	result, err := h.ParseService.Parse(req.Text)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	h.Response.Success(c, result)
}

// Chat 发送一条消息并返回分类后的回复
func (h *Handler) Chat(c *gin.Context) {
	var req services.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidJSON, "请求参数错误", err.Error())
		return
	}

	reply, err := h.ChatService.Send(c.Request.Context(), req)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	h.Response.Success(c, reply)
}

// Generate 把请求体原样转发到上游 generateContent，响应原样返回
func (h *Handler) Generate(c *gin.Context) {
	limit := h.Forwarder.MaxBodyBytes()
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		h.Response.AppError(c, apperrors.NewValidationError("读取请求体失败", err))
		return
	}

	resp, err := h.Forwarder.Forward(c.Request.Context(), c.Param("model"), body)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

// ListPresets 返回可用的提示词预设
func (h *Handler) ListPresets(c *gin.Context) {
	store := h.ChatService.Presets()
	h.Response.Success(c, gin.H{
		"default": store.Default(),
		"presets": store.List(),
	})
}

// GetMetrics 返回指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}
