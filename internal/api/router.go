// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/Corphon/ScriptHook/internal/config"
	"github.com/Corphon/ScriptHook/internal/di"
	"github.com/Corphon/ScriptHook/internal/proxy"
	"github.com/Corphon/ScriptHook/internal/services"
	"github.com/Corphon/ScriptHook/internal/utils"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由，服务从依赖注入容器获取
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	chatService, err := di.Resolve[*services.ChatService](container, di.ServiceChat)
	if err != nil {
		return nil, fmt.Errorf("对话服务未正确初始化: %w", err)
	}

	parseService, err := di.Resolve[*services.ParseService](container, di.ServiceParse)
	if err != nil {
		return nil, fmt.Errorf("解析服务未正确初始化: %w", err)
	}

	forwarder, err := di.Resolve[*proxy.Forwarder](container, di.ServiceProxy)
	if err != nil {
		return nil, fmt.Errorf("代理服务未正确初始化: %w", err)
	}

	// 未注册时使用全局指标
	metrics, _ := di.Resolve[*utils.APIMetrics](container, di.ServiceMetrics)

	handler := NewHandler(cfg, chatService, parseService, forwarder, metrics)
	return NewRouter(cfg, handler), nil
}

// NewRouter 注册中间件和路由
func NewRouter(cfg *config.AppConfig, handler *Handler) *gin.Engine {
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.Use(requestLogger(handler.Metrics, handler.logger))

	// WebSocket 支持
	r.GET("/ws/chat", handler.ChatWebSocket)

	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/presets", handler.ListPresets)
		api.GET("/metrics", handler.GetMetrics)

		// 需要限流的接口
		limited := api.Group("")
		if cfg.RateLimitPerMinute > 0 {
			limited.Use(RateLimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}
		{
			limited.POST("/parse", handler.Parse)
			limited.POST("/chat", handler.Chat)
			limited.POST("/generate", handler.Generate)
			limited.POST("/generate/:model", handler.Generate)
		}
	}

	return r
}
