// internal/app/app.go
package app

import (
	"fmt"

	"github.com/Corphon/ScriptHook/internal/config"
	"github.com/Corphon/ScriptHook/internal/di"
	"github.com/Corphon/ScriptHook/internal/llm/providers/google"
	"github.com/Corphon/ScriptHook/internal/prompts"
	"github.com/Corphon/ScriptHook/internal/proxy"
	"github.com/Corphon/ScriptHook/internal/scriptparse"
	"github.com/Corphon/ScriptHook/internal/services"
	"github.com/Corphon/ScriptHook/internal/utils"
)

// InitServices 按依赖顺序创建服务并注册到全局容器
func InitServices() error {
	return RegisterServices(di.GetContainer(), config.GetCurrentConfig())
}

// RegisterServices 把所有服务注册到指定容器
func RegisterServices(container *di.Container, cfg *config.AppConfig) error {
	logger := utils.GetLogger()
	metrics := utils.NewAPIMetrics()

	// 1. 提示词预设
	presets := prompts.Builtin()
	if cfg.PromptsFile != "" {
		loaded, err := prompts.Load(cfg.PromptsFile)
		if err != nil {
			return fmt.Errorf("加载提示词预设失败: %w", err)
		}
		presets = loaded
	}

	// 2. 模型服务；缺少密钥时仍然注册，只是不可用
	llmService := services.NewLLMService(cfg, google.ProviderName)
	llmService.SetMetrics(metrics)
	if !llmService.IsReady() {
		logger.Warn("LLM service not ready", map[string]interface{}{
			"provider": google.ProviderName,
			"state":    llmService.GetReadyState(),
		})
	}

	// 3. 对话与解析共用一个提取器
	extractor := scriptparse.NewExtractor(scriptparse.WithLogger(logger))

	chatService := services.NewChatService(llmService, presets, extractor)
	chatService.SetMetrics(metrics)

	parseService := services.NewParseService(extractor)
	parseService.SetMetrics(metrics)

	// 4. 代理
	forwarder := proxy.NewForwarder(cfg, proxy.WithMetrics(metrics))

	container.Register(di.ServiceConfig, cfg)
	container.Register(di.ServiceMetrics, metrics)
	container.Register(di.ServicePrompts, presets)
	container.Register(di.ServiceLLM, llmService)
	container.Register(di.ServiceChat, chatService)
	container.Register(di.ServiceParse, parseService)
	container.Register(di.ServiceProxy, forwarder)

	logger.Info("services initialized", map[string]interface{}{
		"services": container.GetNames(),
		"presets":  presets.Names(),
		"llm":      llmService.GetReadyState(),
	})
	return nil
}
