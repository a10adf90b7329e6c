// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Corphon/ScriptHook/internal/api"
	"github.com/Corphon/ScriptHook/internal/app"
	"github.com/Corphon/ScriptHook/internal/config"
	"github.com/Corphon/ScriptHook/internal/di"
	"github.com/Corphon/ScriptHook/internal/utils"
	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("🚀 启动 ScriptHook 服务器...")

	// 1. 加载配置
	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 配置加载完成，端口: %s", cfg.Port)

	// 2. 初始化日志
	if err := utils.InitLogger(cfg.LogDir, cfg.DebugMode); err != nil {
		log.Fatalf("初始化日志系统失败: %v", err)
	}
	defer utils.GetLogger().Close()
	log.Println("✅ 日志系统初始化完成")

	// 3. 初始化所有服务
	if err := app.InitServices(); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	log.Printf("✅ 所有服务初始化完成，服务数量: %d", len(di.GetContainer().GetNames()))

	if !cfg.HasAPIKey() {
		log.Println("⚠️ 未配置 GEMINI_API_KEY，/api/chat 与 /api/generate 将返回 503")
	}

	// 4. 设置路由
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("❌ 设置路由失败: %v", err)
	}
	log.Println("✅ 路由设置完成")

	// 5. 周期性输出指标
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if metrics, err := di.Resolve[*utils.APIMetrics](di.GetContainer(), di.ServiceMetrics); err == nil {
		metrics.StartMetricsCollection(ctx, 5*time.Minute)
	}

	// 6. 启动服务器
	log.Printf("🌐 服务器启动在端口 %s", cfg.Port)
	log.Printf("🔗 健康检查: http://localhost:%s/api/health", cfg.Port)

	setupGracefulShutdown(router, cfg.Port)
}

// 优雅关闭函数
func setupGracefulShutdown(router *gin.Engine, port string) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ 启动服务器失败: %v", err)
		}
	}()

	// 等待中断信号以进行优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("❌ 服务器强制关闭: %v", err)
		return
	}

	log.Println("✅ 服务器优雅关闭完成")
}
