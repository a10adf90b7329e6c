// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-2.0-flash"
	DefaultMaxBodyBytes  = 1 << 20
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port           string   `json:"port"`
	LogDir         string   `json:"log_dir"`
	DebugMode      bool     `json:"debug_mode"`
	AllowedOrigins []string `json:"allowed_origins"`

	// Gemini 上游
	GeminiAPIKey    string        `json:"-"`
	GeminiBaseURL   string        `json:"gemini_base_url"`
	GeminiModel     string        `json:"gemini_model"`
	UpstreamTimeout time.Duration `json:"upstream_timeout"`

	// 代理与限流
	MaxBodyBytes       int64 `json:"max_body_bytes"`
	RateLimitPerMinute int   `json:"rate_limit_per_minute"` // 0 表示关闭

	// 可选：覆盖内置提示词预设的 YAML 文件
	PromptsFile string `json:"prompts_file,omitempty"`
}

// HasAPIKey 是否配置了上游密钥
func (c *AppConfig) HasAPIKey() bool {
	return c != nil && c.GeminiAPIKey != ""
}

// LLMConfig 返回传给 llm.Provider.Initialize 的参数
func (c *AppConfig) LLMConfig() map[string]string {
	m := map[string]string{
		"api_key":       c.GeminiAPIKey,
		"base_url":      c.GeminiBaseURL,
		"default_model": c.GeminiModel,
	}
	if secs := int(c.UpstreamTimeout / time.Second); secs > 0 {
		m["timeout"] = strconv.Itoa(secs)
	}
	return m
}

// Load 从 .env 与环境变量加载配置
func Load() (*AppConfig, error) {
	// .env 文件是可选的
	_ = godotenv.Load()

	cfg := &AppConfig{
		Port:               getEnv("PORT", "8080"),
		LogDir:             getEnv("LOG_DIR", "logs"),
		DebugMode:          getEnvBool("DEBUG_MODE", true),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:      strings.TrimRight(getEnv("GEMINI_BASE_URL", DefaultGeminiBaseURL), "/"),
		GeminiModel:        getEnv("GEMINI_MODEL", DefaultGeminiModel),
		UpstreamTimeout:    time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 60)) * time.Second,
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", DefaultMaxBodyBytes)),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		PromptsFile:        getEnv("PROMPTS_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.GeminiAPIKey == "" {
		// 只记录警告：解析接口不需要密钥
		log.Println("警告: 未设置 GEMINI_API_KEY，/api/chat 与 /api/generate 将返回 503")
	}

	return cfg, nil
}

// Validate 检查数值配置
func (c *AppConfig) Validate() error {
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT_SECONDS 必须大于 0")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES 必须大于 0")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE 不能为负数")
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数环境变量，无法解析时使用默认值
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("警告: %s=%q 不是整数，使用默认值 %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvList 逗号分隔的列表
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// InitConfig 加载配置并设为当前配置
func InitConfig() (*AppConfig, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	SetCurrentConfig(cfg)
	return GetCurrentConfig(), nil
}

// SetCurrentConfig 替换当前配置（测试中也会使用）
func SetCurrentConfig(cfg *AppConfig) {
	configMutex.Lock()
	defer configMutex.Unlock()
	c := *cfg
	c.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	currentConfig = &c
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 未初始化时返回默认配置
		return &AppConfig{
			Port:            "8080",
			LogDir:          "logs",
			DebugMode:       true,
			AllowedOrigins:  []string{"*"},
			GeminiBaseURL:   DefaultGeminiBaseURL,
			GeminiModel:     DefaultGeminiModel,
			UpstreamTimeout: 60 * time.Second,
			MaxBodyBytes:    DefaultMaxBodyBytes,
		}
	}

	// 返回配置的副本
	configCopy := *currentConfig
	configCopy.AllowedOrigins = append([]string(nil), currentConfig.AllowedOrigins...)
	return &configCopy
}
