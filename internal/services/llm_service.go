// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/ScriptHook/internal/config"
	apperrors "github.com/Corphon/ScriptHook/internal/errors"
	"github.com/Corphon/ScriptHook/internal/llm"
	"github.com/Corphon/ScriptHook/internal/utils"
)

const (
	defaultCacheTTL    = 30 * time.Minute
	maxCacheEntries    = 1000
	cacheEvictionBatch = 100
)

// LLMService 包装 llm.Provider，负责就绪状态、缓存和指标
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	defaultModel  string
	readyState    string

	cache   *LLMCache
	metrics *utils.APIMetrics
}

// LLMCache 按请求内容缓存完整回复
type LLMCache struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	expiration time.Duration
}

type CacheEntry struct {
	Response  *llm.CompletionResponse
	CreatedAt time.Time
}

func newLLMCache(ttl time.Duration) *LLMCache {
	return &LLMCache{
		cache:      make(map[string]*CacheEntry),
		expiration: ttl,
	}
}

// NewLLMService 根据配置创建服务。未配置密钥时返回未就绪的服务而不是错误，
// 以便 /api/parse 等不依赖上游的接口仍可使用
func NewLLMService(cfg *config.AppConfig, providerName string) *LLMService {
	s := createBaseLLMService()

	if !cfg.HasAPIKey() {
		s.readyState = "API key not configured"
		return s
	}

	provider, err := llm.GetProvider(providerName, cfg.LLMConfig())
	if err != nil {
		s.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return s
	}

	s.provider = provider
	s.providerName = providerName
	s.defaultModel = cfg.GeminiModel
	s.readyState = "Ready"
	return s
}

// NewLLMServiceWithProvider 直接使用给定的 provider（测试和 CLI 使用）
func NewLLMServiceWithProvider(provider llm.Provider, providerName, defaultModel string) *LLMService {
	s := createBaseLLMService()
	s.provider = provider
	s.providerName = providerName
	s.defaultModel = defaultModel
	s.readyState = "Ready"
	return s
}

func createBaseLLMService() *LLMService {
	return &LLMService{
		readyState: "Uninitialized",
		cache:      newLLMCache(defaultCacheTTL),
		metrics:    utils.NewAPIMetrics(),
	}
}

// SetMetrics 替换指标记录器
func (s *LLMService) SetMetrics(m *utils.APIMetrics) {
	s.metrics = m
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

func (s *LLMService) GetDefaultModel() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.defaultModel
}

// GetSupportedModels 未就绪时返回空列表
func (s *LLMService) GetSupportedModels() []string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if s.provider == nil {
		return []string{}
	}
	return s.provider.GetSupportedModels()
}

func (s *LLMService) current() (llm.Provider, string, error) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if s.provider == nil {
		return nil, "", apperrors.NewUnavailableError("LLM service not ready: "+s.readyState, nil)
	}
	return s.provider, s.providerName, nil
}

func (s *LLMService) resolveModel(req *llm.CompletionRequest) {
	if req.Model == "" {
		req.Model = s.GetDefaultModel()
	}
}

// Complete 非流式生成。useCache 为 true 时相同请求在 TTL 内直接返回缓存
func (s *LLMService) Complete(ctx context.Context, req llm.CompletionRequest, useCache bool) (*llm.CompletionResponse, bool, error) {
	provider, name, err := s.current()
	if err != nil {
		return nil, false, err
	}
	s.resolveModel(&req)

	key := generateCacheKey(name, req)
	if useCache {
		if resp, ok := s.cache.get(key); ok {
			return resp, true, nil
		}
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		s.metrics.RecordLLMRequest(name, req.Model, 0, time.Since(start), err)
		return nil, false, err
	}
	s.metrics.RecordLLMRequest(name, req.Model, resp.TokensUsed, time.Since(start), nil)

	s.cache.save(key, resp)
	return resp, false, nil
}

// Stream 流式生成，直接返回 provider 的通道
func (s *LLMService) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	provider, name, err := s.current()
	if err != nil {
		return nil, err
	}
	s.resolveModel(&req)

	ch, err := provider.StreamCompletion(ctx, req)
	if err != nil {
		s.metrics.RecordLLMRequest(name, req.Model, 0, 0, err)
		return nil, err
	}
	return ch, nil
}

// RecordStream 流结束后记录指标
func (s *LLMService) RecordStream(model string, tokens int, d time.Duration, err error) {
	s.metrics.RecordLLMRequest(s.GetProviderName(), model, tokens, d, err)
}

// generateCacheKey 生成缓存键
func generateCacheKey(providerName string, req llm.CompletionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:::%s:::%s:::%g:::%d:::%g", providerName, req.Model, req.SystemPrompt, req.Temperature, req.MaxTokens, req.TopP)
	for _, m := range req.History {
		fmt.Fprintf(&b, ":::%s=%s", m.Role, m.Content)
	}
	fmt.Fprintf(&b, ":::%s", req.Prompt)
	return fmt.Sprintf("%x", md5.Sum([]byte(b.String())))
}

func (c *LLMCache) get(key string) (*llm.CompletionResponse, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists || time.Since(entry.CreatedAt) > c.expiration {
		return nil, false
	}
	return entry.Response, true
}

func (c *LLMCache) save(key string, response *llm.CompletionResponse) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[key] = &CacheEntry{Response: response, CreatedAt: time.Now()}
	if len(c.cache) > maxCacheEntries {
		c.cleanupOldest(cacheEvictionBatch)
	}
}

// cleanupOldest 清理最旧的缓存条目，调用方持有写锁
func (c *LLMCache) cleanupOldest(count int) {
	type keyAge struct {
		key string
		age time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].age.Before(entries[j].age)
	})

	for i := 0; i < min(count, len(entries)); i++ {
		delete(c.cache, entries[i].key)
	}
}

func (c *LLMCache) size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}
