package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/Corphon/ScriptHook/internal/config"
	apperrors "github.com/Corphon/ScriptHook/internal/errors"
	"github.com/Corphon/ScriptHook/internal/llm"
	"github.com/Corphon/ScriptHook/internal/prompts"
	"github.com/Corphon/ScriptHook/internal/scriptparse"
	"github.com/Corphon/ScriptHook/internal/utils"
)

// fakeProvider returns canned text and records requests.
type fakeProvider struct {
	mu     sync.Mutex
	text   string
	chunks []string
	err    error
	calls  []llm.CompletionRequest
}

func (f *fakeProvider) Initialize(map[string]string) error { return nil }
func (f *fakeProvider) GetName() string                     { return "fake" }
func (f *fakeProvider) GetSupportedModels() []string        { return []string{"fake-1"} }

func (f *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.text, ModelName: req.Model, TokensUsed: 10, PromptTokens: 4, OutputTokens: 6}, nil
}

func (f *fakeProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.StreamResponse, len(f.chunks)+1)
	for _, c := range f.chunks {
		ch <- llm.StreamResponse{Text: c}
	}
	ch <- llm.StreamResponse{Text: strings.Join(f.chunks, ""), Done: true, ModelName: req.Model, TokensUsed: 3}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func quiet() (*utils.MetricsCollector, *utils.APIMetrics) {
	m := utils.NewMetricsCollector()
	return m, utils.NewAPIMetricsWith(m, utils.NewLogger(io.Discard, utils.ERROR))
}

func newChat(p llm.Provider) (*ChatService, *utils.MetricsCollector) {
	m, am := quiet()
	l := NewLLMServiceWithProvider(p, "fake", "fake-1")
	l.SetMetrics(am)
	s := NewChatService(l, prompts.Builtin(), scriptparse.NewExtractor(scriptparse.WithLogger(nil)))
	s.SetMetrics(am)
	s.logger = utils.NewLogger(io.Discard, utils.ERROR)
	return s, m
}

const scriptReply = "```json\n{\"scenes\":[{\"script_burmese\":\"H\"},{\"script_burmese\":\"B\"},{\"script_burmese\":\"C\"}]}\n```"

func TestChatSendScript(t *testing.T) {
	p := &fakeProvider{text: scriptReply}
	s, m := newChat(p)

	reply, err := s.Send(context.Background(), ChatRequest{
		Message: "  write an ad  ",
		History: []llm.Message{{Role: "user", Content: "hi"}, {Role: "model", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Kind != scriptparse.KindScript || reply.Segments == nil || *reply.Segments != (scriptparse.Segments{Hook: "H", Body: "B", CTA: "C"}) {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Preset != "script" || reply.Model != "fake-1" || reply.Usage.TotalTokens != 10 || reply.Raw != scriptReply {
		t.Errorf("reply meta = %+v", reply)
	}

	req := p.calls[0]
	if req.Prompt != "write an ad" || len(req.History) != 2 || !strings.Contains(req.SystemPrompt, "scenes") || req.Model != "fake-1" {
		t.Errorf("provider request = %+v", req)
	}
	if m.GetCounterValue(utils.MetricExtractScript) != 1 || m.GetCounterValue(utils.MetricLLMRequests) != 1 {
		t.Errorf("metrics = %v", m.GetMetrics()["counters"])
	}
}

func TestChatSendChatAndCache(t *testing.T) {
	p := &fakeProvider{text: "## Ideas\n\n- one\n- two"}
	s, m := newChat(p)

	req := ChatRequest{Message: "ideas?", Preset: "chat"}
	first, err := s.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if first.Kind != scriptparse.KindChat || first.Markdown != p.text || first.Segments != nil {
		t.Errorf("reply = %+v", first)
	}

	second, err := s.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !second.Cached || p.callCount() != 1 {
		t.Errorf("second call should be cached: cached=%v calls=%d", second.Cached, p.callCount())
	}

	req.Regenerate = true
	if _, err := s.Send(context.Background(), req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if p.callCount() != 2 {
		t.Errorf("regenerate should skip the cache, calls=%d", p.callCount())
	}
	if m.GetCounterValue(utils.MetricExtractChat) != 3 {
		t.Errorf("extract.chat = %d", m.GetCounterValue(utils.MetricExtractChat))
	}
}

func TestChatSendValidation(t *testing.T) {
	s, _ := newChat(&fakeProvider{})
	tests := []ChatRequest{
		{Message: "   "},
		{Message: "x", Preset: "unknown"},
		{Message: "x", Model: "bad/model"},
		{Message: strings.Repeat("a", maxMessageRunes+1)},
	}
	for _, req := range tests {
		if _, err := s.Send(context.Background(), req); !apperrors.IsValidationError(err) {
			t.Errorf("Send(%.20q) err = %v, want validation error", req.Message, err)
		}
	}
}

func TestChatSendUpstreamError(t *testing.T) {
	p := &fakeProvider{err: apperrors.NewUpstreamError("down", errors.New("refused"))}
	s, m := newChat(p)
	_, err := s.Send(context.Background(), ChatRequest{Message: "x"})
	if !apperrors.IsUpstreamError(err) {
		t.Errorf("err = %v, want upstream", err)
	}
	if m.GetCounterValue(utils.MetricLLMErrors) != 1 {
		t.Error("llm error not counted")
	}
}

func TestChatNotReady(t *testing.T) {
	_, am := quiet()
	l := NewLLMService(&config.AppConfig{}, "google")
	l.SetMetrics(am)
	if l.IsReady() || l.GetReadyState() != "API key not configured" {
		t.Errorf("ready=%v state=%q", l.IsReady(), l.GetReadyState())
	}
	s := NewChatService(l, prompts.Builtin(), nil)
	_, err := s.Send(context.Background(), ChatRequest{Message: "x"})
	if apperrors.TypeOf(err) != apperrors.ErrorTypeUnavailable {
		t.Errorf("err = %v, want unavailable", err)
	}
}

func TestChatStream(t *testing.T) {
	p := &fakeProvider{chunks: []string{`{"scenes":[{"script_burmese":`, `"Only"}]}`}}
	s, _ := newChat(p)

	var got []string
	reply, err := s.Stream(context.Background(), ChatRequest{Message: "x"}, func(text string) error {
		got = append(got, text)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("chunks = %q", got)
	}
	if reply.Kind != scriptparse.KindScript || reply.Segments.Hook != "Only" || reply.Usage.TotalTokens != 3 {
		t.Errorf("reply = %+v", reply)
	}

	stop := errors.New("client gone")
	_, err = s.Stream(context.Background(), ChatRequest{Message: "x"}, func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("err = %v, want callback error", err)
	}
}

func TestParseService(t *testing.T) {
	m, am := quiet()
	s := NewParseService(scriptparse.NewExtractor(scriptparse.WithLogger(nil)))
	s.SetMetrics(am)

	res, err := s.Parse(scriptReply)
	if err != nil || res.Kind != scriptparse.KindScript || res.Segments.CTA != "C" || res.Reason != "" {
		t.Errorf("Parse(script) = %+v, %v", res, err)
	}

	res, err = s.Parse("just words")
	if err != nil || res.Kind != scriptparse.KindChat || res.Reason != scriptparse.ReasonNoDelimiters || res.Markdown != "just words" {
		t.Errorf("Parse(chat) = %+v, %v", res, err)
	}

	res, err = s.Parse(`{"a":1}`)
	if err != nil || res.Kind != scriptparse.KindChat || res.Reason != "" {
		t.Errorf("Parse(non-script json) = %+v, %v", res, err)
	}

	if _, err := s.Parse("  "); !apperrors.IsValidationError(err) {
		t.Errorf("Parse(empty) err = %v", err)
	}
	if m.GetCounterValue(utils.MetricExtractScript) != 1 || m.GetCounterValue(utils.MetricExtractChat) != 2 {
		t.Errorf("metrics = %v", m.GetMetrics()["counters"])
	}
}

func TestCacheEviction(t *testing.T) {
	c := newLLMCache(defaultCacheTTL)
	for i := 0; i <= maxCacheEntries; i++ {
		c.save(generateCacheKey("p", llm.CompletionRequest{Prompt: strings.Repeat("x", i)}), &llm.CompletionResponse{})
	}
	if got := c.size(); got != maxCacheEntries+1-cacheEvictionBatch {
		t.Errorf("size = %d", got)
	}
}
