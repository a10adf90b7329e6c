package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/Corphon/ScriptHook/internal/errors"
	"github.com/Corphon/ScriptHook/internal/llm"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	p := New()
	if err := p.Initialize(map[string]string{
		"api_key":  "test-key",
		"base_url": srv.URL + "/v1beta/",
		"timeout":  "5",
	}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

func TestInitializeRequiresKey(t *testing.T) {
	if err := New().Initialize(map[string]string{}); !errors.Is(err, llm.ErrMissingAPIKey) {
		t.Errorf("Initialize() = %v, want ErrMissingAPIKey", err)
	}
	if err := New().Initialize(map[string]string{"api_key": "k", "timeout": "x"}); err == nil {
		t.Error("expected error for bad timeout")
	}
}

func TestRegistered(t *testing.T) {
	p, err := llm.GetProvider(ProviderName, map[string]string{"api_key": "k"})
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if p.GetName() != "google gemini" {
		t.Errorf("GetName() = %q", p.GetName())
	}
	if _, err := llm.GetProvider("nope", nil); !errors.Is(err, llm.ErrUnknownProvider) {
		t.Errorf("unknown provider err = %v", err)
	}
}

func TestCompleteText(t *testing.T) {
	var got generateRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-pro:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.RawQuery != "" {
			t.Errorf("query should not carry the key: %q", r.URL.RawQuery)
		}
		if r.Header.Get(APIKeyHeader) != "test-key" {
			t.Errorf("%s = %q", APIKeyHeader, r.Header.Get(APIKeyHeader))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"},{"text":"lo"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}`)
	})

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{
		Model:        "gemini-1.5-pro",
		Prompt:       "hi",
		SystemPrompt: "be brief",
		Temperature:  0.5,
		History: []llm.Message{
			{Role: "user", Content: "earlier"},
			{Role: "assistant", Content: "reply"},
			{Role: "user", Content: "  "},
		},
	})
	if err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if resp.Text != "Hello" || resp.FinishReason != "STOP" || resp.TokensUsed != 5 || resp.ModelName != "gemini-1.5-pro" {
		t.Errorf("resp = %+v", resp)
	}

	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("systemInstruction = %+v", got.SystemInstruction)
	}
	roles := make([]string, len(got.Contents))
	for i, c := range got.Contents {
		roles[i] = c.Role
	}
	if strings.Join(roles, ",") != "user,model,user" {
		t.Errorf("roles = %v", roles)
	}
	if got.GenerationConfig == nil || got.GenerationConfig.Temperature != 0.5 {
		t.Errorf("generationConfig = %+v", got.GenerationConfig)
	}
}

func TestCompleteTextAPIError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "x"})
	if !apperrors.IsUpstreamError(err) {
		t.Fatalf("err = %v, want upstream error", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err %v does not wrap *APIError", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Status != "INVALID_ARGUMENT" || apiErr.Message != "API key not valid" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestCompleteTextBlocked(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	})
	_, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Errorf("err = %v, want block reason", err)
	}
}

func TestStreamCompletion(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.0-flash:streamGenerateContent" || r.URL.Query().Get("alt") != "sse" {
			t.Errorf("url = %s", r.URL)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"{\\\"scenes\\\"\"}]}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\":[]}\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"totalTokenCount\":7}}\n\n")
	})

	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var chunks []string
	var last llm.StreamResponse
	for r := range ch {
		if r.Done {
			last = r
			continue
		}
		chunks = append(chunks, r.Text)
	}
	if strings.Join(chunks, "|") != `{"scenes"|:[]}` {
		t.Errorf("chunks = %q", chunks)
	}
	if last.Err != nil || last.Text != `{"scenes":[]}` || last.FinishReason != "STOP" || last.TokensUsed != 7 {
		t.Errorf("final = %+v", last)
	}
}

func TestStreamCompletionUpstreamError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "quota")
	})
	if _, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{Prompt: "x"}); !apperrors.IsUpstreamError(err) {
		t.Errorf("err = %v, want upstream error", err)
	}
}

func TestSupportedModelsIncludesDefault(t *testing.T) {
	p := New()
	if err := p.Initialize(map[string]string{"api_key": "k", "default_model": "gemini-exp"}); err != nil {
		t.Fatal(err)
	}
	if models := p.GetSupportedModels(); models[0] != "gemini-exp" {
		t.Errorf("models = %v", models)
	}
}
