package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Corphon/ScriptHook/internal/config"
	apperrors "github.com/Corphon/ScriptHook/internal/errors"
	"github.com/Corphon/ScriptHook/internal/utils"
)

func testConfig(baseURL string) *config.AppConfig {
	return &config.AppConfig{
		GeminiAPIKey:    "secret",
		GeminiBaseURL:   baseURL,
		GeminiModel:     "gemini-2.0-flash",
		UpstreamTimeout: 5 * time.Second,
		MaxBodyBytes:    64,
	}
}

func quietMetrics() (*utils.MetricsCollector, Option) {
	m := utils.NewMetricsCollector()
	return m, WithMetrics(utils.NewAPIMetricsWith(m, utils.NewLogger(io.Discard, utils.ERROR)))
}

func TestForwardPassesThrough(t *testing.T) {
	var gotPath, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, `{"error":{"message":"nope"}}`)
	}))
	defer srv.Close()

	m, opt := quietMetrics()
	f := NewForwarder(testConfig(srv.URL+"/v1beta"), opt)

	body := []byte(`{"contents":[{"parts":[{"text":"hi"}]}]}`)
	resp, err := f.Forward(context.Background(), "", body)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if gotPath != "/v1beta/models/gemini-2.0-flash:generateContent" {
		t.Errorf("path = %s", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("api key header = %q", gotKey)
	}
	if !bytes.Equal(gotBody, body) {
		t.Errorf("forwarded body = %s", gotBody)
	}
	if resp.StatusCode != http.StatusTeapot || resp.ContentType != "application/json; charset=UTF-8" ||
		string(resp.Body) != `{"error":{"message":"nope"}}` {
		t.Errorf("resp = %d %q %s", resp.StatusCode, resp.ContentType, resp.Body)
	}
	if m.GetCounterValue(utils.MetricProxyRequests) != 1 || m.GetCounterValue(utils.MetricProxyUpstreamErrors) != 0 {
		t.Errorf("metrics = %v", m.GetMetrics()["counters"])
	}
}

func TestForwardRejects(t *testing.T) {
	_, opt := quietMetrics()
	f := NewForwarder(testConfig("http://127.0.0.1:1"), opt)

	tests := []struct {
		name    string
		model   string
		body    string
		errType apperrors.ErrorType
	}{
		{"bad model", "../admin", `{}`, apperrors.ErrorTypeValidation},
		{"model with slash", "a/b", `{}`, apperrors.ErrorTypeValidation},
		{"empty body", "m", "  ", apperrors.ErrorTypeValidation},
		{"not json", "m", "hello", apperrors.ErrorTypeValidation},
		{"too large", "m", `{"x":"` + string(bytes.Repeat([]byte("a"), 100)) + `"}`, apperrors.ErrorTypeTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Forward(context.Background(), tt.model, []byte(tt.body))
			if got := apperrors.TypeOf(err); got != tt.errType {
				t.Errorf("error type = %q (%v), want %q", got, err, tt.errType)
			}
		})
	}
}

func TestForwardWithoutKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.GeminiAPIKey = ""
	_, opt := quietMetrics()
	_, err := NewForwarder(cfg, opt).Forward(context.Background(), "m", []byte(`{}`))
	if apperrors.TypeOf(err) != apperrors.ErrorTypeUnavailable {
		t.Errorf("err = %v, want unavailable", err)
	}
}

func TestForwardUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m, opt := quietMetrics()
	_, err := NewForwarder(testConfig(url), opt).Forward(context.Background(), "m", []byte(`{}`))
	if !apperrors.IsUpstreamError(err) {
		t.Errorf("err = %v, want upstream error", err)
	}
	if m.GetCounterValue(utils.MetricProxyUpstreamErrors) != 1 {
		t.Error("upstream error not counted")
	}
}

func TestForwardTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, opt := quietMetrics()
	f := NewForwarder(testConfig(srv.URL), opt, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := f.Forward(context.Background(), "m", []byte(`{}`))
	if !apperrors.IsTimeoutError(err) {
		t.Errorf("err = %v, want timeout error", err)
	}
}
