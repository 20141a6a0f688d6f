package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/chatcore/internal/llm"
)

func collect(t *testing.T, chunks <-chan *llm.Chunk) (string, *llm.Chunk) {
	t.Helper()
	var text strings.Builder
	var last *llm.Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return text.String(), last
			}
			text.WriteString(chunk.Text)
			last = chunk
		case <-timeout:
			t.Fatal("timed out reading chunks")
		}
	}
}

func TestOpenAIProvider_StreamsFromCompatibleServer(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Use ", "the ", "agent."} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[],\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":3,\"total_tokens\":10}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL + "/v1", DefaultModel: "local"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	chunks, err := provider.Complete(context.Background(), &llm.Request{
		System:    "be brief",
		Messages:  []llm.Message{{Role: "user", Content: "how?"}},
		MaxTokens: 32,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	text, last := collect(t, chunks)
	if text != "Use the agent." {
		t.Errorf("text = %q", text)
	}
	if last == nil || !last.Done || last.Error != nil {
		t.Fatalf("last chunk = %+v, want done", last)
	}
	if last.InputTokens != 7 || last.OutputTokens != 3 {
		t.Errorf("usage = %d/%d, want 7/3", last.InputTokens, last.OutputTokens)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestOpenAIProvider_NonRetryableError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL + "/v1", RetryDelay: time.Millisecond})
	_, err := provider.Complete(context.Background(), &llm.Request{Messages: []llm.Message{{Role: "user", Content: "x"}}})

	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Complete() error = %v, want ProviderError", err)
	}
	if providerErr.Reason != ReasonAuth {
		t.Errorf("reason = %s, want auth", providerErr.Reason)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOpenAIProvider_RetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL + "/v1", MaxRetries: 3, RetryDelay: time.Millisecond})
	chunks, err := provider.Complete(context.Background(), &llm.Request{Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text, _ := collect(t, chunks); text != "ok" {
		t.Errorf("text = %q", text)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestNewOpenAIProvider_RequiresKeyOrBaseURL(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error without key or base url")
	}
}

func TestAnthropicProvider_Streams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		events := []struct{ name, data string }{
			{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"stop_reason":null,"usage":{"input_tokens":11,"output_tokens":1}}}`},
			{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Label: "}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"1"}}`},
			{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`},
			{"message_stop", `{"type":"message_stop"}`},
		}
		for _, ev := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}
	chunks, err := provider.Complete(context.Background(), &llm.Request{
		Messages:  []llm.Message{{Role: "user", Content: "judge"}},
		MaxTokens: 16,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	text, last := collect(t, chunks)
	if text != "Label: 1" {
		t.Errorf("text = %q", text)
	}
	if last == nil || !last.Done || last.InputTokens != 11 || last.OutputTokens != 4 {
		t.Errorf("last chunk = %+v", last)
	}
}

func TestAnthropicProvider_BadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`)
	}))
	defer server.Close()

	provider, _ := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL + "/", RetryDelay: time.Millisecond})
	_, err := provider.Complete(context.Background(), &llm.Request{Messages: []llm.Message{{Role: "user", Content: "x"}}})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Complete() error = %v, want ProviderError", err)
	}
	if providerErr.Reason != ReasonInvalidRequest || providerErr.Message != "max_tokens too large" {
		t.Errorf("error = %+v", providerErr)
	}
}

func TestNewRequiresKeys(t *testing.T) {
	ctx := context.Background()
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Error("anthropic without key should fail")
	}
	if _, err := NewGoogleProvider(ctx, GoogleConfig{}); err == nil {
		t.Error("google without key should fail")
	}
}

func TestFactory(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		cfg      Config
		wantNil  bool
		wantName string
		wantErr  bool
	}{
		{cfg: Config{}, wantNil: true},
		{cfg: Config{Kind: "none"}, wantNil: true},
		{cfg: Config{Kind: "OpenAI", BaseURL: "http://localhost:8080/v1"}, wantName: "openai"},
		{cfg: Config{Kind: "anthropic", APIKey: "k"}, wantName: "anthropic"},
		{cfg: Config{Kind: "anthropic"}, wantErr: true},
		{cfg: Config{Kind: "llamacpp"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Kind, func(t *testing.T) {
			provider, err := New(ctx, tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if tt.wantNil {
				if provider != nil {
					t.Fatalf("New() = %v, want nil", provider)
				}
				return
			}
			if provider.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", provider.Name(), tt.wantName)
			}
		})
	}
}
