package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/interpreta/pkg/provider"
	"github.com/MrWong99/interpreta/pkg/provider/translate/openai"
)

// chatServer answers /chat/completions with reply and stores the request.
func chatServer(t *testing.T, reply string, got *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if got != nil {
			got.Store(req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req["model"],
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckCredentials(t *testing.T) {
	t.Parallel()

	if err := openai.New("", "").CheckCredentials(); !errors.Is(err, provider.ErrMissingCredential) {
		t.Errorf("empty key: err = %v, want ErrMissingCredential", err)
	}
	if err := openai.New("sk-test", "").CheckCredentials(); err != nil {
		t.Errorf("with key: err = %v, want nil", err)
	}
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	var got atomic.Value
	srv := chatServer(t, "\"Good morning.\"\n", &got)
	p := openai.New("sk-test", "", openai.WithBaseURL(srv.URL))

	out, err := p.Translate(context.Background(), "Guten Morgen.", "German", "English")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out != "Good morning." {
		t.Errorf("Translate = %q, want %q", out, "Good morning.")
	}

	req, _ := got.Load().(map[string]any)
	if req["model"] != openai.DefaultModel {
		t.Errorf("model = %v, want %s", req["model"], openai.DefaultModel)
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	if user["role"] != "user" || user["content"] != "Guten Morgen." {
		t.Errorf("user message = %v", user)
	}
}

func TestTranslate_NoRetryOnError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	t.Cleanup(srv.Close)

	p := openai.New("sk-test", "gpt-4o", openai.WithBaseURL(srv.URL))
	if _, err := p.Translate(context.Background(), "Hallo.", "de", "en"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want exactly 1", n)
	}
}
