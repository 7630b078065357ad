package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// FakeOllama serves the OpenAI-compatible subset of the Ollama API that
// dbmcp calls, and keeps every prompt it receives.
type FakeOllama struct {
	URL string

	srv     *httptest.Server
	mu      sync.Mutex
	prompts []string
	stall   time.Duration
}

// NewFakeOllama starts the fake on a loopback port.
func NewFakeOllama() *FakeOllama {
	f := &FakeOllama{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", f.models)
	mux.HandleFunc("POST /v1/chat/completions", f.chat)
	f.srv = httptest.NewServer(mux)
	f.URL = f.srv.URL
	return f
}

// Close stops the fake.
func (f *FakeOllama) Close() { f.srv.Close() }

// Stall delays every completion by d; zero restores normal replies.
func (f *FakeOllama) Stall(d time.Duration) {
	f.mu.Lock()
	f.stall = d
	f.mu.Unlock()
}

// LastPrompt returns the most recent user prompt.
func (f *FakeOllama) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *FakeOllama) models(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "llama3.2:latest", "object": "model", "created": 1700000000, "owned_by": "library"},
			{"id": "qwen2.5-coder:7b", "object": "model", "created": 1700000000, "owned_by": "library"},
		},
	})
}

func (f *FakeOllama) chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	prompt := ""
	if n := len(req.Messages); n > 0 {
		prompt = req.Messages[n-1].Content
	}

	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	stall := f.stall
	f.mu.Unlock()

	if stall > 0 {
		select {
		case <-time.After(stall):
		case <-r.Context().Done():
			return
		}
	}

	reply := "reply from " + req.Model
	if strings.HasPrefix(prompt, "You are a SQL expert.") {
		reply = "```sql\nSELECT name FROM users ORDER BY age DESC\n```"
	}
	writeJSON(w, map[string]any{
		"id":      "chatcmpl-e2e",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": reply},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": len(prompt) / 4, "completion_tokens": 5, "total_tokens": len(prompt)/4 + 5},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
