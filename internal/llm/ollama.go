package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OllamaProvider implements Provider against Ollama's OpenAI-compatible API
// served under <base>/v1/.
type OllamaProvider struct {
	client openai.Client
}

// OllamaConfig configures an Ollama provider.
type OllamaConfig struct {
	BaseURL    string // e.g. "http://localhost:11434"
	APIKey     string // ignored by Ollama, required by the client
	HTTPClient *http.Client
}

func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	key := cfg.APIKey
	if key == "" {
		key = "ollama"
	}
	opts := []option.RequestOption{
		option.WithBaseURL(apiBase(cfg.BaseURL)),
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OllamaProvider{client: openai.NewClient(opts...)}
}

func apiBase(base string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrNoModel}
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Model: req.Model, Err: err}
	}
	// No choice is a malformed reply. A choice with empty content is an
	// empty answer and is returned as such.
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Model: req.Model, Err: ErrEmptyResponse}
	}

	choice := resp.Choices[0]
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &Response{
		Provider:     p.Name(),
		Model:        model,
		Content:      choice.Message.Content,
		TokensIn:     int(resp.Usage.PromptTokens),
		TokensOut:    int(resp.Usage.CompletionTokens),
		FinishReason: string(choice.FinishReason),
		Latency:      latency,
	}, nil
}

func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	return names, nil
}
