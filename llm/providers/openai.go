package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/semthink/llm"
)

// chatCompletions speaks the OpenAI chat completions format shared by
// OpenAI, OpenRouter, Ollama and vLLM.
type chatCompletions struct {
	name       string
	defaultURL string
}

// OpenAIProvider talks to OpenAI or OpenRouter.
type OpenAIProvider struct{ chatCompletions }

// OllamaProvider talks to Ollama or any other OpenAI-compatible local server.
type OllamaProvider struct{ chatCompletions }

// NewOpenAIProvider returns the "openai" provider.
func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{chatCompletions{name: "openai", defaultURL: "https://api.openai.com/v1"}}
}

// NewOllamaProvider returns the "ollama" provider.
func NewOllamaProvider() *OllamaProvider {
	return &OllamaProvider{chatCompletions{name: "ollama", defaultURL: "http://localhost:11434/v1"}}
}

func init() {
	llm.RegisterProvider(NewOpenAIProvider())
	llm.RegisterProvider(NewOllamaProvider())
}

func (p chatCompletions) Name() string { return p.name }

func (p chatCompletions) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = p.defaultURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders sends OPENAI_API_KEY when set. Local servers usually need none.
func (p chatCompletions) SetHeaders(req *http.Request) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if p.name != "openai" {
		return
	}
	if site := os.Getenv("OPENROUTER_SITE_URL"); site != "" {
		req.Header.Set("HTTP-Referer", site)
	}
	if title := os.Getenv("OPENROUTER_SITE_NAME"); title != "" {
		req.Header.Set("X-Title", title)
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

func (p chatCompletions) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}
	return json.Marshal(req)
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage llm.TokenUsage `json:"usage"`
}

func (p chatCompletions) ParseResponse(body []byte) (*llm.Response, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s response has no choices", p.name)
	}
	return &llm.Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		Usage:        resp.Usage,
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}
