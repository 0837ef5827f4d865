package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/concerto-lang/concerto/internal/runtime"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// AnthropicProvider backs `provider = "anthropic"` connections over the
// Messages HTTP API.
type AnthropicProvider struct {
	apiKey       string
	defaultModel string
	httpClient   *http.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, defaultModel string) *AnthropicProvider {
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) toRequest(req runtime.ModelRequest) *anthropicRequest {
	var system string
	var messages []anthropicMessage
	for _, m := range requestMessages(req) {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	return &anthropicRequest{
		Model:     model,
		Messages:  messages,
		System:    system,
		MaxTokens: anthropicMaxTokens,
	}
}

func (p *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

// Complete generates a completion.
func (p *AnthropicProvider) Complete(ctx context.Context, req runtime.ModelRequest) (runtime.ModelResponse, error) {
	body, err := json.Marshal(p.toRequest(req))
	if err != nil {
		return runtime.ModelResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(body))
	if err != nil {
		return runtime.ModelResponse{}, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return runtime.ModelResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return runtime.ModelResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return runtime.ModelResponse{}, p.parseError(resp.StatusCode, respBody)
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return runtime.ModelResponse{}, fmt.Errorf("unmarshal response: %w", err)
	}

	var parts []string
	for _, block := range decoded.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return runtime.ModelResponse{Text: strings.Join(parts, "")}, nil
}

// Stream generates a streaming completion, invoking onChunk per text
// delta.
func (p *AnthropicProvider) Stream(ctx context.Context, req runtime.ModelRequest, onChunk func(string)) error {
	areq := p.toRequest(req)
	areq.Stream = true

	body, err := json.Marshal(areq)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return p.parseError(resp.StatusCode, respBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" {
			onChunk(event.Delta.Text)
		}
		if event.Type == "message_stop" {
			break
		}
	}
	return scanner.Err()
}

func (p *AnthropicProvider) parseError(statusCode int, body []byte) error {
	var errResp anthropicErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return &ProviderError{
			Provider: "anthropic",
			Code:     fmt.Sprintf("http_%d", statusCode),
			Message:  string(body),
		}
	}

	code := errResp.Error.Type
	switch statusCode {
	case 429:
		code = "rate_limit"
	case 401:
		code = "authentication_error"
	}
	return &ProviderError{
		Provider: "anthropic",
		Code:     code,
		Message:  errResp.Error.Message,
	}
}
