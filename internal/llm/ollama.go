package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/concerto-lang/concerto/internal/runtime"
)

const ollamaDefaultURL = "http://localhost:11434"

// OllamaProvider backs `provider = "ollama"` connections against a
// local Ollama server; no credentials required.
type OllamaProvider struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(baseURL, defaultModel string) *OllamaProvider {
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	if defaultModel == "" {
		defaultModel = "llama3"
	}
	return &OllamaProvider{
		baseURL:      baseURL,
		defaultModel: defaultModel,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (p *OllamaProvider) toRequest(req runtime.ModelRequest, stream bool) *ollamaRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	msgs := requestMessages(req)
	messages := make([]ollamaMessage, len(msgs))
	for i, m := range msgs {
		messages[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}
	return &ollamaRequest{Model: model, Messages: messages, Stream: stream}
}

func (p *OllamaProvider) post(ctx context.Context, oreq *ollamaRequest) (*http.Response, error) {
	body, err := json.Marshal(oreq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &ProviderError{
			Provider: "ollama",
			Code:     fmt.Sprintf("http_%d", resp.StatusCode),
			Message:  string(respBody),
		}
	}
	return resp, nil
}

// Complete generates a completion.
func (p *OllamaProvider) Complete(ctx context.Context, req runtime.ModelRequest) (runtime.ModelResponse, error) {
	resp, err := p.post(ctx, p.toRequest(req, false))
	if err != nil {
		return runtime.ModelResponse{}, err
	}
	defer resp.Body.Close()

	var decoded ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return runtime.ModelResponse{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return runtime.ModelResponse{Text: decoded.Message.Content}, nil
}

// Stream generates a streaming completion; Ollama streams one JSON
// object per line.
func (p *OllamaProvider) Stream(ctx context.Context, req runtime.ModelRequest, onChunk func(string)) error {
	resp, err := p.post(ctx, p.toRequest(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var chunk ollamaResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			onChunk(chunk.Message.Content)
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}
