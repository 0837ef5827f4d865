package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/concerto-lang/concerto/internal/runtime"
)

// GeminiProvider backs `provider = "google"` connections through the
// official genai SDK.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiProvider creates a new Gemini provider using the genai SDK.
func NewGeminiProvider(apiKey, defaultModel string) (*GeminiProvider, error) {
	if defaultModel == "" {
		defaultModel = "gemini-3-flash-preview"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, defaultModel: defaultModel}, nil
}

func (p *GeminiProvider) model(req runtime.ModelRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *GeminiProvider) contents(req runtime.ModelRequest) []*genai.Content {
	msgs := requestMessages(req)
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.Role(genai.RoleModel)
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

// Complete generates a completion.
func (p *GeminiProvider) Complete(ctx context.Context, req runtime.ModelRequest) (runtime.ModelResponse, error) {
	result, err := p.client.Models.GenerateContent(ctx, p.model(req), p.contents(req), nil)
	if err != nil {
		return runtime.ModelResponse{}, &ProviderError{
			Provider: "google",
			Code:     "generate_failed",
			Message:  "generate content",
			Err:      err,
		}
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return runtime.ModelResponse{}, &ProviderError{
			Provider: "google",
			Code:     "empty_response",
			Message:  "empty response from API",
		}
	}

	var text string
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text += part.Text
		}
	}
	return runtime.ModelResponse{Text: text}, nil
}

// Stream generates a streaming completion, invoking onChunk per text
// fragment.
func (p *GeminiProvider) Stream(ctx context.Context, req runtime.ModelRequest, onChunk func(string)) error {
	for result, err := range p.client.Models.GenerateContentStream(ctx, p.model(req), p.contents(req), nil) {
		if err != nil {
			return &ProviderError{
				Provider: "google",
				Code:     "stream_failed",
				Message:  "stream content",
				Err:      err,
			}
		}
		if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
			continue
		}
		for _, part := range result.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" {
				onChunk(part.Text)
			}
		}
	}
	return nil
}
