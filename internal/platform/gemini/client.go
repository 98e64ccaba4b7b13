package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dontdude/testgen/internal/domain"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Config carries the model name and sampling parameters.
type Config struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
	// JSON asks the model for {"num_test_cases", "test_cases"} instead of plain text.
	JSON bool
}

// Client wraps the Gemini SDK.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// Check if Client implements domain.Generator
var _ domain.Generator = (*Client)(nil)

// NewClient configures the generative model. It does not contact the service.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}

	c, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := c.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	model.SetTopP(cfg.TopP)
	model.SetTopK(cfg.TopK)
	model.SetMaxOutputTokens(cfg.MaxOutputTokens)
	model.ResponseMIMEType = "text/plain"
	if cfg.JSON {
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = resultSchema
	}

	slog.Info("Gemini client initialized", "model", cfg.Model, "json", cfg.JSON)
	return &Client{client: c, model: model}, nil
}

var resultSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"num_test_cases": {Type: genai.TypeInteger},
		"test_cases": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"num_test_cases", "test_cases"},
}

// Generate starts a chat seeded with history and sends prompt.
// Every call gets its own chat session, so concurrent requests never share context.
func (c *Client) Generate(ctx context.Context, history []domain.Turn, prompt string) (string, error) {
	cs := c.model.StartChat()
	cs.History = toContents(history)

	resp, err := cs.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", upstreamError(err)
	}

	return replyText(resp)
}

// replyText is responseText for a complete reply, where no text at all is a failure.
func replyText(resp *genai.GenerateContentResponse) (string, error) {
	text, err := responseText(resp)
	if err != nil {
		return "", upstreamError(err)
	}
	if text == "" {
		return "", upstreamError(errors.New("empty response"))
	}
	return text, nil
}

// Stream is Generate with incremental delivery.
func (c *Client) Stream(ctx context.Context, history []domain.Turn, prompt string, onChunk func(string) error) (string, error) {
	cs := c.model.StartChat()
	cs.History = toContents(history)

	it := cs.SendMessageStream(ctx, genai.Text(prompt))

	var b strings.Builder
	for {
		resp, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", upstreamError(err)
		}

		chunk, err := responseText(resp)
		if err != nil {
			return "", upstreamError(err)
		}
		if chunk == "" {
			continue
		}
		b.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return "", fmt.Errorf("stream consumer: %w", err)
		}
	}

	if b.Len() == 0 {
		return "", upstreamError(errors.New("empty response"))
	}
	return b.String(), nil
}

// Close releases the SDK client.
func (c *Client) Close() error {
	return c.client.Close()
}

func toContents(history []domain.Turn) []*genai.Content {
	if len(history) == 0 {
		return nil
	}
	out := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		out = append(out, &genai.Content{
			Role:  string(t.Role),
			Parts: []genai.Part{genai.Text(t.Text)},
		})
	}
	return out
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("nil response")
	}
	if len(resp.Candidates) == 0 {
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
			return "", fmt.Errorf("prompt blocked: %s", fb.BlockReason)
		}
		return "", errors.New("no candidates in response")
	}

	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

func upstreamError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		slog.Error("Gemini request failed", "status", gerr.Code, "error", gerr.Message)
		return fmt.Errorf("%w: gemini returned %d: %s", domain.ErrUpstream, gerr.Code, gerr.Message)
	}
	slog.Error("Gemini request failed", "error", err)
	return fmt.Errorf("%w: %w", domain.ErrUpstream, err)
}
