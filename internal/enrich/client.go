// Package enrich wraps the external AI service that generates semantic
// tags and embeddings for notes.
//
// The client speaks the OpenAI-compatible API through langchaingo, so
// it works against OpenAI or any compatible endpoint (TEI, llama.cpp,
// vLLM). It performs no retries; retry policy belongs to callers.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	// ErrEnrichment indicates an upstream AI call failed: timeout, bad
	// response, or service unavailable. Callers recover locally.
	ErrEnrichment = errors.New("enrichment failed")

	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

const tagSystemPrompt = `You are an assistant that extracts semantic tags for a personal note.
Given the note title and content, respond with a single comma-separated list
of 3 to 8 short lowercase tags capturing the note's topics. Respond with the
list only, no explanation and no code fences.`

// Config holds configuration for the enrichment client.
type Config struct {
	// BaseURL is the OpenAI-compatible API endpoint.
	BaseURL string
	// Model is the chat model used for tag generation.
	Model string
	// EmbeddingModel is the model used for embedding generation.
	EmbeddingModel string
	// APIKey authenticates against the endpoint. Optional for local
	// servers that ignore authentication.
	APIKey string
	// Timeout bounds each upstream call. Zero means the caller's
	// context is the only bound.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding model required", ErrInvalidConfig)
	}
	return nil
}

// Client generates tags and embeddings for note text.
type Client struct {
	llm      *openai.LLM
	embedder *embeddings.EmbedderImpl
	config   Config
}

// New creates an enrichment client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for servers that ignore it
		apiKey = "unused"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Client{llm: llm, embedder: embedder, config: cfg}, nil
}

// GenerateTags produces a comma-delimited tag string for the note.
// Either a complete tag string is returned or an ErrEnrichment-wrapped
// failure; never a partial result.
func (c *Client) GenerateTags(ctx context.Context, title, content string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, tagSystemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman,
				fmt.Sprintf("Title: %s\n\nContent:\n%s", title, content)),
		},
		llms.WithTemperature(0.2),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEnrichment, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion response", ErrEnrichment)
	}

	tags := cleanTagResponse(resp.Choices[0].Content)
	if tags == "" {
		return "", fmt.Errorf("%w: malformed tag response", ErrEnrichment)
	}
	return tags, nil
}

// GenerateEmbedding produces a fixed-length embedding vector for the
// note, with the same failure contract as GenerateTags.
func (c *Client) GenerateEmbedding(ctx context.Context, title, content string) ([]float32, error) {
	return c.EmbedText(ctx, title+"\n\n"+content)
}

// EmbedText embeds a raw text string. Used for free-text search
// queries where no title/content split exists.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnrichment, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrEnrichment)
	}
	return vec, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

// cleanTagResponse normalizes a model completion into a comma-delimited
// tag string. Models occasionally wrap output in code fences or emit
// surrounding prose despite the prompt; keep the first line that looks
// like a tag list.
func cleanTagResponse(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")

	for _, line := range strings.Split(clean, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		parts := strings.Split(line, ",")
		tags := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.ToLower(strings.TrimSpace(p)); t != "" {
				tags = append(tags, t)
			}
		}
		if len(tags) > 0 {
			return strings.Join(tags, ", ")
		}
	}
	return ""
}
