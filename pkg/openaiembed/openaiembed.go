// Package openaiembed embeds text through the OpenAI embeddings API or any
// server that speaks it.
package openaiembed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Client wraps go-openai's embeddings endpoint.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Options configures a Client. BaseURL is optional; Dimensions of 0 lets the
// model decide.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// New builds a Client. Model defaults to text-embedding-3-small.
func New(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := openai.EmbeddingModel(opts.Model)
	if model == "" {
		model = openai.SmallEmbedding3
	}
	return &Client{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: opts.Dimensions,
	}
}

// Model returns the embedding model name.
func (c *Client) Model() string { return string(c.model) }

// Embed embeds a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, reordering the response by index.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      c.model,
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai embed: bad index %d in response", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
