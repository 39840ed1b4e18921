package gemini

import (
	"context"
	"fmt"
	"iter"
	"os"

	"github.com/koscakluka/lito/core/llms"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

type generateStreamFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

// Client streams replies from Gemini. The API is stateless, so conversation
// threads are kept in memory for the lifetime of the client.
type Client struct {
	generate     generateStreamFunc
	model        string
	instructions string

	llms.ThreadStore
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	apiKey       string
	model        string
	instructions string
}

func WithAPIKey(apiKey string) ClientOption {
	return func(o *clientOptions) {
		o.apiKey = apiKey
	}
}

func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		o.model = model
	}
}

func WithInstructions(instructions string) ClientOption {
	return func(o *clientOptions) {
		o.instructions = instructions
	}
}

func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	options := clientOptions{
		apiKey:       os.Getenv("GEMINI_API_KEY"),
		model:        DefaultModel,
		instructions: llms.DefaultInstructions,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if options.apiKey == "" {
		return nil, fmt.Errorf("gemini api key not found")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  options.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return newClient(client.Models.GenerateContentStream, options), nil
}

func newClient(generate generateStreamFunc, options clientOptions) *Client {
	if options.model == "" {
		options.model = DefaultModel
	}
	return &Client{
		generate:     generate,
		model:        options.model,
		instructions: options.instructions,
	}
}
