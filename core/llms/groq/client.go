package groq

import (
	"fmt"
	"net/http"
	"os"

	"github.com/koscakluka/lito/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultModel   = "llama-3.3-70b-versatile"
	defaultBaseURL = "https://api.groq.com/openai/v1"

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

// Client streams chat completions from Groq. The API is stateless, so
// conversation threads are kept in memory for the lifetime of the client.
type Client struct {
	apiKey       string
	model        string
	instructions string
	baseURL      string
	httpClient   *http.Client

	llms.ThreadStore
}

type ClientOption func(*Client)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

func WithInstructions(instructions string) ClientOption {
	return func(c *Client) {
		c.instructions = instructions
	}
}

// WithBaseURL points the client at an OpenAI compatible chat completions
// endpoint other than Groq's.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		apiKey:       os.Getenv("GROQ_API_KEY"),
		model:        DefaultModel,
		instructions: llms.DefaultInstructions,
		baseURL:      defaultBaseURL,
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		return nil, fmt.Errorf("groq api key not found")
	}
	if client.model == "" {
		client.model = DefaultModel
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}
	}

	return client, nil
}
