package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/koscakluka/lito/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultBaseURL         = "https://api.openai.com/v1"
	defaultRunPollInterval = 250 * time.Millisecond
)

// Client talks to the OpenAI Assistants API. Replies are produced by runs of
// a preconfigured assistant on a conversation thread.
type Client struct {
	apiKey       string
	assistantID  string
	instructions string
	baseURL      string
	httpClient   *http.Client

	runPollInterval time.Duration
}

type ClientOption func(*Client)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

func WithAssistantID(assistantID string) ClientOption {
	return func(c *Client) {
		c.assistantID = assistantID
	}
}

// WithInstructions sets the run instructions used when a prompt does not
// override them.
func WithInstructions(instructions string) ClientOption {
	return func(c *Client) {
		c.instructions = instructions
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

func withRunPollInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.runPollInterval = interval
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		apiKey:       os.Getenv("OPENAI_API_KEY"),
		assistantID:  os.Getenv("OPENAI_ASSISTANT_ID"),
		instructions: llms.DefaultInstructions,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},

		runPollInterval: defaultRunPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		return nil, fmt.Errorf("openai api key not found")
	}
	if c.assistantID == "" {
		return nil, fmt.Errorf("openai assistant id not found")
	}
	return c, nil
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		requestBodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error marshalling JSON: %w", err)
		}
		reader = bytes.NewReader(requestBodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}

	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.sendJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error unmarshalling JSON: %w", err)
	}
	return nil
}
