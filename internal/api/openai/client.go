package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL (OpenAI flavor) or resource endpoint
// (Azure flavor).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client is an HTTP client for an OpenAI-compatible API.
//
// In the standard flavor requests go to baseURL/<operation> with a bearer
// token. In the Azure flavor requests go to
// <endpoint>/openai/deployments/<deployment>/<operation>?api-version=<v>
// with an api-key header, and the deployment name is taken from the request
// path or, failing that, the model field of the body.
type Client struct {
	apiKey     string
	baseURL    string
	azure      bool
	apiVersion string
	httpClient *http.Client
}

// NewClient creates a client for the standard OpenAI API.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewAzureClient creates a client for an Azure OpenAI resource.
func NewAzureClient(apiKey, endpoint, apiVersion string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(endpoint, "/"),
		azure:      true,
		apiVersion: apiVersion,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Azure reports whether the client targets an Azure OpenAI resource.
func (c *Client) Azure() bool { return c.azure }

// Response is a buffered upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forward sends body verbatim to the given upstream operation and buffers
// the response. extra headers (e.g. the cassette correlation header) are set
// on the upstream request as-is. A non-2xx upstream status is returned as a
// *StatusError carrying the exact status, headers, and body.
func (c *Client) Forward(ctx context.Context, op Operation, deployment string, body []byte, extra http.Header) (*Response, error) {
	resp, err := c.do(ctx, op, deployment, body, extra)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// StreamEvent wraps one SSE data payload or a terminal error from streaming.
type StreamEvent struct {
	Data json.RawMessage
	Err  error
}

// ForwardStream sends body verbatim to the given upstream operation and
// returns a channel of the raw SSE data payloads the upstream emits, in
// arrival order. The channel is closed when the upstream signals [DONE] or
// the stream ends. A non-2xx upstream status is returned as a *StatusError
// before any event is delivered.
func (c *Client) ForwardStream(ctx context.Context, op Operation, deployment string, body []byte, extra http.Header) (<-chan StreamEvent, error) {
	resp, err := c.do(ctx, op, deployment, body, extra)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}
	}

	out := make(chan StreamEvent)
	go c.streamReader(resp.Body, out)
	return out, nil
}

func (c *Client) streamReader(body io.ReadCloser, out chan<- StreamEvent) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	// Increase buffer size for potentially large chunks
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		// Skip empty lines and non-data fields
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		out <- StreamEvent{Data: json.RawMessage(data)}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamEvent{Err: fmt.Errorf("stream read error: %w", err)}
	}
}

// CreateChatCompletion sends a typed chat completion request. Used by the
// example agent; the proxy goes through Forward instead.
func (c *Client) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.Forward(ctx, OpChatCompletions, req.Model, body, nil)
	if err != nil {
		return nil, err
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

func (c *Client) do(ctx context.Context, op Operation, deployment string, body []byte, extra http.Header) (*http.Response, error) {
	endpoint, err := c.endpoint(op, deployment)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq, extra)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) endpoint(op Operation, deployment string) (string, error) {
	if !c.azure {
		return c.baseURL + "/" + string(op), nil
	}
	if deployment == "" {
		return "", fmt.Errorf("azure request for %s requires a deployment name", op)
	}
	return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
		c.baseURL, url.PathEscape(deployment), op, url.QueryEscape(c.apiVersion)), nil
}

func (c *Client) setHeaders(req *http.Request, extra http.Header) {
	req.Header.Set("Content-Type", "application/json")
	if c.azure {
		req.Header.Set("api-key", c.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", "spanflow/1.0")

	for k, vals := range extra {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}
}
