// Package inject delivers messages to a running node over its HTTP RPC
// endpoint.
package inject

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"grimm.is/uqdev/internal/logging"
	"grimm.is/uqdev/internal/protocol"
)

// MessagePath is the node's message injection endpoint.
const MessagePath = "/rpc:sys:uqbar/message"

// RequestIDHeader carries a per-request id for correlating node logs.
const RequestIDHeader = "X-Uqdev-Request-Id"

// Message is the body posted to MessagePath.
type Message struct {
	Node            *string `json:"node"`
	Process         string  `json:"process"`
	Inherit         bool    `json:"inherit"`
	ExpectsResponse *uint64 `json:"expects_response"`
	IPC             string  `json:"ipc"`
	Metadata        *string `json:"metadata"`
	Context         *string `json:"context"`
	Mime            *string `json:"mime"`
	// Data is the base64 encoded payload.
	Data *string `json:"data"`
}

// Reply is the node's answer to an injected request.
type Reply struct {
	IPC     string            `json:"ipc"`
	Payload *protocol.Payload `json:"payload"`
	Source  *protocol.Address `json:"source,omitempty"`
}

// StatusError is returned for non-2xx answers.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inject error (status %d): %s", e.StatusCode, e.Body)
}

// NewMessage builds a message for process. If bytesPath is set, the file is
// attached as the payload.
func NewMessage(process, ipc string, node *string, expectsResponse *uint64, bytesPath string) (Message, error) {
	if _, err := protocol.ParseProcessID(process); err != nil {
		return Message{}, err
	}
	msg := Message{
		Node:            node,
		Process:         process,
		ExpectsResponse: expectsResponse,
		IPC:             ipc,
	}
	if bytesPath != "" {
		data, err := os.ReadFile(bytesPath)
		if err != nil {
			return Message{}, fmt.Errorf("read payload: %w", err)
		}
		enc := base64.StdEncoding.EncodeToString(data)
		msg.Data = &enc
	}
	return msg, nil
}

// Client posts messages to one node.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client for the node at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.WithComponent("inject"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts msg and decodes the node's reply. Messages that expect no
// response return a nil Reply.
func (c *Client) Send(ctx context.Context, msg Message) (*Reply, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+MessagePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	id := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, id)

	c.logger.Debug("injecting message", "url", c.baseURL, "process", msg.Process, "request_id", id)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if len(bytes.TrimSpace(respBody)) == 0 || bytes.Equal(bytes.TrimSpace(respBody), []byte("null")) {
		return nil, nil
	}
	var reply Reply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &reply, nil
}
