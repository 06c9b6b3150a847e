package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/killallgit/parley/pkg/logger"
)

// framePrefix marks a deliverable line in the response stream. Anything
// else on the wire (blank keep-alive lines, partial frames split across
// reads) is skipped, never fatal.
const framePrefix = "data: "

// maxFrameSize bounds a single frame; complete events carry the whole
// response text so the default scanner limit is too small.
const maxFrameSize = 1024 * 1024

// Request is the body of one streaming send.
type Request struct {
	SessionID  string `json:"session_id"`
	Message    string `json:"message"`
	EnableHITL bool   `json:"enable_hitl"`
}

// Client reads the server's line-oriented event stream.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 0)
}

// NewClientWithTimeout creates a client with a per-turn deadline. A zero
// timeout leaves the stream open until the server closes it.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send opens one stream for the given request and returns a channel of
// decoded events in wire order. The channel is closed at end-of-stream.
// Transport failures after the request succeeds are delivered in-band via
// Event.Err; cancelling ctx stops the read loop.
func (c *Client) Send(ctx context.Context, req Request) (<-chan Event, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat/message/stream", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errorBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
		}

		var errorResp struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(errorBody, &errorResp) == nil && errorResp.Detail != "" {
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, errorResp.Detail)
		}
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(errorBody))
	}

	events := make(chan Event, 64)
	go c.readStream(ctx, resp.Body, events)

	return events, nil
}

// readStream decodes frames off the response body until end-of-stream.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, framePrefix) {
			logger.Warn("skipping non-frame line: %q", clip(line))
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line[len(framePrefix):]), &event); err != nil {
			logger.Warn("skipping malformed frame: %v", err)
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.Error("stream read failed: %v", err)
		events <- Event{Err: fmt.Errorf("stream reading error: %w", err)}
	}
}

func clip(s string) string {
	const max = 120
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
