// Package api is the REST client for the chat backend's session
// collaborators: starting and ending sessions, listing them, and fetching
// history and metrics. The streaming endpoint lives in pkg/stream.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/killallgit/parley/pkg/chat"
)

// Client talks to the chat backend's REST endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// HistoryResponse is the payload of GET /api/chat/{id}/history.
type HistoryResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []chat.Message `json:"messages"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// MetricsResponse is the payload of GET /api/chat/{id}/metrics. The metrics
// map carries token counts and cost estimates; tool calls and subagent
// spawns are echoed as raw server records.
type MetricsResponse struct {
	SessionID       string           `json:"session_id"`
	Metrics         map[string]any   `json:"metrics"`
	ToolCalls       []map[string]any `json:"tool_calls"`
	SubagentSpawns  []map[string]any `json:"subagent_spawns"`
	MessageCount    int              `json:"message_count"`
	IsActive        bool             `json:"is_active"`
	DurationSeconds float64          `json:"duration_seconds"`
}

type startSessionRequest struct {
	AgentID int `json:"agent_id"`
}

type approveRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 60*time.Second)
}

func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StartSession creates a server-side session for the given agent.
func (c *Client) StartSession(ctx context.Context, agentID int) (chat.Session, error) {
	var session chat.Session
	err := c.do(ctx, http.MethodPost, "/api/chat/start", startSessionRequest{AgentID: agentID}, &session)
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	return session, nil
}

// EndSession marks a session inactive and releases its server resources.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/api/chat/%s/end", sessionID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// Sessions lists all known sessions, newest first.
func (c *Client) Sessions(ctx context.Context) ([]chat.Session, error) {
	var sessions []chat.Session
	if err := c.do(ctx, http.MethodGet, "/api/chat/sessions", nil, &sessions); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// History fetches the full message history for a session.
func (c *Client) History(ctx context.Context, sessionID string) (HistoryResponse, error) {
	var resp HistoryResponse
	path := fmt.Sprintf("/api/chat/%s/history", sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return HistoryResponse{}, fmt.Errorf("failed to fetch history: %w", err)
	}
	return resp, nil
}

// Metrics fetches token, cost, and tool-call metrics for a session.
func (c *Client) Metrics(ctx context.Context, sessionID string) (MetricsResponse, error) {
	var resp MetricsResponse
	path := fmt.Sprintf("/api/chat/%s/metrics", sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return MetricsResponse{}, fmt.Errorf("failed to fetch metrics: %w", err)
	}
	return resp, nil
}

// Approve answers a pending human-in-the-loop checkpoint on a session.
func (c *Client) Approve(ctx context.Context, sessionID string, approved bool, feedback string) error {
	path := fmt.Sprintf("/api/chat/%s/approve", sessionID)
	if err := c.do(ctx, http.MethodPost, path, approveRequest{Approved: approved, Feedback: feedback}, nil); err != nil {
		return fmt.Errorf("failed to send approval: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}

		var errorResp struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(errorBody, &errorResp) == nil && errorResp.Detail != "" {
			return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, errorResp.Detail)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(errorBody))
	}

	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
