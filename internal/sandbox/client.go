// Package sandbox runs model-written Python in an isolated execution service.
// Execution output streams over a websocket; sandboxes are always torn down,
// including on failure.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Artifact is one file produced by an execution.
type Artifact struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// RunRequest is one Python execution with optional context files uploaded
// before the code runs.
type RunRequest struct {
	Code         string
	ContextFiles map[string][]byte
}

// RunResult is the collected outcome of an execution.
type RunResult struct {
	Stdout    string     `json:"stdout"`
	Stderr    string     `json:"stderr"`
	ExitCode  int        `json:"exit_code"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Client talks to the sandbox service.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Dialer  *websocket.Dialer

	logger *zap.Logger
}

// NewClient builds a sandbox client.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	if c.APIKey != "" {
		h.Set("Authorization", "Bearer "+c.APIKey)
	}
	return h
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal sandbox request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create sandbox request: %w", err)
	}
	req.Header = c.authHeader()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox API %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode sandbox response: %w", err)
		}
	}
	return nil
}

// Create provisions a sandbox and returns its id.
func (c *Client) Create(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/sandboxes", nil, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("sandbox API returned empty id")
	}
	return out.ID, nil
}

// Upload places a file into the sandbox working directory.
func (c *Client) Upload(ctx context.Context, sandboxID, name string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/sandboxes/%s/files/%s", c.BaseURL, sandboxID, url.PathEscape(name)),
		bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header = c.authHeader()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload %s: status %d", name, resp.StatusCode)
	}
	return nil
}

// execMessage is one frame on the execution stream.
type execMessage struct {
	Stream string `json:"stream"` // stdout | stderr | exit
	Data   string `json:"data,omitempty"`
	Code   int    `json:"code,omitempty"`
}

// Execute runs code in the sandbox, streaming stdout/stderr until the exit
// frame arrives.
func (c *Client) Execute(ctx context.Context, sandboxID, code string) (*RunResult, error) {
	wsURL, err := c.execSocketURL(sandboxID)
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.Dialer.DialContext(ctx, wsURL, c.authHeader())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial sandbox exec stream: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial sandbox exec stream: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"code": code}); err != nil {
		return nil, fmt.Errorf("send code to sandbox: %w", err)
	}

	var stdout, stderr strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var msg execMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("sandbox exec stream closed before exit: %w", err)
		}
		switch msg.Stream {
		case "stdout":
			stdout.WriteString(msg.Data)
		case "stderr":
			stderr.WriteString(msg.Data)
		case "exit":
			return &RunResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: msg.Code}, nil
		default:
			c.logger.Warn("unknown sandbox stream frame", zap.String("stream", msg.Stream))
		}
	}
}

func (c *Client) execSocketURL(sandboxID string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse sandbox base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/sandboxes/" + sandboxID + "/exec"
	return u.String(), nil
}

// Artifacts downloads all files the execution left behind.
func (c *Client) Artifacts(ctx context.Context, sandboxID string) ([]Artifact, error) {
	var listing struct {
		Files []string `json:"files"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/sandboxes/"+sandboxID+"/artifacts", nil, &listing); err != nil {
		return nil, err
	}
	out := make([]Artifact, 0, len(listing.Files))
	for _, name := range listing.Files {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/sandboxes/%s/artifacts/%s", c.BaseURL, sandboxID, url.PathEscape(name)), nil)
		if err != nil {
			return nil, fmt.Errorf("create artifact request: %w", err)
		}
		req.Header = c.authHeader()
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download artifact %s: %w", name, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("download artifact %s: status %d", name, resp.StatusCode)
		}
		content, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", name, err)
		}
		out = append(out, Artifact{Name: name, Content: content})
	}
	return out, nil
}

// Teardown destroys the sandbox. Safe to call after a failed run.
func (c *Client) Teardown(ctx context.Context, sandboxID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/sandboxes/"+sandboxID, nil, nil)
}

// RunPython provisions a sandbox, uploads context files, executes the code,
// collects artifacts, and tears the sandbox down whatever happened.
func (c *Client) RunPython(ctx context.Context, req RunRequest) (*RunResult, error) {
	sandboxID, err := c.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	defer func() {
		// Teardown runs on its own context: the caller's may already be done.
		teardownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := c.Teardown(teardownCtx, sandboxID); err != nil {
			c.logger.Warn("sandbox teardown failed",
				zap.String("sandbox_id", sandboxID), zap.Error(err))
		}
	}()

	for name, content := range req.ContextFiles {
		if err := c.Upload(ctx, sandboxID, name, content); err != nil {
			return nil, err
		}
	}

	result, err := c.Execute(ctx, sandboxID, req.Code)
	if err != nil {
		return nil, err
	}

	artifacts, err := c.Artifacts(ctx, sandboxID)
	if err != nil {
		c.logger.Warn("artifact collection failed", zap.String("sandbox_id", sandboxID), zap.Error(err))
	} else {
		result.Artifacts = artifacts
	}
	return result, nil
}
