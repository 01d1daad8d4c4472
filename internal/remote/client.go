package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/services"
)

const (
	defaultUserAgent   = "docflow/0.1.0"
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 4096
)

// Config describes the remote worker client configuration.
type Config struct {
	BaseURL    string
	Token      string
	UserAgent  string
	HTTPClient *http.Client
}

// Client wraps the remote stage worker's HTTP API.
type Client struct {
	token     string
	userAgent string
	baseURL   *url.URL
	http      *http.Client
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("remote: base url is required")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		token:     strings.TrimSpace(cfg.Token),
		userAgent: userAgent,
		baseURL:   baseURL,
		http:      client,
	}, nil
}

// NewFromConfig builds a client from the [remote] config section.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	timeout := config.Seconds(cfg.Remote.RequestTimeout)
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return New(Config{
		BaseURL:    cfg.Remote.BaseURL,
		Token:      cfg.Remote.Token,
		HTTPClient: &http.Client{Timeout: timeout},
	})
}

// Submit starts a stage on the worker.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	if !req.Stage.Valid() {
		return SubmitResponse{}, services.Wrap(services.ErrValidation, "remote", "submit", fmt.Sprintf("invalid stage %q", req.Stage), nil)
	}
	if req.InputRefs == nil {
		req.InputRefs = []InputRef{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return SubmitResponse{}, fmt.Errorf("remote: encode submit request: %w", err)
	}
	var resp SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "submit", c.endpoint("api", "v1", "stages", req.Stage.Slug()), body, &resp); err != nil {
		return SubmitResponse{}, err
	}
	if resp.TaskID == "" && !resp.Synchronous() {
		return SubmitResponse{}, services.Wrap(services.ErrExternal, "remote", "submit", "response has neither task_id nor completed result", nil)
	}
	return resp, nil
}

// Status fetches the state of an asynchronous task.
func (c *Client) Status(ctx context.Context, taskID string) (Task, error) {
	var task Task
	if err := c.doJSON(ctx, http.MethodGet, "status", c.endpoint("api", "v1", "tasks", taskID), nil, &task); err != nil {
		return Task{}, err
	}
	if task.ID == "" {
		task.ID = taskID
	}
	return task, nil
}

// Files lists the output files of a completed task.
func (c *Client) Files(ctx context.Context, taskID string) ([]FileInfo, error) {
	var files []FileInfo
	if err := c.doJSON(ctx, http.MethodGet, "files", c.endpoint("api", "v1", "tasks", taskID, "files"), nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Download streams one output file. The caller closes the reader.
func (c *Client) Download(ctx context.Context, taskID, filename string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, "download", c.endpoint("api", "v1", "tasks", taskID, "files", filename), nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Cleanup asks the worker to release a task's files.
func (c *Client) Cleanup(ctx context.Context, taskID string) (CleanupResult, error) {
	var result CleanupResult
	if err := c.doJSON(ctx, http.MethodDelete, "cleanup", c.endpoint("api", "v1", "tasks", taskID), nil, &result); err != nil {
		return CleanupResult{}, err
	}
	return result, nil
}

// Ping checks that the worker answers HTTP at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String(), nil)
	if err != nil {
		return fmt.Errorf("remote: build ping request: %w", err)
	}
	c.applyHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError("ping", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return statusError("ping", resp.StatusCode, resp.Status, "")
	}
	return nil
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL.JoinPath(parts...).String()
}

func (c *Client) doJSON(ctx context.Context, method, op, endpoint string, body []byte, out any) error {
	resp, err := c.do(ctx, method, op, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrExternal, "remote", op, "decode response", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, op, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("remote: build %s request: %w", op, err)
	}
	c.applyHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(op, resp.StatusCode, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// IsTransport reports whether err came from the network rather than an HTTP
// response.
func IsTransport(err error) bool {
	return errors.Is(err, services.ErrTransient) || errors.Is(err, services.ErrTimeout)
}

func transportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return services.Wrap(services.ErrTimeout, "remote", op, "request timed out", err)
	}
	return services.Wrap(services.ErrTransient, "remote", op, "request failed", err)
}

func statusError(op string, code int, status, body string) error {
	marker := services.ErrExternal
	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		marker = services.ErrValidation
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		marker = services.ErrPermission
	case code == http.StatusNotFound:
		marker = services.ErrNotFound
	case code == http.StatusTooManyRequests:
		marker = services.ErrRateLimited
	case code >= 500:
		marker = services.ErrUnavailable
	}
	message := fmt.Sprintf("worker returned %s", status)
	if body != "" {
		message += ": " + body
	}
	return services.Wrap(marker, "remote", op, message, nil)
}
