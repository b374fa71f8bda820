package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// Executor is the remote render backend
type Executor interface {
	Submit(ctx context.Context, req models.RenderRequest) (models.RenderHandle, error)
	Progress(ctx context.Context, handle models.RenderHandle) (*ExecutorProgress, error)
}

// ExecutorProgress is the executor's raw progress report
type ExecutorProgress struct {
	Done                  bool              `json:"done"`
	OverallProgress       float64           `json:"overallProgress"`
	OutputFile            string            `json:"outputFile,omitempty"`
	OutputSizeInBytes     int64             `json:"outputSizeInBytes,omitempty"`
	FatalErrorEncountered bool              `json:"fatalErrorEncountered"`
	Errors                []ExecutorMessage `json:"errors,omitempty"`
}

// ExecutorMessage is one error reported by the executor
type ExecutorMessage struct {
	Message string `json:"message"`
}

// ExecutorError is a non-2xx answer from the executor
type ExecutorError struct {
	StatusCode int
	Message    string
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("render executor responded with HTTP %d: %s", e.StatusCode, e.Message)
}

// HTTPExecutor talks JSON over HTTP to the render executor
type HTTPExecutor struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPExecutor creates an executor client for baseURL
func NewHTTPExecutor(baseURL, token string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Submit creates a render job
func (e *HTTPExecutor) Submit(ctx context.Context, req models.RenderRequest) (models.RenderHandle, error) {
	var handle models.RenderHandle
	if err := e.post(ctx, "/renders", req, &handle); err != nil {
		return models.RenderHandle{}, err
	}
	if handle.RenderID == "" {
		return models.RenderHandle{}, fmt.Errorf("render executor returned no render id")
	}
	return handle, nil
}

// Progress fetches the status of a render job
func (e *HTTPExecutor) Progress(ctx context.Context, handle models.RenderHandle) (*ExecutorProgress, error) {
	var progress ExecutorProgress
	if err := e.post(ctx, "/renders/progress", handle, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

func (e *HTTPExecutor) post(ctx context.Context, path string, payload, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Composer-Render/1.0")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("render executor request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read executor response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ExecutorError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("failed to decode executor response: %w", err)
	}
	return nil
}

// errorMessage pulls a human readable message out of an error body
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return "no response body"
}
