// Package actions fires side effects on external systems through the
// hosted function executor. The executor owns credentials and rate
// limits; this client only names the function and ships the arguments.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Function names the executor dispatches on.
const (
	FnIssueCreate     = "issue.create"
	FnIssueUpdate     = "issue.update"
	FnIssueComment    = "issue.comment"
	FnIssueTransition = "issue.transition"
	FnPRCreate        = "pr.create"
	FnPRUpdate        = "pr.update"
	FnPRClose         = "pr.close"
	FnDocsCreatePage  = "docs.page_create"
	FnDocsUpdatePage  = "docs.page_update"
	FnDocsAssign      = "docs.page_assign"
)

const defaultMaxAttempts = 3

// InvocationError is a non-retryable rejection from the executor.
type InvocationError struct {
	StatusCode int
	Function   string
	Body       string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("executor rejected %s with HTTP %d: %s", e.Function, e.StatusCode, e.Body)
}

// Invocation is the executor wire request.
type Invocation struct {
	Function  string         `json:"function"`
	Arguments map[string]any `json:"arguments"`
}

// InvocationResult is the executor wire response.
type InvocationResult struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Executor invokes hosted functions over HTTP with bounded retries on
// transient failures. 4xx responses are terminal; 5xx and transport
// errors retry with exponential backoff.
type Executor struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	maxAttempts uint64
	logger      *slog.Logger
}

// NewExecutor creates the client. token may be empty when the executor
// sits on a trusted network.
func NewExecutor(baseURL, token string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		token:       token,
		maxAttempts: defaultMaxAttempts,
		logger:      logger.With("component", "action_executor"),
	}
}

// Invoke runs one hosted function and returns its result payload.
func (e *Executor) Invoke(ctx context.Context, function string, arguments map[string]any) (*InvocationResult, error) {
	body, err := json.Marshal(Invocation{Function: function, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("failed to encode invocation: %w", err)
	}

	var result *InvocationResult
	operation := func() error {
		var attemptErr error
		result, attemptErr = e.post(ctx, function, body)
		return attemptErr
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("executor call failed, retrying",
			"function", function, "wait", wait, "error", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.maxAttempts-1), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to invoke %s: %w", function, err)
	}
	return result, nil
}

func (e *Executor) post(ctx context.Context, function string, body []byte) (*InvocationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach executor: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read executor response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("executor returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(&InvocationError{
			StatusCode: resp.StatusCode,
			Function:   function,
			Body:       string(payload),
		})
	}

	var result InvocationResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode executor response: %w", err))
	}
	return &result, nil
}
