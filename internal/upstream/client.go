// Package upstream talks to the remote ChatKit sessions API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/chatkit-shell/internal/apierror"
)

const (
	sessionsPath = "/v1/chatkit/sessions"
	betaHeader   = "chatkit_beta=v1"
)

// SessionRequest describes the session the relay wants created.
type SessionRequest struct {
	WorkflowID  string
	UserID      string
	FileUploads bool
}

// Session is a freshly minted client credential.
type Session struct {
	ClientSecret *string         `json:"client_secret"`
	ExpiresAfter json.RawMessage `json:"expires_after"`
}

// APIError is returned for non-2xx answers from the sessions API.
type APIError struct {
	Status  int
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sessions api %d: %s", e.Status, e.Message)
}

// Client creates sessions against a configured API base.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a client. A zero timeout leaves the http.Client unbounded.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type workflowRef struct {
	ID string `json:"id"`
}

type fileUpload struct {
	Enabled bool `json:"enabled"`
}

type chatkitConfiguration struct {
	FileUpload fileUpload `json:"file_upload"`
}

type createSessionBody struct {
	Workflow             workflowRef          `json:"workflow"`
	User                 string               `json:"user"`
	ChatkitConfiguration chatkitConfiguration `json:"chatkit_configuration"`
}

// CreateSession asks the remote API for a short-lived client secret.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	body, err := json.Marshal(createSessionBody{
		Workflow: workflowRef{ID: req.WorkflowID},
		User:     req.UserID,
		ChatkitConfiguration: chatkitConfiguration{
			FileUpload: fileUpload{Enabled: req.FileUploads},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("OpenAI-Beta", betaHeader)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", sessionsPath, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close sessions response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !json.Valid(data) {
		if len(data) > 0 {
			c.logger.Warn("sessions api returned malformed JSON", "status", resp.StatusCode, "bytes", len(data))
		}
		data = []byte("{}")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fallback := "Failed to create session: " + statusText(resp)
		return nil, &APIError{
			Status:  resp.StatusCode,
			Message: apierror.ExtractOr(data, fallback),
			Details: json.RawMessage(data),
		}
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		// Valid JSON of the wrong shape; treat as an empty payload.
		c.logger.Warn("sessions api returned unexpected payload", "error", err)
		return &Session{}, nil
	}
	return &session, nil
}

// statusText mirrors the reason phrase a browser would expose.
func statusText(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
