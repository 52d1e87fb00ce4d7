// Package bootstrap exchanges a workflow id for a short-lived client secret
// by calling the session relay. It never retries on its own; a retry is a
// fresh panel mount.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/chatkit-shell/internal/apierror"
	"github.com/ashureev/chatkit-shell/internal/identity"
)

// ErrMissingClientSecret is returned when a successful response carries no secret.
var ErrMissingClientSecret = errors.New("Missing client secret in response") //nolint:revive,staticcheck // shown verbatim in the panel banner

// Request carries what the relay needs to mint a session.
type Request struct {
	WorkflowID  string
	UserID      string
	FileUploads bool
	// ClientIP is the browser's address, forwarded so the relay throttles
	// the browser rather than this server.
	ClientIP string
}

// Client posts to a single session endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a bootstrap client for endpoint.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type requestBody struct {
	Workflow struct {
		ID string `json:"id"`
	} `json:"workflow"`
	ChatkitConfiguration struct {
		FileUpload struct {
			Enabled bool `json:"enabled"`
		} `json:"file_upload"`
	} `json:"chatkit_configuration"`
}

// FetchClientSecret performs one POST and returns the credential.
func (c *Client) FetchClientSecret(ctx context.Context, req Request) (string, error) {
	var body requestBody
	body.Workflow.ID = req.WorkflowID
	body.ChatkitConfiguration.FileUpload.Enabled = req.FileUploads

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.UserID != "" {
		httpReq.AddCookie(&http.Cookie{Name: identity.SessionCookieName, Value: req.UserID})
	}
	if req.ClientIP != "" {
		httpReq.Header.Set("X-Forwarded-For", req.ClientIP)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request session: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close session response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read session response: %w", err)
	}
	data := parsePayload(raw, c.logger)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := apierror.ExtractOr(data, statusText(resp))
		c.logger.Error("Create session request failed", "status", resp.StatusCode, "detail", detail)
		return "", errors.New(detail)
	}

	var out struct {
		ClientSecret *string `json:"client_secret"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.ClientSecret == nil || *out.ClientSecret == "" {
		return "", ErrMissingClientSecret
	}
	return *out.ClientSecret, nil
}

// parsePayload returns raw when it is valid JSON and "{}" otherwise.
func parsePayload(raw []byte, logger *slog.Logger) []byte {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}")
	}
	if !json.Valid(raw) {
		logger.Error("Failed to parse create-session response", "bytes", len(raw))
		return []byte("{}")
	}
	return raw
}

func statusText(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
