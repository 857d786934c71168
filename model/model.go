// Package model defines the external vision-language model contract the
// cascade validates candidates against, plus an HTTP implementation of it.
// The actual model behind this interface is out of scope: this package
// owns only the upload/poll mechanics and response framing; retries with
// backoff are applied by the cascade around each call.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/justapithecus/cascadewatch/iox"
)

// MediaRef identifies an uploaded media file the model can reference in
// subsequent Generate calls.
type MediaRef struct {
	URI      string
	MimeType string
}

// GenerateRequest pins packet identity and the time window to analyze.
type GenerateRequest struct {
	Model       string
	Media       MediaRef
	PacketID    string
	CandidateID string
	StartS      float64
	EndS        float64
	FPS         int
	Prompt      string
	Schema      string // schema name, e.g. "flash" or "pro"
}

// GenerateResponse is the raw parsed JSON body keyed by field name. The
// cascade validates it against the specific FlashEvent/FinalEvent schema
// after receiving it here.
type GenerateResponse struct {
	Raw map[string]any
}

// ModelClient is the external model collaborator contract.
type ModelClient interface {
	// UploadMedia uploads a video file and polls until it is ready for
	// reference in Generate calls.
	UploadMedia(ctx context.Context, path string) (MediaRef, error)
	// Generate issues one validation call for a single packet window.
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// Config controls HTTPClient's upload polling and HTTP behaviour.
type Config struct {
	Endpoint           string
	UploadPollAttempts int
	UploadPollInterval time.Duration
	HTTPTimeout        time.Duration
}

// DefaultConfig returns the reference upload-poll bound (30 attempts, 1s
// spacing) as configurable defaults rather than hardcoded constants.
func DefaultConfig() Config {
	return Config{
		UploadPollAttempts: 30,
		UploadPollInterval: time.Second,
		HTTPTimeout:        30 * time.Second,
	}
}

// ErrUploadNotReady is returned when the media never reaches an ACTIVE
// state within UploadPollAttempts.
var ErrUploadNotReady = fmt.Errorf("model: media did not become active before poll budget exhausted")

// HTTPClient is a real ModelClient implementation that POSTs JSON to a
// configured endpoint. It is the system's external collaborator: a
// genuine HTTP client, but the model behind Endpoint is out of scope.
type HTTPClient struct {
	cfg    Config
	client *http.Client
}

// NewHTTPClient builds an HTTPClient against cfg.
func NewHTTPClient(cfg Config) *HTTPClient {
	return &HTTPClient{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}}
}

type uploadResponse struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mime_type"`
	State    string `json:"state"`
}

// UploadMedia uploads path and polls the model's file-status endpoint
// until ACTIVE, failing after UploadPollAttempts.
func (c *HTTPClient) UploadMedia(ctx context.Context, path string) (MediaRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/files:upload", bytes.NewReader([]byte(path)))
	if err != nil {
		return MediaRef{}, fmt.Errorf("model: build upload request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return MediaRef{}, fmt.Errorf("model: upload request: %w", err)
	}
	var uploaded uploadResponse
	if err := decodeAndClose(resp, &uploaded); err != nil {
		return MediaRef{}, err
	}

	for attempt := 0; attempt < c.cfg.UploadPollAttempts; attempt++ {
		status, err := c.pollStatus(ctx, uploaded.Name)
		if err == nil && status.State == "ACTIVE" {
			return MediaRef{URI: status.URI, MimeType: status.MimeType}, nil
		}
		select {
		case <-ctx.Done():
			return MediaRef{}, ctx.Err()
		case <-time.After(c.cfg.UploadPollInterval):
		}
	}
	return MediaRef{}, ErrUploadNotReady
}

func (c *HTTPClient) pollStatus(ctx context.Context, name string) (uploadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/files/"+name, nil)
	if err != nil {
		return uploadResponse{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return uploadResponse{}, err
	}
	var status uploadResponse
	if err := decodeAndClose(resp, &status); err != nil {
		return uploadResponse{}, err
	}
	return status, nil
}

// Generate issues a single generate_content-equivalent call.
func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("model: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/models/"+req.Model+":generateContent", bytes.NewReader(body))
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("model: build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("model: generate request: %w", err)
	}
	var out map[string]any
	if err := decodeAndClose(resp, &out); err != nil {
		return GenerateResponse{}, err
	}
	return GenerateResponse{Raw: out}, nil
}

func decodeAndClose(resp *http.Response, out any) error {
	defer iox.DiscardClose(resp.Body)
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("model: decode response: %w", err)
	}
	return nil
}

// StatusError carries the HTTP status code from a failed model call so
// callers can distinguish retriable (5xx) from terminal (4xx) failures.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model: request failed with status %d: %s", e.Code, e.Body)
}

// Retriable reports whether the failure is worth retrying (timeouts and
// 5xx responses are; 4xx client errors are not).
func (e *StatusError) Retriable() bool { return e.Code >= 500 }
