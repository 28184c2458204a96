// Package genclient talks to the code-generation service and to the
// persistence service that owns the generated files.
package genclient

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
)

// maxErrorBody caps how much of a failed response is quoted in the error.
const maxErrorBody = 512

// Request is one generation call.
type Request struct {
	ContextID       string `json:"contextId"`
	InstructionText string `json:"instructionText"`
	ToolsEnabled    bool   `json:"toolsEnabled"`
}

// File is one generated file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Artifact is the current set of generated files for a context.
type Artifact struct {
	Files     []File    `json:"files"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Options configures a Client.
type Options struct {
	BaseURL          string
	ArtifactsBaseURL string
	APIKey           string
	Timeout          time.Duration
	HTTPClient       *http.Client
}

// Client is an HTTP client for the generation and artifact endpoints.
type Client struct {
	base      string
	artifacts string
	apiKey    string
	http      *http.Client
}

// New creates a Client. ArtifactsBaseURL defaults to BaseURL.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	artifacts := opts.ArtifactsBaseURL
	if artifacts == "" {
		artifacts = opts.BaseURL
	}
	return &Client{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		artifacts: strings.TrimRight(artifacts, "/"),
		apiKey:    opts.APIKey,
		http:      hc,
	}
}

// Generate starts a generation request and returns the raw event stream.
// The caller must close it. Cancelling ctx aborts the stream.
func (c *Client) Generate(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("genclient: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("genclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("genclient: generate: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("genclient: generate: %w", statusError(resp))
	}
	return resp.Body, nil
}

// FetchArtifact returns the current files of a context.
func (c *Client) FetchArtifact(ctx context.Context, contextID string) (*Artifact, error) {
	endpoint := c.artifacts + "/v1/contexts/" + url.PathEscape(contextID) + "/files"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("genclient: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("genclient: fetch artifact %s: %w", contextID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("genclient: fetch artifact %s: %w", contextID, statusError(resp))
	}

	var art Artifact
	if err := json.NewDecoder(resp.Body).Decode(&art); err != nil {
		return nil, fmt.Errorf("genclient: decode artifact %s: %w", contextID, err)
	}
	return &art, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}
