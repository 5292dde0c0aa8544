package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	api "github.com/fyrsmithlabs/ragd/internal/http"
)

// apiError is a non-2xx response from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// client talks to the ragd REST API.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends body as JSON (when non-nil) and decodes the response into out
// (when non-nil).
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		var er api.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Message != "" {
			return &apiError{Status: resp.StatusCode, Message: er.Message}
		}
		return &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *client) health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	return &out, c.do(ctx, http.MethodGet, "/health", nil, &out)
}

func (c *client) ask(ctx context.Context, req api.RAGRequest) (*api.RAGResponse, error) {
	var out api.RAGResponse
	return &out, c.do(ctx, http.MethodPost, "/api/v1/rag", req, &out)
}

func (c *client) decompose(ctx context.Context, req api.RAGRequest) (*api.DecomposeResponse, error) {
	var out api.DecomposeResponse
	return &out, c.do(ctx, http.MethodPost, "/api/v1/rag/decompose", req, &out)
}

func (c *client) expand(ctx context.Context, req api.ExpandRequest) (*api.ExpandResponse, error) {
	var out api.ExpandResponse
	return &out, c.do(ctx, http.MethodPost, "/api/v1/expand", req, &out)
}

func (c *client) retrieve(ctx context.Context, req api.RetrieveRequest) (*api.RetrieveResponse, error) {
	var out api.RetrieveResponse
	return &out, c.do(ctx, http.MethodPost, "/api/v1/retrieve", req, &out)
}

func (c *client) collections(ctx context.Context) (*api.CollectionsResponse, error) {
	var out api.CollectionsResponse
	return &out, c.do(ctx, http.MethodGet, "/api/v1/collections", nil, &out)
}

func (c *client) collectionInfo(ctx context.Context, name string) (*collectionInfo, error) {
	var out collectionInfo
	return &out, c.do(ctx, http.MethodGet, "/api/v1/collections/"+name, nil, &out)
}

func (c *client) deleteCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/collections/"+name, nil, nil)
}

func (c *client) resetSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+id, nil, nil)
}

// collectionInfo matches the body of GET /api/v1/collections/:name.
type collectionInfo struct {
	Name       string `json:"name"`
	PointCount int    `json:"point_count"`
	VectorSize int    `json:"vector_size"`
}
