package http

import (
	"github.com/fyrsmithlabs/ragd/internal/expansion"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RAGRequest is the request body for POST /api/v1/rag and
// POST /api/v1/rag/decompose.
type RAGRequest struct {
	Question       string `json:"question"`
	CollectionName string `json:"collection_name"`
	SessionID      string `json:"session_id,omitempty"`
	K              int    `json:"k,omitempty"`
}

// RAGResponse is the response body for POST /api/v1/rag.
type RAGResponse struct {
	Answer         string   `json:"answer"`
	Pages          []string `json:"pages"`
	CollectionName string   `json:"collection_name"`
	SessionID      string   `json:"session_id"`
	Fallback       bool     `json:"fallback,omitempty"`
}

// SubAnswer is one entry of DecomposeResponse.
type SubAnswer struct {
	Query    string   `json:"query"`
	Answer   string   `json:"answer"`
	Pages    []string `json:"pages"`
	Fallback bool     `json:"fallback,omitempty"`
}

// DecomposeResponse is the response body for POST /api/v1/rag/decompose.
type DecomposeResponse struct {
	Answers        []SubAnswer `json:"answers"`
	CollectionName string      `json:"collection_name"`
	SessionID      string      `json:"session_id"`
}

// ExpandRequest is the request body for POST /api/v1/expand.
type ExpandRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
	N     int    `json:"n,omitempty"`
}

// ExpandResponse is the response body for POST /api/v1/expand. Mode is
// empty when the configured mode was used.
type ExpandResponse struct {
	Queries []string          `json:"queries"`
	Outcome expansion.Outcome `json:"outcome"`
	Mode    expansion.Mode    `json:"mode,omitempty"`
}

// RetrieveRequest is the request body for POST /api/v1/retrieve. Query is
// shorthand for a single entry in Queries.
type RetrieveRequest struct {
	Queries        []string `json:"queries,omitempty"`
	Query          string   `json:"query,omitempty"`
	CollectionName string   `json:"collection_name"`
	K              int      `json:"k,omitempty"`
	Fusion         string   `json:"fusion,omitempty"`
}

// RetrieveResponse is the response body for POST /api/v1/retrieve.
type RetrieveResponse struct {
	Candidates     fusion.Result `json:"candidates"`
	CollectionName string        `json:"collection_name"`
}

// CollectionSummary is one entry of CollectionsResponse. PointCount is -1
// when the store could not report it.
type CollectionSummary struct {
	Name       string `json:"name"`
	PointCount int    `json:"point_count"`
}

// CollectionsResponse is the response body for GET /api/v1/collections.
type CollectionsResponse struct {
	Collections []CollectionSummary `json:"collections"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}
