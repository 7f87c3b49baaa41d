// Package remote is the HTTP client for the knowledge service API.
//
// All requests are scoped to the authenticated user: the server enforces
// that each API key can only read and write its own knowledge base.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/starford/mdlm/internal/apperr"
	"github.com/starford/mdlm/internal/models"
)

// Fixed timeouts for every round trip.
const (
	connectTimeout = 10 * time.Second
	requestTimeout = 30 * time.Second
)

// APIError is a structured remote failure carrying the HTTP status and
// the server-reported message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Unwrap maps auth statuses to their sentinels so callers can use
// errors.Is to detect fatal authentication failures.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return apperr.ErrUnauthorized
	case http.StatusForbidden:
		return apperr.ErrForbidden
	case http.StatusNotFound:
		return apperr.ErrNotFound
	}
	return nil
}

// Client talks to the knowledge service with bearer authentication.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the given base URL and API key.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorDetail(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("remote: decode response: %w", err)
	}
	return nil
}

// errorDetail extracts the server's error message, falling back to a
// truncated body snippet.
func errorDetail(data []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
		return e.Error
	}
	s := string(data)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// docEnvelope tolerates both {"doc": {...}} and a bare document body.
type docEnvelope struct {
	Doc  *models.Document `json:"doc"`
	bare models.Document
}

func (d *docEnvelope) UnmarshalJSON(data []byte) error {
	type alias struct {
		Doc *models.Document `json:"doc"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Doc != nil {
		d.Doc = a.Doc
		return nil
	}
	if err := json.Unmarshal(data, &d.bare); err != nil {
		return err
	}
	d.Doc = &d.bare
	return nil
}

// List fetches all documents, optionally filtered by category.
func (c *Client) List(ctx context.Context, category string) ([]models.Document, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	var resp struct {
		Docs []models.Document `json:"docs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/knowledge", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Docs, nil
}

// Get fetches a single document by id.
func (c *Client) Get(ctx context.Context, id string) (*models.Document, error) {
	var env docEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/knowledge/"+url.PathEscape(id), nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Doc, nil
}

// Create uploads a new document and returns the server's record,
// including the assigned id and version.
func (c *Client) Create(ctx context.Context, title, content, category string) (*models.Document, error) {
	payload := map[string]string{
		"title":    title,
		"content":  content,
		"category": category,
	}
	var env docEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/knowledge", nil, payload, &env); err != nil {
		return nil, err
	}
	return env.Doc, nil
}

// Update replaces a document's content and returns the server's record
// with the bumped version. changeReason, when non-empty, is recorded in
// the document's version history.
func (c *Client) Update(ctx context.Context, id, title, content, category, changeReason string) (*models.Document, error) {
	payload := map[string]string{
		"title":    title,
		"content":  content,
		"category": category,
	}
	if changeReason != "" {
		payload["change_reason"] = changeReason
	}
	var env docEnvelope
	if err := c.do(ctx, http.MethodPut, "/api/knowledge/"+url.PathEscape(id), nil, payload, &env); err != nil {
		return nil, err
	}
	return env.Doc, nil
}

// Delete removes a document by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/knowledge/"+url.PathEscape(id), nil, nil, nil)
}

// Query asks the knowledge base a free-form question scoped to a category.
func (c *Client) Query(ctx context.Context, query, category string) (*models.QueryResult, error) {
	payload := map[string]string{"query": query, "category": category}
	var out models.QueryResult
	if err := c.do(ctx, http.MethodPost, "/api/query", nil, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateCode checks a code snippet against the documented rules for a
// category.
func (c *Client) ValidateCode(ctx context.Context, code, task, category string) (*models.ValidationResult, error) {
	payload := map[string]string{"code": code, "task": task, "category": category}
	var out models.ValidationResult
	if err := c.do(ctx, http.MethodPost, "/api/validate", nil, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveGap reports an undocumented decision and asks the service how to
// resolve it.
func (c *Client) ResolveGap(ctx context.Context, question, category string) (*models.GapResolution, error) {
	payload := map[string]string{"question": question, "category": category}
	var out models.GapResolution
	if err := c.do(ctx, http.MethodPost, "/api/gaps/resolve", nil, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
