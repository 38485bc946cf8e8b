// Package openpecha is a thin client for the OpenPecha catalog API,
// which serves canonical Buddhist texts and their manifestations.
package openpecha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the catalog has no entry for the
// requested ID.
var ErrNotFound = errors.New("openpecha: not found")

// ErrUnavailable is returned when the catalog cannot be reached.
var ErrUnavailable = errors.New("openpecha: upstream unavailable")

// Expression is one catalog entry, a work independent of any edition.
type Expression struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Language string `json:"language"`
}

// Instance is one manifestation of an expression. The annotation layers
// vary per instance, so they pass through as raw JSON.
type Instance struct {
	ID           string          `json:"id"`
	ExpressionID string          `json:"expression"`
	Annotations  json.RawMessage `json:"annotations"`
	Type         string          `json:"type"`
}

// Client talks to an OpenPecha catalog over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListExpressions fetches catalog entries, optionally filtered by type
// (root, commentary, translations).
func (c *Client) ListExpressions(ctx context.Context, filterType string) ([]Expression, error) {
	path := "/texts"
	if filterType != "" {
		path += "?type=" + url.QueryEscape(filterType)
	}
	var expressions []Expression
	if err := c.getJSON(ctx, path, &expressions); err != nil {
		return nil, err
	}
	return expressions, nil
}

// ListInstances fetches the manifestations available for an expression.
func (c *Client) ListInstances(ctx context.Context, expressionID string) ([]Instance, error) {
	var instances []Instance
	if err := c.getJSON(ctx, "/texts/"+url.PathEscape(expressionID)+"/instances", &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// GetInstanceText fetches the serialized content of one instance. The
// document shape depends on the instance's annotation layers, so it is
// returned as decoded JSON rather than a fixed struct.
func (c *Client) GetInstanceText(ctx context.Context, instanceID string) (map[string]any, error) {
	var doc map[string]any
	if err := c.getJSON(ctx, "/instances/"+url.PathEscape(instanceID), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("openpecha: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("openpecha: %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("openpecha: decode %s: %w", path, err)
	}
	return nil
}
