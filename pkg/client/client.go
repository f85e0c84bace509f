// Package client provides the Go SDK for the data integrity ledger API:
// registering content fingerprints, validating candidates against them,
// and reading records, histories, and audit trails.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Sentinel errors mapped from API response statuses.
var (
	// ErrNotFound — no record exists for the identifier.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists — a record for the identifier is already registered.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrUnauthorized — the caller's identity lacks the required capability.
	ErrUnauthorized = errors.New("capability required")
	// ErrNotReady — the ledger backend is unavailable; retry later.
	ErrNotReady = errors.New("ledger not ready")
)

// Record is a stored integrity record.
type Record struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	History     []string  `json:"history"`
	SubmittedBy string    `json:"submitted_by"`
	Sequence    uint64    `json:"sequence"`
	CommittedAt time.Time `json:"committed_at"`
	MetadataRef *string   `json:"metadata_ref,omitempty"`
}

// CommitResult is the confirmation for a store or update.
type CommitResult struct {
	RecordID    string    `json:"record_id"`
	Sequence    uint64    `json:"sequence"`
	CommittedAt time.Time `json:"committed_at"`
}

// ValidationResult is the outcome of an integrity check.
type ValidationResult struct {
	RecordID  string `json:"record_id"`
	IsValid   bool   `json:"is_valid"`
	Candidate string `json:"candidate"`
	Stored    string `json:"stored"`
	Sequence  uint64 `json:"sequence,omitempty"`
}

// AuditEvent is one decoded audit trail entry.
type AuditEvent struct {
	Kind      string    `json:"kind"`
	RecordID  string    `json:"record_id"`
	Actor     string    `json:"actor"`
	Sequence  uint64    `json:"sequence"`
	Time      time.Time `json:"time"`
	Old       *string   `json:"old_fingerprint,omitempty"`
	New       *string   `json:"new_fingerprint,omitempty"`
	Candidate *string   `json:"candidate,omitempty"`
	Stored    *string   `json:"stored,omitempty"`
	IsValid   *bool     `json:"is_valid,omitempty"`
}

// Status is the service's transport status report.
type Status struct {
	State     string `json:"state"`
	Sequence  uint64 `json:"sequence"`
	LastError string `json:"last_error,omitempty"`
}

// Client is the ledger SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client

	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken attaches a pre-obtained session token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// New creates a Client connected to base.
//
//	c := client.New("http://localhost:8080",
//	    client.WithBearerToken(token),
//	)
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 35 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchAdminToken exchanges the static admin secret for a session token
// and attaches it to subsequent requests.
func (c *Client) FetchAdminToken(ctx context.Context, secret string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/admin-token",
		map[string]string{"secret": secret}, &resp)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = resp.Token
	c.mu.Unlock()
	return resp.Token, nil
}

// SetToken replaces the session token attached to requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.bearerToken = token
	c.mu.Unlock()
}

// StoreRecord registers a fingerprint for a new identifier.
// metadataRef may be nil.
func (c *Client) StoreRecord(ctx context.Context, id, fp string, metadataRef *string) (*CommitResult, error) {
	payload := map[string]any{"id": id, "fingerprint": fp}
	if metadataRef != nil {
		payload["metadata_ref"] = *metadataRef
	}
	var result CommitResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/records", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateRecord appends a new fingerprint to an existing record.
func (c *Client) UpdateRecord(ctx context.Context, id, fp string, metadataRef *string) (*CommitResult, error) {
	payload := map[string]any{"fingerprint": fp}
	if metadataRef != nil {
		payload["metadata_ref"] = *metadataRef
	}
	var result CommitResult
	if err := c.call(ctx, http.MethodPut, "/api/v1/records/"+id, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRecord fetches the current record for id.
func (c *Client) GetRecord(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := c.call(ctx, http.MethodGet, "/api/v1/records/"+id, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetHistory fetches the ordered fingerprint history for id.
func (c *Client) GetHistory(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		History []string `json:"history"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/records/"+id+"/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// RecordExists reports whether a record is registered for id.
func (c *Client) RecordExists(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/records/"+id+"/exists", nil, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Validate runs the audited integrity check. Requires the validator
// capability; the result is committed to the audit trail either way.
func (c *Client) Validate(ctx context.Context, id, candidate string) (*ValidationResult, error) {
	var result ValidationResult
	err := c.call(ctx, http.MethodPost, "/api/v1/records/"+id+"/validate",
		map[string]string{"fingerprint": candidate}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// QuickCheck runs the free, un-audited integrity check. No token needed.
func (c *Client) QuickCheck(ctx context.Context, id, candidate string) (*ValidationResult, error) {
	var result ValidationResult
	err := c.call(ctx, http.MethodPost, "/api/v1/records/"+id+"/check",
		map[string]string{"fingerprint": candidate}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AuditTrail fetches the audit events for one record, or the whole
// ledger when id is empty.
func (c *Client) AuditTrail(ctx context.Context, id string) ([]AuditEvent, error) {
	path := "/api/v1/audit"
	if id != "" {
		path = "/api/v1/records/" + id + "/audit"
	}
	var resp struct {
		Events []AuditEvent `json:"events"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// GrantRole gives identity a capability. Requires an admin token.
func (c *Client) GrantRole(ctx context.Context, identity, capability string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/roles",
		map[string]string{"identity": identity, "capability": capability}, nil)
}

// RevokeRole removes a capability from identity. Requires an admin token.
func (c *Client) RevokeRole(ctx context.Context, identity, capability string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/roles",
		map[string]string{"identity": identity, "capability": capability}, nil)
}

// HasRole reports whether identity holds a capability.
func (c *Client) HasRole(ctx context.Context, identity, capability string) (bool, error) {
	var resp struct {
		Held bool `json:"held"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/roles/"+identity+"/"+capability, nil, &resp)
	if err != nil {
		return false, err
	}
	return resp.Held, nil
}

// GetStatus fetches the transport lifecycle status. It succeeds even
// when the backend is down; inspect State on the result.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// /status answers 503 with a body while the backend is down.
	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// call executes one API request, attaching the session token if present,
// and maps error statuses to the package sentinels.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	token := c.bearerToken
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, body)
	}

	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiError maps a response status to a sentinel where one applies,
// keeping the server's message.
func apiError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = string(body)
	}

	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrNotReady, msg)
	default:
		return fmt.Errorf("server error %d: %s", status, msg)
	}
}
