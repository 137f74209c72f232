// Package jenkins talks to the external lock manager. All state-changing
// calls are CSRF-protected, so each one is a two-step protocol: fetch a
// fresh crumb, then issue the mutation with the crumb header attached.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Reservation actions accepted by the lock manager.
const (
	ActionReserve   = "reserve"
	ActionUnreserve = "unreserve"
)

// Credentials authenticate against the lock manager with basic auth.
type Credentials struct {
	Username string
	APIToken string
}

// Crumb is the single-use CSRF token returned by the token endpoint: a
// request header name/value pair.
type Crumb struct {
	Field string
	Value string
}

// Client performs authenticated calls against the lock manager. Calls are
// stateless request/response round trips with no shared mutable state, so
// a single client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a lock manager client. timeout bounds each round trip;
// zero keeps the transport default.
func NewClient(logger *zap.Logger, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// crumbDocument is the token endpoint's response body.
type crumbDocument struct {
	Crumb             string `json:"crumb"`
	CrumbRequestField string `json:"crumbRequestField"`
}

// FetchToken requests a fresh CSRF crumb. The crumb is valid for a single
// session and must be fetched before every mutation.
func (c *Client) FetchToken(ctx context.Context, baseURL string, creds Credentials) (Crumb, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/crumbIssuer/api/json", nil)
	if err != nil {
		return Crumb{}, &TransportError{Op: "token fetch", Err: err}
	}
	req.SetBasicAuth(creds.Username, creds.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Crumb{}, &TransportError{Op: "token fetch", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Crumb{}, &AuthError{Message: readServerMessage(resp.Body)}
	case resp.StatusCode != http.StatusOK:
		return Crumb{}, &ProtocolError{Message: fmt.Sprintf("token endpoint returned %d", resp.StatusCode)}
	}

	var doc crumbDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Crumb{}, &ProtocolError{Message: fmt.Sprintf("undecodable token document: %v", err)}
	}
	if doc.Crumb == "" || doc.CrumbRequestField == "" {
		return Crumb{}, &ProtocolError{Message: "token document missing crumb or crumbRequestField"}
	}

	return Crumb{Field: doc.CrumbRequestField, Value: doc.Crumb}, nil
}

// CheckCredentials validates a set of credentials against the lock manager
// without performing any mutation.
func (c *Client) CheckCredentials(ctx context.Context, baseURL string, creds Credentials) error {
	_, err := c.FetchToken(ctx, baseURL, creds)
	return err
}

// SetReservation changes the reservation state of a single lock. The token
// fetch and the mutation are deliberately separate steps: the lock manager
// requires a fresh crumb per session, and the caller needs to distinguish
// bad credentials from a bad resource name from a network outage.
func (c *Client) SetReservation(ctx context.Context, baseURL string, creds Credentials, lockName, action string) error {
	if action != ActionReserve && action != ActionUnreserve {
		return fmt.Errorf("invalid reservation action: %q", action)
	}

	crumb, err := c.FetchToken(ctx, baseURL, creds)
	if err != nil {
		return err
	}

	target := fmt.Sprintf("%s/lockable-resources/%s?resource=%s",
		baseURL, action, url.QueryEscape(lockName))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return &TransportError{Op: action, Err: err}
	}
	req.SetBasicAuth(creds.Username, creds.APIToken)
	req.Header.Set(crumb.Field, crumb.Value)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: action, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Message: readServerMessage(resp.Body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &ProtocolError{Message: fmt.Sprintf("%s of %q returned %d", action, lockName, resp.StatusCode)}
	}

	c.logger.Info("Lock reservation updated",
		zap.String("lock", lockName),
		zap.String("action", action),
	)
	return nil
}

// FetchStatus retrieves the current lock status snapshot document. The raw
// body is returned for the lockdoc parser; this call does not mutate
// anything and needs no crumb.
func (c *Client) FetchStatus(ctx context.Context, baseURL string, creds Credentials) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/lockable-resources/api/json?depth=1", nil)
	if err != nil {
		return nil, &TransportError{Op: "status fetch", Err: err}
	}
	req.SetBasicAuth(creds.Username, creds.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "status fetch", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthError{Message: readServerMessage(resp.Body)}
	case resp.StatusCode != http.StatusOK:
		return nil, &ProtocolError{Message: fmt.Sprintf("status endpoint returned %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "status fetch", Err: err}
	}
	return body, nil
}

// readServerMessage extracts a short error message from a response body,
// falling back to empty (callers supply a generic message).
func readServerMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil {
		return ""
	}
	return string(data)
}
