package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/reelroom/reel/internal/backend/schema"
)

const (
	defaultHTTPTimeout        = 30 * time.Second
	defaultHTTPConnectTimeout = 5 * time.Second
	defaultHTTPTLSTimeout     = 5 * time.Second
)

func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHTTPConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHTTPTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHTTPTimeout,
	}
}

// Client talks to a reel API server. It implements the fetch and write
// collaborators of a live collection.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: defaultHTTPClient(),
	}
}

// SetToken sets the bearer token sent with write requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the server URL the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login requests a token for the profile's user id and stores it on the
// client.
func (c *Client) Login(ctx context.Context, p schema.Profile) (string, error) {
	var resp TokenResponse
	req := TokenRequest{UserID: p.ID, FirstName: p.FirstName, LastName: p.LastName}
	if err := c.do(ctx, http.MethodPost, "/auth/token", req, &resp); err != nil {
		return "", fmt.Errorf("failed to log in: %w", err)
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// Fetch implements livesync.Fetcher.
func (c *Client) Fetch(ctx context.Context, key schema.FilterKey, limit int) ([]schema.Record, error) {
	q := url.Values{}
	if f := key.Filter(); f != "" {
		q.Set("filter", f)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/rest/" + url.PathEscape(key.Table)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var records []schema.Record
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []schema.Record{}
	}
	return records, nil
}

// InsertRecord implements livesync.Writer. The server takes the owner from
// the bearer token and ignores ownerID; the returned record carries the owner
// it stored.
func (c *Client) InsertRecord(ctx context.Context, table, ownerID string, fields schema.Payload) (schema.Record, error) {
	var rec schema.Record
	if err := c.do(ctx, http.MethodPost, "/rest/"+url.PathEscape(table), fields, &rec); err != nil {
		return schema.Record{}, err
	}
	return rec, nil
}

// UpdateRecord implements livesync.Writer.
func (c *Client) UpdateRecord(ctx context.Context, table, id, principal string, fields schema.Payload) (schema.Record, error) {
	var rec schema.Record
	path := "/rest/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, fields, &rec); err != nil {
		return schema.Record{}, err
	}
	return rec, nil
}

// DeleteRecord implements livesync.Writer.
func (c *Client) DeleteRecord(ctx context.Context, table, id, principal string) error {
	path := "/rest/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetProfiles fetches the profiles of ids in one request.
func (c *Client) GetProfiles(ctx context.Context, ids []string) (map[string]schema.Profile, error) {
	out := make(map[string]schema.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var profiles []schema.Profile
	path := "/rest/profiles?ids=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.do(ctx, http.MethodGet, path, nil, &profiles); err != nil {
		return nil, err
	}
	for _, p := range profiles {
		out[p.ID] = p
	}
	return out, nil
}

// do sends a JSON request and decodes a JSON response into result, which
// may be nil. Non-2xx responses are returned as *Error.
func (c *Client) do(ctx context.Context, method, path string, args any, result any) error {
	var body io.Reader
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if args != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode, Code: CodeInternal, Message: strings.TrimSpace(string(data))}
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Code != "" {
			apiErr.Code = er.Code
			apiErr.Message = er.Error
		}
		return apiErr
	}

	if result == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
