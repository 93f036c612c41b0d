package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPageSize is the page size injected into queries that omit pagination.
const DefaultPageSize = 100

// Client talks to a NOMAD oasis API. The base URL and bearer token are fixed
// at construction; a rejected token is terminal for the session's remaining
// calls, there is no refresh logic.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a client for the given oasis base URL and bearer token.
func New(baseURL, token string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// BaseURL returns the oasis base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetTimeout updates the fixed per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// SetRateLimit updates the client-side request rate limit.
func (c *Client) SetRateLimit(requestsPerSecond float64) {
	c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond*2))
}

// Request performs an authenticated API call and returns the raw JSON body.
// An empty successful response body is a valid "no content" result and
// returns nil. Failures map onto the AuthError/APIError/TransportError
// taxonomy; no retries are attempted.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, body interface{}) (json.RawMessage, error) {
	fullURL := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: extractDetail(respBody)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{StatusCode: resp.StatusCode, Message: extractDetail(respBody)}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}
	return json.RawMessage(respBody), nil
}

// Pagination is the pagination block of a query response.
type Pagination struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// QueryResponse is one page of results from an entries query.
type QueryResponse struct {
	Data       []json.RawMessage `json:"data"`
	Pagination Pagination        `json:"pagination"`
}

// QueryEntries runs an archive query against entries/archive/query and
// returns the first page of matching records. If the caller's payload has no
// pagination block, a default one with the given page size is injected.
// Pagination across the full result set is the caller's responsibility.
func (c *Client) QueryEntries(ctx context.Context, query map[string]interface{}, pageSize int) ([]json.RawMessage, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if _, ok := query["pagination"]; !ok {
		query["pagination"] = map[string]interface{}{"page_size": pageSize}
	}

	raw, err := c.Request(ctx, http.MethodPost, "entries/archive/query", nil, query)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var resp QueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse query response: %w", err)
	}
	return resp.Data, nil
}

// User is the identity record the API reports for repository users.
type User struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// DisplayName resolves a human-readable name for the user, falling back from
// the explicit name to the username to the raw user id.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if u.Username != "" {
		return u.Username
	}
	return u.UserID
}

// Group is a user group in the repository.
type Group struct {
	GroupID   string   `json:"group_id"`
	GroupName string   `json:"group_name"`
	Owner     string   `json:"owner"`
	Members   []string `json:"members"`
}

// Upload is the container metadata an entry belongs to, including authorship.
type Upload struct {
	UploadID         string   `json:"upload_id"`
	UploadName       string   `json:"upload_name"`
	MainAuthor       string   `json:"main_author"`
	Coauthors        []string `json:"coauthors"`
	CoauthorGroups   []string `json:"coauthor_groups"`
	UploadCreateTime string   `json:"upload_create_time"`
	Published        bool     `json:"published"`
	License          string   `json:"license"`
}

// Me returns information about the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	raw, err := c.Request(ctx, http.MethodGet, "users/me", nil, nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(unwrapData(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	return &user, nil
}

// UserByID looks up a user by their id.
func (c *Client) UserByID(ctx context.Context, userID string) (*User, error) {
	raw, err := c.Request(ctx, http.MethodGet, "users/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(unwrapData(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	return &user, nil
}

// UserByEmail looks up a user by email address. Returns nil without error
// when no user matches.
func (c *Client) UserByEmail(ctx context.Context, email string) (*User, error) {
	params := url.Values{"email": {email}}
	raw, err := c.Request(ctx, http.MethodGet, "users", params, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []User `json:"data"`
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse user list response: %w", err)
		}
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return &resp.Data[0], nil
}

// Groups returns all groups accessible to the authenticated user.
func (c *Client) Groups(ctx context.Context, pageSize int) ([]Group, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	params := url.Values{"page_size": {fmt.Sprintf("%d", pageSize)}}
	raw, err := c.Request(ctx, http.MethodGet, "groups", params, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []Group `json:"data"`
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse group list response: %w", err)
		}
	}
	return resp.Data, nil
}

// GroupDetails returns a single group by id.
func (c *Client) GroupDetails(ctx context.Context, groupID string) (*Group, error) {
	raw, err := c.Request(ctx, http.MethodGet, "groups/"+groupID, nil, nil)
	if err != nil {
		return nil, err
	}
	var group Group
	if err := json.Unmarshal(unwrapData(raw), &group); err != nil {
		return nil, fmt.Errorf("failed to parse group response: %w", err)
	}
	return &group, nil
}

// CreateGroup creates a new group with the given members.
func (c *Client) CreateGroup(ctx context.Context, groupName string, members []string) (*Group, error) {
	payload := map[string]interface{}{"group_name": groupName}
	if len(members) > 0 {
		payload["members"] = members
	}
	raw, err := c.Request(ctx, http.MethodPost, "groups", nil, payload)
	if err != nil {
		return nil, err
	}
	var group Group
	if err := json.Unmarshal(unwrapData(raw), &group); err != nil {
		return nil, fmt.Errorf("failed to parse group response: %w", err)
	}
	return &group, nil
}

// UpdateGroupMembers replaces the complete member list of a group.
func (c *Client) UpdateGroupMembers(ctx context.Context, groupID string, members []string) (*Group, error) {
	payload := map[string]interface{}{"members": members}
	raw, err := c.Request(ctx, http.MethodPost, "groups/"+groupID+"/edit", nil, payload)
	if err != nil {
		return nil, err
	}
	var group Group
	if err := json.Unmarshal(unwrapData(raw), &group); err != nil {
		return nil, fmt.Errorf("failed to parse group response: %w", err)
	}
	return &group, nil
}

// DeleteGroup deletes a group.
func (c *Client) DeleteGroup(ctx context.Context, groupID string) error {
	_, err := c.Request(ctx, http.MethodDelete, "groups/"+groupID, nil, nil)
	return err
}

// UploadByID returns the metadata of a single upload.
func (c *Client) UploadByID(ctx context.Context, uploadID string) (*Upload, error) {
	raw, err := c.Request(ctx, http.MethodGet, "uploads/"+uploadID, nil, nil)
	if err != nil {
		return nil, err
	}
	var upload Upload
	if err := json.Unmarshal(unwrapData(raw), &upload); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}
	return &upload, nil
}

// unwrapData peels off the {"data": ...} envelope some endpoints use.
// Endpoints that return the resource directly pass through unchanged.
func unwrapData(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return json.RawMessage("{}")
	}
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Data) > 0 {
		return wrapper.Data
	}
	return raw
}
