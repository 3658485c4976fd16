package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultAPIURL = "https://api.github.com"
	acceptHeader  = "application/vnd.github+json"
	pagesBranch   = "main"
	pagesPath     = "/"
	maxErrorBody  = 2048
)

// HTTPClient abstracts HTTP calls for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is returned when GitHub answers with an unexpected status.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to the GitHub REST API on behalf of a single owner.
type Client struct {
	apiURL     string
	owner      string
	token      string
	httpClient HTTPClient
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURL sets the GitHub API base URL.
func WithAPIURL(url string) Option {
	return func(c *Client) { c.apiURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a GitHub client for owner authenticated with token.
func NewClient(owner, token string, opts ...Option) *Client {
	c := &Client{
		apiURL:     defaultAPIURL,
		owner:      owner,
		token:      token,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Owner returns the account that owns created repositories.
func (c *Client) Owner() string { return c.owner }

type createRepoRequest struct {
	Name     string `json:"name"`
	Private  bool   `json:"private"`
	AutoInit bool   `json:"auto_init"`
}

type pagesSource struct {
	Branch string `json:"branch"`
	Path   string `json:"path"`
}

type enablePagesRequest struct {
	Source pagesSource `json:"source"`
}

// CreateRepo creates a public repository initialised with a first commit
// so that it can be cloned immediately.
func (c *Client) CreateRepo(ctx context.Context, name string) error {
	status, body, err := c.post(ctx, "/user/repos", createRepoRequest{Name: name, Private: false, AutoInit: true})
	if err != nil {
		return fmt.Errorf("creating repo %s: %w", name, err)
	}
	if status != http.StatusCreated {
		return &APIError{Op: "GitHub repo creation failed", StatusCode: status, Body: body}
	}
	return nil
}

// EnablePages publishes the repository's main branch root on GitHub Pages.
// A repository whose Pages site already exists is treated as enabled.
func (c *Client) EnablePages(ctx context.Context, repo string) error {
	path := fmt.Sprintf("/repos/%s/%s/pages", c.owner, repo)
	status, body, err := c.post(ctx, path, enablePagesRequest{Source: pagesSource{Branch: pagesBranch, Path: pagesPath}})
	if err != nil {
		return fmt.Errorf("enabling pages for %s: %w", repo, err)
	}
	switch status {
	case http.StatusCreated, http.StatusNoContent, http.StatusConflict:
		return nil
	default:
		return &APIError{Op: "GitHub Pages setup failed", StatusCode: status, Body: body}
	}
}

// RepoURL returns the browser URL of repo.
func (c *Client) RepoURL(repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s", c.owner, repo)
}

// PagesURL returns the GitHub Pages URL of repo.
func (c *Client) PagesURL(repo string) string {
	return fmt.Sprintf("https://%s.github.io/%s/", c.owner, repo)
}

// CloneURL returns an authenticated HTTPS clone URL. It embeds the token and
// must never be logged; use Redact on any text derived from it.
func (c *Client) CloneURL(repo string) string {
	return fmt.Sprintf("https://%s:%s@github.com/%s/%s.git", c.owner, c.token, c.owner, repo)
}

// Redact removes the client's token from s.
func (c *Client) Redact(s string) string {
	if c.token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.token, "***")
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, c.Redact(strings.TrimSpace(string(body))), nil
}
