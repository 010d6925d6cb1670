package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GitHubConfig configures the issue client.
type GitHubConfig struct {
	BaseURL   string
	Token     string
	RepoOwner string
	RepoName  string
	Timeout   time.Duration
}

// IssueRequest is the body of a create-issue call.
type IssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// Issue is the subset of a GitHub issue the service reads back.
type Issue struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

// GitHubClient creates issues in a single repository via the REST API.
type GitHubClient struct {
	client jsonClient
	owner  string
	repo   string
}

// NewGitHubClient constructs a client bound to owner/repo.
func NewGitHubClient(cfg GitHubConfig) *GitHubClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	headers := make(http.Header)
	headers.Set("Accept", "application/vnd.github+json")
	headers.Set("X-GitHub-Api-Version", "2022-11-28")
	if cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+cfg.Token)
	}
	return &GitHubClient{
		client: jsonClient{
			name:       "github",
			baseURL:    strings.TrimRight(baseURL, "/"),
			headers:    headers,
			httpClient: &http.Client{Timeout: cfg.Timeout},
		},
		owner: cfg.RepoOwner,
		repo:  cfg.RepoName,
	}
}

// Repository returns "owner/name".
func (c *GitHubClient) Repository() string {
	return c.owner + "/" + c.repo
}

// CheckAccess verifies the token can see the repository.
func (c *GitHubClient) CheckAccess(ctx context.Context) error {
	if c.owner == "" || c.repo == "" {
		return errors.New("github repository not configured")
	}
	if err := c.client.do(ctx, http.MethodGet, c.repoPath(), nil, nil, http.StatusOK); err != nil {
		return fmt.Errorf("access %s: %w", c.Repository(), err)
	}
	return nil
}

// CreateIssue opens an issue and returns it as created.
func (c *GitHubClient) CreateIssue(ctx context.Context, req IssueRequest) (Issue, error) {
	if strings.TrimSpace(req.Title) == "" {
		return Issue{}, errors.New("issue title is required")
	}
	var issue Issue
	if err := c.client.do(ctx, http.MethodPost, c.repoPath()+"/issues", req, &issue, http.StatusCreated); err != nil {
		return Issue{}, fmt.Errorf("create issue in %s: %w", c.Repository(), err)
	}
	if issue.HTMLURL == "" {
		return Issue{}, fmt.Errorf("create issue in %s: response missing html_url", c.Repository())
	}
	return issue, nil
}

func (c *GitHubClient) repoPath() string {
	return "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo)
}
