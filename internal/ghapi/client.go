// Package ghapi is the HTTP client core for the GitHub REST surface
// the acquisition subsystem consumes: releases, repo info, branches,
// tags, workflow runs, run artifacts, the artifact-download redirect
// and the rate-limit probe.
package ghapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/laerdal/simimager/internal/auth"
	"github.com/laerdal/simimager/internal/safety"
)

const (
	// DefaultBaseURL is the production API endpoint; tests override it.
	DefaultBaseURL = "https://api.github.com"
	// DefaultRawBaseURL serves raw file content for a branch or tag.
	DefaultRawBaseURL = "https://raw.githubusercontent.com"

	// UserAgent is the stable identification header on every request.
	UserAgent = "simimager/1.0"

	apiVersion = "2022-11-28"
	apiTimeout = 30 * time.Second

	// Metadata responses are JSON documents; anything bigger than this
	// is not a response we want to buffer.
	maxMetadataBytes int64 = 32 * 1024 * 1024
)

// Client issues authenticated requests against the GitHub API with
// rate-limit inspection and, for the artifact endpoint, manual
// redirect handling.
type Client struct {
	baseURL    string
	rawBaseURL string
	tokens     auth.TokenSource
	httpClient *http.Client
	noRedirect *http.Client
	logger     *slog.Logger

	// OnRateLimited is invoked whenever a response reports zero
	// remaining quota, in addition to the RateLimitError return.
	OnRateLimited func(reset time.Time)
}

// NewClient creates an API client. tokens may be nil for a fully
// unauthenticated client; public endpoints still work.
func NewClient(tokens auth.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	noRedirect := safety.NewHTTPClient(apiTimeout)
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{
		baseURL:    DefaultBaseURL,
		rawBaseURL: DefaultRawBaseURL,
		tokens:     tokens,
		httpClient: safety.NewHTTPClient(apiTimeout),
		noRedirect: noRedirect,
		logger:     logger,
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
}

// BaseURL returns the configured API endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// IsAuthenticated reports whether a bearer token is currently held.
func (c *Client) IsAuthenticated() bool {
	return auth.IsAuthenticated(c.tokens)
}

// NewRequest builds a request with the standard identification and
// Accept headers. The Authorization header is attached only when a
// token is present; absence of a token is not an error.
func (c *Client) NewRequest(ctx context.Context, method, rawurl string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

// IsGitHubHost reports whether the URL belongs to GitHub itself.
// Redirect targets outside GitHub (blob storage) are self-authenticating
// via signed query parameters and must NOT receive the bearer token.
func IsGitHubHost(u *url.URL) bool {
	host := u.Hostname()
	return host == "github.com" ||
		strings.HasSuffix(host, ".github.com") ||
		host == "githubusercontent.com" ||
		strings.HasSuffix(host, ".githubusercontent.com")
}

// checkRateLimit inspects the quota headers present on every API
// response. Exhausted quota yields a RateLimitError carrying the reset
// timestamp.
func (c *Client) checkRateLimit(resp *http.Response) *RateLimitError {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	limitStr := resp.Header.Get("X-RateLimit-Limit")
	if remaining == "" || limitStr == "" {
		return nil
	}

	rem, err := strconv.Atoi(remaining)
	if err != nil {
		return nil
	}
	limit, _ := strconv.Atoi(limitStr)
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	reset := time.Unix(resetUnix, 0)

	if rem < 10 {
		c.logger.Warn("github rate limit low", "remaining", rem, "limit", limit)
	}
	if rem == 0 {
		c.logger.Warn("github rate limit exceeded", "reset", reset)
		if c.OnRateLimited != nil {
			c.OnRateLimited(reset)
		}
		return &RateLimitError{Reset: reset, Limit: limit}
	}
	return nil
}

// getJSON fetches a metadata endpoint and decodes the body into out.
// owner/repo annotate 404 responses; pass empty strings for endpoints
// without repository context.
func (c *Client) getJSON(ctx context.Context, rawurl, owner, repo string, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, rawurl)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github api request failed: %w", err)
	}
	defer resp.Body.Close()

	rateErr := c.checkRateLimit(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusForbidden && rateErr != nil {
			return rateErr
		}
		if resp.StatusCode == http.StatusNotFound && owner != "" {
			return &NotFoundError{Owner: owner, Repo: repo}
		}
		body, _ := safety.ReadAllWithLimit(resp.Body, 4096)
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	data, err := safety.ReadAllWithLimit(resp.Body, maxMetadataBytes)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid JSON response from github: %w", err)
	}
	return nil
}

// ListReleases returns all releases for a repository, newest first in
// API order.
func (c *Client) ListReleases(ctx context.Context, owner, repo string) ([]Release, error) {
	urlStr := fmt.Sprintf("%s/repos/%s/%s/releases", c.baseURL, owner, repo)
	var releases []Release
	if err := c.getJSON(ctx, urlStr, owner, repo, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// GetRepo fetches repository metadata, notably the default branch.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	urlStr := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, owner, repo)
	var r Repo
	if err := c.getJSON(ctx, urlStr, owner, repo, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListBranches returns branch names. per_page=100 avoids missing
// branches on repositories with many of them (API default is 30).
func (c *Client) ListBranches(ctx context.Context, owner, repo string) ([]string, error) {
	urlStr := fmt.Sprintf("%s/repos/%s/%s/branches?per_page=100", c.baseURL, owner, repo)
	var branches []Branch
	if err := c.getJSON(ctx, urlStr, owner, repo, &branches); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	return names, nil
}

// ListTags returns tag names, per_page=100 like ListBranches.
func (c *Client) ListTags(ctx context.Context, owner, repo string) ([]string, error) {
	urlStr := fmt.Sprintf("%s/repos/%s/%s/tags?per_page=100", c.baseURL, owner, repo)
	var tags []Tag
	if err := c.getJSON(ctx, urlStr, owner, repo, &tags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names, nil
}

// ListWorkflowRuns returns workflow runs, optionally filtered by
// branch and status.
func (c *Client) ListWorkflowRuns(ctx context.Context, owner, repo, branch, status string, perPage int) ([]WorkflowRun, error) {
	if perPage <= 0 {
		perPage = 30
	}
	urlStr := fmt.Sprintf("%s/repos/%s/%s/actions/runs?per_page=%d", c.baseURL, owner, repo, perPage)
	if branch != "" {
		urlStr += "&branch=" + url.QueryEscape(branch)
	}
	if status != "" {
		urlStr += "&status=" + url.QueryEscape(status)
	}
	var resp workflowRunsResponse
	if err := c.getJSON(ctx, urlStr, owner, repo, &resp); err != nil {
		return nil, err
	}
	return resp.WorkflowRuns, nil
}

// ListRunArtifacts returns the artifacts produced by one workflow run.
func (c *Client) ListRunArtifacts(ctx context.Context, owner, repo string, runID int64) ([]Artifact, error) {
	urlStr := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d/artifacts", c.baseURL, owner, repo, runID)
	var resp artifactsResponse
	if err := c.getJSON(ctx, urlStr, owner, repo, &resp); err != nil {
		return nil, err
	}
	return resp.Artifacts, nil
}

// CheckRateLimit queries the current quota. This endpoint does not
// count against the quota itself.
func (c *Client) CheckRateLimit(ctx context.Context) (*RateLimit, error) {
	urlStr := c.baseURL + "/rate_limit"
	var resp rateLimitResponse
	if err := c.getJSON(ctx, urlStr, "", "", &resp); err != nil {
		return nil, err
	}
	return &RateLimit{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		Reset:     time.Unix(resp.Rate.Reset, 0),
	}, nil
}

// ArtifactZipURL is the API endpoint that redirects to the artifact's
// blob-storage location. Requesting it requires authentication.
func (c *Client) ArtifactZipURL(owner, repo string, artifactID int64) string {
	return fmt.Sprintf("%s/repos/%s/%s/actions/artifacts/%d/zip", c.baseURL, owner, repo, artifactID)
}

// AssetURL is the API endpoint for a release asset; works for private
// repositories where browser_download_url does not.
func (c *Client) AssetURL(owner, repo string, assetID int64) string {
	return fmt.Sprintf("%s/repos/%s/%s/releases/assets/%d", c.baseURL, owner, repo, assetID)
}

// RawFileURL addresses a file on a branch or tag via the raw host.
func (c *Client) RawFileURL(owner, repo, ref, path string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", c.rawBaseURL, owner, repo, ref, strings.TrimPrefix(path, "/"))
}

// ResolveArtifactRedirect requests the artifact download endpoint with
// redirect following disabled and returns the Location target. The
// endpoint always answers with a redirect to a time-limited pre-signed
// blob URL which must be fetched without the bearer token, which is
// why auto-follow cannot be used here.
func (c *Client) ResolveArtifactRedirect(ctx context.Context, owner, repo string, artifactID int64) (string, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, c.ArtifactZipURL(owner, repo, artifactID))
	if err != nil {
		return "", err
	}

	resp, err := c.noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("artifact redirect request failed: %w", err)
	}
	defer resp.Body.Close()

	rateErr := c.checkRateLimit(resp)

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		loc := resp.Header.Get("Location")
		if _, err := safety.ValidateHTTPURL(loc); err != nil {
			return "", fmt.Errorf("invalid artifact redirect target: %w", err)
		}
		return loc, nil
	case http.StatusForbidden:
		if rateErr != nil {
			return "", rateErr
		}
	case http.StatusNotFound:
		return "", &NotFoundError{Owner: owner, Repo: repo}
	}

	body, _ := safety.ReadAllWithLimit(resp.Body, 4096)
	return "", &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
}
