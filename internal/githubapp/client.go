// Package githubapp talks to the GitHub REST API as a GitHub App:
// installation discovery, short-lived installation tokens for clones, and
// pull-request operations. Errors come back domain-shaped, distinguishing
// auth from network from merge conflicts, never as raw status codes.
package githubapp

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/djinnbot/djinnbot/internal/core"
)

const defaultBaseURL = "https://api.github.com"

// Client is a GitHub App API client. Installation tokens are cached until
// shortly before expiry.
type Client struct {
	appID   string
	key     *rsa.PrivateKey
	baseURL string
	http    *http.Client

	mu     sync.Mutex
	tokens map[int64]cachedToken
}

type cachedToken struct {
	token   string
	expires time.Time
}

// New creates a GitHub App client from the App id and its PEM private key.
func New(appID string, privateKeyPEM []byte) (*Client, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Client{
		appID:   appID,
		key:     key,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  make(map[int64]cachedToken),
	}, nil
}

// WithBaseURL points the client at a different API root, used by tests and
// GitHub Enterprise installs.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimRight(url, "/")
	return c
}

// InstallationToken returns a token for the installation, fetching a fresh
// one when the cached token is within a minute of expiry.
func (c *Client) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	c.mu.Lock()
	if cached, ok := c.tokens[installationID]; ok && time.Until(cached.expires) > time.Minute {
		c.mu.Unlock()
		return cached.token, nil
	}
	c.mu.Unlock()

	jwt, err := appJWT(c.appID, c.key, time.Now())
	if err != nil {
		return "", core.ErrInternal("signing app jwt", err)
	}
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	err = c.do(ctx, http.MethodPost,
		fmt.Sprintf("/app/installations/%d/access_tokens", installationID),
		"Bearer "+jwt, nil, &resp)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.tokens[installationID] = cachedToken{token: resp.Token, expires: resp.ExpiresAt}
	c.mu.Unlock()
	return resp.Token, nil
}

// DiscoverInstallation finds the App installation that can see owner/repo by
// probing the repository with each installation's token; the first 200 wins.
func (c *Client) DiscoverInstallation(ctx context.Context, owner, repo string) (int64, error) {
	jwt, err := appJWT(c.appID, c.key, time.Now())
	if err != nil {
		return 0, core.ErrInternal("signing app jwt", err)
	}
	var installations []struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/app/installations", "Bearer "+jwt, nil, &installations); err != nil {
		return 0, err
	}

	for _, inst := range installations {
		token, err := c.InstallationToken(ctx, inst.ID)
		if err != nil {
			continue
		}
		probe := c.do(ctx, http.MethodGet,
			fmt.Sprintf("/repos/%s/%s", owner, repo), "token "+token, nil, nil)
		if probe == nil {
			return inst.ID, nil
		}
	}
	noInstall := core.ErrAuth(fmt.Sprintf("no app installation can access %s/%s", owner, repo))
	noInstall.Code = core.CodeNoInstallation
	return 0, noInstall
}

// CloneURL builds an authenticated HTTPS clone URL for the installation.
func CloneURL(owner, repo, token string) string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, owner, repo)
}

// PullRequest is the subset of PR fields the orchestrator consumes.
type PullRequest struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Draft     bool   `json:"draft"`
	Merged    bool   `json:"merged"`
	Mergeable *bool  `json:"mergeable"`
	HTMLURL   string `json:"html_url"`
	Head      struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// CreatePullRequestOptions carries the PR creation payload.
type CreatePullRequestOptions struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// CreatePullRequest opens a PR on owner/repo as the installation.
func (c *Client) CreatePullRequest(ctx context.Context, installationID int64, owner, repo string, opts CreatePullRequestOptions) (*PullRequest, error) {
	token, err := c.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"title": opts.Title,
		"body":  opts.Body,
		"head":  opts.Head,
		"base":  opts.Base,
		"draft": opts.Draft,
	}
	var pr PullRequest
	err = c.do(ctx, http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/pulls", owner, repo), "token "+token, payload, &pr)
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// GetPullRequest fetches one PR.
func (c *Client) GetPullRequest(ctx context.Context, installationID int64, owner, repo string, number int) (*PullRequest, error) {
	token, err := c.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	var pr PullRequest
	err = c.do(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number), "token "+token, nil, &pr)
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// Review is one PR review verdict.
type Review struct {
	State string `json:"state"`
	User  struct {
		Login string `json:"login"`
	} `json:"user"`
}

// ListReviews returns the reviews of a PR.
func (c *Client) ListReviews(ctx context.Context, installationID int64, owner, repo string, number int) ([]Review, error) {
	token, err := c.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	var reviews []Review
	err = c.do(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, number), "token "+token, nil, &reviews)
	return reviews, err
}

// CheckRun is one CI check attached to a commit.
type CheckRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// ListCheckRuns returns the check runs for a commit SHA.
func (c *Client) ListCheckRuns(ctx context.Context, installationID int64, owner, repo, sha string) ([]CheckRun, error) {
	token, err := c.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		CheckRuns []CheckRun `json:"check_runs"`
	}
	err = c.do(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/commits/%s/check-runs", owner, repo, sha), "token "+token, nil, &resp)
	return resp.CheckRuns, err
}

// do executes one API call, decoding the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path, authorization string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return core.ErrInternal("encoding request", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return core.ErrInternal("building request", err)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return mapTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return mapAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.ErrInternal("decoding response", err)
	}
	return nil
}

func mapTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrTimeout("github api timed out").WithCause(err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return core.ErrNetwork("github api unreachable: dns failure").WithCause(err)
	}
	return core.ErrNetwork("github api unreachable").WithCause(err)
}

func mapAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.ErrAuth("github authentication failed: " + msg)
	case resp.StatusCode == http.StatusNotFound:
		return core.ErrNotFound("github resource", msg)
	case resp.StatusCode == http.StatusConflict,
		strings.Contains(strings.ToLower(msg), "not a fast forward"),
		strings.Contains(strings.ToLower(msg), "pull request already exists"):
		return core.ErrConflict(core.CodeMergeRejected, msg)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return core.ErrValidation("GITHUB_REJECTED", msg)
	default:
		return core.ErrInternal(fmt.Sprintf("github api %s: %s", resp.Status, msg), nil)
	}
}
