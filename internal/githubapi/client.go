// Package githubapi reports failing test runs as GitHub issues and shares
// generated test files as gists.
package githubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skeehn/testpilot/internal/logging"
)

const defaultBaseURL = "https://api.github.com"

// DefaultIssueLabels mark issues created by automated runs.
var DefaultIssueLabels = []string{"test-failure", "testpilot-auto"}

// RequestError reports a failed GitHub API call. Calls are not retried;
// failure to file a report never blocks the test pipeline.
type RequestError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("github %s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Client is a minimal GitHub REST v3 client.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.Get(logging.CategoryGitHub),
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(url string) { c.baseURL = strings.TrimRight(url, "/") }

// Issue is a created GitHub issue.
type Issue struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// Gist is a created GitHub gist.
type Gist struct {
	ID      string `json:"id"`
	HTMLURL string `json:"html_url"`
}

type issueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}

type gistRequest struct {
	Description string                  `json:"description"`
	Public      bool                    `json:"public"`
	Files       map[string]gistContent `json:"files"`
}

type gistContent struct {
	Content string `json:"content"`
}

// CreateIssue files a failure report against owner/repo. The default labels
// are always applied so automated issues stay filterable.
func (c *Client) CreateIssue(ctx context.Context, repo, title, body string) (*Issue, error) {
	if c.token == "" {
		return nil, &RequestError{Operation: "create issue", Body: "no GitHub token configured"}
	}
	if !strings.Contains(repo, "/") {
		return nil, &RequestError{Operation: "create issue", Body: fmt.Sprintf("repo %q must be owner/name", repo)}
	}

	req := issueRequest{Title: title, Body: body, Labels: DefaultIssueLabels}
	var issue Issue
	if err := c.post(ctx, "create issue", fmt.Sprintf("/repos/%s/issues", repo), req, &issue); err != nil {
		return nil, err
	}
	c.logger.Info("created issue #%d in %s", issue.Number, repo)
	return &issue, nil
}

// CreateGist uploads a generated test file as a secret gist and returns its
// URL for sharing.
func (c *Client) CreateGist(ctx context.Context, filename, content string) (*Gist, error) {
	if c.token == "" {
		return nil, &RequestError{Operation: "create gist", Body: "no GitHub token configured"}
	}

	req := gistRequest{
		Description: fmt.Sprintf("Failing tests from TestPilot (%s)", filename),
		Public:      false,
		Files: map[string]gistContent{
			filename: {Content: content},
		},
	}
	var gist Gist
	if err := c.post(ctx, "create gist", "/gists", req, &gist); err != nil {
		return nil, err
	}
	c.logger.Info("created gist %s", gist.ID)
	return &gist, nil
}

func (c *Client) post(ctx context.Context, operation, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return &RequestError{Operation: operation, Body: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &RequestError{Operation: operation, Body: err.Error()}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("%s: request failed: %v", operation, err)
		return &RequestError{Operation: operation, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Operation: operation, StatusCode: resp.StatusCode, Body: err.Error()}
	}

	if resp.StatusCode != http.StatusCreated {
		c.logger.Warn("%s: status %d", operation, resp.StatusCode)
		return &RequestError{Operation: operation, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &RequestError{Operation: operation, StatusCode: resp.StatusCode, Body: err.Error()}
	}
	return nil
}

// FailureIssueBody formats a pytest failure into an issue body.
func FailureIssueBody(sourceFile, testFile, trace string) string {
	var b strings.Builder
	b.WriteString("Automated test run failed.\n\n")
	fmt.Fprintf(&b, "**Source file:** `%s`\n", sourceFile)
	fmt.Fprintf(&b, "**Test file:** `%s`\n\n", testFile)
	b.WriteString("```\n")
	b.WriteString(strings.TrimSpace(trace))
	b.WriteString("\n```\n")
	return b.String()
}
