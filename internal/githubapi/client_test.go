package githubapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/issues" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		var req issueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if len(req.Labels) != 2 || req.Labels[0] != "test-failure" || req.Labels[1] != "testpilot-auto" {
			t.Errorf("labels = %v", req.Labels)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"number": 42, "html_url": "https://github.com/acme/widgets/issues/42"})
	}))
	defer srv.Close()

	c := NewClient("tok")
	c.SetBaseURL(srv.URL)
	issue, err := c.CreateIssue(context.Background(), "acme/widgets", "tests failed", "body")
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if issue.Number != 42 {
		t.Errorf("Number = %d", issue.Number)
	}
}

func TestCreateIssueRejectsBadRepo(t *testing.T) {
	c := NewClient("tok")
	_, err := c.CreateIssue(context.Background(), "not-a-repo", "t", "b")
	if err == nil {
		t.Fatal("expected error for repo without owner")
	}
}

func TestCreateIssueAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad")
	c.SetBaseURL(srv.URL)
	_, err := c.CreateIssue(context.Background(), "acme/widgets", "t", "b")
	rerr, ok := err.(*RequestError)
	if !ok {
		t.Fatalf("expected *RequestError, got %T", err)
	}
	if rerr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", rerr.StatusCode)
	}
}

func TestCreateGist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gists" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req gistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Public {
			t.Error("gist should be secret")
		}
		if !strings.Contains(req.Description, "test_calc.py") {
			t.Errorf("description = %q", req.Description)
		}
		if _, ok := req.Files["test_calc.py"]; !ok {
			t.Errorf("files = %v", req.Files)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "abc123", "html_url": "https://gist.github.com/abc123"})
	}))
	defer srv.Close()

	c := NewClient("tok")
	c.SetBaseURL(srv.URL)
	gist, err := c.CreateGist(context.Background(), "test_calc.py", "def test_x():\n    pass\n")
	if err != nil {
		t.Fatalf("CreateGist: %v", err)
	}
	if gist.ID != "abc123" {
		t.Errorf("ID = %q", gist.ID)
	}
}

func TestMissingToken(t *testing.T) {
	c := NewClient("")
	if _, err := c.CreateIssue(context.Background(), "a/b", "t", "b"); err == nil {
		t.Error("CreateIssue without token should fail")
	}
	if _, err := c.CreateGist(context.Background(), "f.py", "c"); err == nil {
		t.Error("CreateGist without token should fail")
	}
}

func TestFailureIssueBody(t *testing.T) {
	body := FailureIssueBody("calc.py", "test_calc.py", "FAILED test_add - AssertionError")
	for _, want := range []string{"calc.py", "test_calc.py", "```", "AssertionError"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}
