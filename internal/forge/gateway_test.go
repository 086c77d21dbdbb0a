package forge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
)

func TestCreateIssue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/widgets/issues" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var req CreateIssueRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Issue{Number: 1, Title: req.Title, State: "open"})
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURL(server.URL))

	issue, err := client.CreateIssue(context.Background(), "acme/widgets", CreateIssueRequest{Title: "[AUTO][task:1] Fix it"})
	if err != nil {
		t.Fatalf("CreateIssue returned error: %v", err)
	}

	if issue.Number != 1 || issue.Title != "[AUTO][task:1] Fix it" {
		t.Errorf("unexpected issue: %+v", issue)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURL(server.URL))

	_, err := client.GetIssue(context.Background(), "acme/widgets", 99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateIssueUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient("bad-tok", WithBaseURL(server.URL))

	state := "closed"
	_, err := client.UpdateIssue(context.Background(), "acme/widgets", 1, UpdateIssueRequest{State: &state})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRateLimitedRequestRetriesOnceThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusForbidden)

			return
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Issue{Number: 5, State: "open"})
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURL(server.URL))

	issue, err := client.GetIssue(context.Background(), "acme/widgets", 5)
	if err != nil {
		t.Fatalf("GetIssue returned error: %v", err)
	}

	if issue.Number != 5 {
		t.Errorf("issue.Number = %d, want 5", issue.Number)
	}

	if calls.Load() != 2 {
		t.Errorf("expected exactly 2 HTTP calls (1 initial + 1 retry), got %d", calls.Load())
	}
}

func TestRateLimitedRequestExhaustsRetryAndFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURL(server.URL))

	_, err := client.GetIssue(context.Background(), "acme/widgets", 5)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestListIssuesPaginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")

		if page == "1" {
			w.Header().Set("Link", `<`+r.Host+`/repos/acme/widgets/issues?page=2>; rel="next"`)
			_ = json.NewEncoder(w).Encode([]Issue{{Number: 1}})

			return
		}

		_ = json.NewEncoder(w).Encode([]Issue{{Number: 2}})
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURL(server.URL))

	issues, err := client.ListIssues(context.Background(), "acme/widgets", ListIssuesParams{State: "all"})
	if err != nil {
		t.Fatalf("ListIssues returned error: %v", err)
	}

	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(issues))
	}
}

func TestFindIssueByTitleSubstring(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]Issue{
			{Number: 1, Title: "Unrelated issue"},
			{Number: 2, Title: "[AUTO][task:abc] Fix the widget"},
		})
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURL(server.URL))

	issue, found, err := client.FindIssueByTitleSubstring(context.Background(), "acme/widgets", "[AUTO][task:abc]")
	if err != nil {
		t.Fatalf("FindIssueByTitleSubstring returned error: %v", err)
	}

	if !found || issue.Number != 2 {
		t.Errorf("expected to find issue 2, got found=%v issue=%+v", found, issue)
	}
}

func TestIssueNumberIsStringifiedInPath(t *testing.T) {
	if got := issuePath("acme/widgets", 42); got != "/repos/acme/widgets/issues/"+strconv.Itoa(42) {
		t.Errorf("issuePath() = %q", got)
	}
}
