package refkey

import (
	"errors"
	"strings"
	"testing"
)

func TestForgeIssueKeyRoundTrip(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name   string
		repo   string
		number int
	}{
		{name: "simple repo", repo: "acme/widgets", number: 42},
		{name: "nested owner", repo: "acme-org/widgets-api", number: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := ForgeIssueKey(tt.repo, tt.number)

			repo, number, err := ParseForgeIssueKey(key)
			if err != nil {
				t.Fatalf("ParseForgeIssueKey(%q) returned error: %v", key, err)
			}

			if repo != tt.repo {
				t.Errorf("repo = %q, expected %q", repo, tt.repo)
			}

			if number != tt.number {
				t.Errorf("number = %d, expected %d", number, tt.number)
			}
		})
	}
}

func TestParseForgeIssueKeyErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "missing hash", key: "acme/widgets", wantErr: ErrForgeKeyMissingHash},
		{name: "missing slash", key: "widgets#42", wantErr: ErrForgeKeyMissingSlash},
		{name: "non-numeric issue number", key: "acme/widgets#abc", wantErr: ErrForgeKeyBadNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseForgeIssueKey(tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseForgeIssueKey(%q) error = %v, expected %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestSheetRecordKeyRoundTrip(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key := SheetRecordKey("app_tok", "tbl_123", "rec_456")

	appToken, tableID, recordID, err := ParseSheetRecordKey(key)
	if err != nil {
		t.Fatalf("ParseSheetRecordKey(%q) returned error: %v", key, err)
	}

	if appToken != "app_tok" || tableID != "tbl_123" || recordID != "rec_456" {
		t.Errorf("parsed (%q, %q, %q), expected (app_tok, tbl_123, rec_456)", appToken, tableID, recordID)
	}
}

func TestParseSheetRecordKeyMissingParts(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, _, _, err := ParseSheetRecordKey("app_tok:tbl_123")
	if !errors.Is(err, ErrSheetKeyMissingParts) {
		t.Errorf("expected ErrSheetKeyMissingParts, got %v", err)
	}
}

func TestFormatAndStripTitle(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	title := FormatTitle("task-123", "Fix the widget")
	expected := "[AUTO][task:task-123] Fix the widget"

	if title != expected {
		t.Errorf("FormatTitle() = %q, expected %q", title, expected)
	}

	taskID, bare, ok := ParseTitle(title)
	if !ok {
		t.Fatalf("ParseTitle(%q) returned ok=false", title)
	}

	if taskID != "task-123" {
		t.Errorf("taskID = %q, expected task-123", taskID)
	}

	if bare != "Fix the widget" {
		t.Errorf("bare = %q, expected %q", bare, "Fix the widget")
	}

	if stripped := StripTitle(title); stripped != "Fix the widget" {
		t.Errorf("StripTitle() = %q, expected %q", stripped, "Fix the widget")
	}
}

func TestStripTitleWithoutMarker(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	if got := StripTitle("Fix the widget"); got != "Fix the widget" {
		t.Errorf("StripTitle() = %q, expected unchanged title", got)
	}

	_, _, ok := ParseTitle("Fix the widget")
	if ok {
		t.Errorf("ParseTitle() on unmarked title returned ok=true")
	}
}

func TestAutoTitleSearchTerm(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	term := AutoTitleSearchTerm("task-123")

	title := FormatTitle("task-123", "Anything here")
	if !strings.Contains(title, term) {
		t.Errorf("search term %q not found in formatted title %q", term, title)
	}
}
