package sync

import (
	"strings"
	"testing"

	"github.com/hkdb/mailengine/internal/cache"
)

func TestClassifyFolderBySpecialUse(t *testing.T) {
	cases := []struct {
		path  string
		attrs []string
		want  cache.FolderType
	}{
		{"Any/Path", []string{"\\Inbox"}, cache.FolderInbox},
		{"Any/Path", []string{"\\Sent"}, cache.FolderSent},
		{"Any/Path", []string{"\\Drafts"}, cache.FolderDrafts},
		{"Any/Path", []string{"\\Trash"}, cache.FolderTrash},
		{"Any/Path", []string{"\\Archive"}, cache.FolderArchive},
	}
	for _, tc := range cases {
		if got := classifyFolder(tc.path, tc.attrs); got != tc.want {
			t.Errorf("classifyFolder(%q, %v) = %v, want %v", tc.path, tc.attrs, got, tc.want)
		}
	}
}

func TestClassifyFolderFallsBackToPathHeuristics(t *testing.T) {
	cases := []struct {
		path string
		want cache.FolderType
	}{
		{"INBOX", cache.FolderInbox},
		{"Sent Items", cache.FolderSent},
		{"Drafts", cache.FolderDrafts},
		{"Deleted Items", cache.FolderTrash},
		{"Archive/2024", cache.FolderArchive},
		{"Work/Clients", cache.FolderCustom},
	}
	for _, tc := range cases {
		if got := classifyFolder(tc.path, nil); got != tc.want {
			t.Errorf("classifyFolder(%q, nil) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestLeafName(t *testing.T) {
	if got := leafName("INBOX/Work/Clients", "/"); got != "Clients" {
		t.Fatalf("leafName = %q, want %q", got, "Clients")
	}
	if got := leafName("INBOX", "/"); got != "INBOX" {
		t.Fatalf("leafName = %q, want %q", got, "INBOX")
	}
	if got := leafName("INBOX.Work", ""); got != "INBOX.Work" {
		t.Fatalf("leafName with empty delimiter should return the full path, got %q", got)
	}
}

func TestGenerateSnippetSkipsQuotedLinesAndTruncates(t *testing.T) {
	body := "Hi there,\n> quoted reply text\nThanks for the update.\n\nBest,\nAda"
	got := generateSnippet(body, 1000)
	if strings.Contains(got, "quoted reply") {
		t.Fatalf("expected quoted lines to be stripped, got %q", got)
	}
	if !strings.Contains(got, "Hi there,") || !strings.Contains(got, "Thanks for the update.") {
		t.Fatalf("expected non-quoted lines to survive, got %q", got)
	}

	long := strings.Repeat("word ", 100)
	truncated := generateSnippet(long, 20)
	if len(truncated) != 23 || !strings.HasSuffix(truncated, "...") {
		t.Fatalf("expected truncation to 20 chars plus ellipsis, got %q (len %d)", truncated, len(truncated))
	}
}
