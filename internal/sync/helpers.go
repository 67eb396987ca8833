package sync

import (
	"strings"

	"github.com/hkdb/mailengine/internal/cache"
)

// classifyFolder maps a mailbox's SPECIAL-USE attributes (RFC 6154), and
// failing that its path, onto the cache's FolderType.
func classifyFolder(path string, attrs []string) cache.FolderType {
	for _, a := range attrs {
		switch strings.ToLower(a) {
		case "\\inbox":
			return cache.FolderInbox
		case "\\sent":
			return cache.FolderSent
		case "\\drafts":
			return cache.FolderDrafts
		case "\\trash":
			return cache.FolderTrash
		case "\\archive":
			return cache.FolderArchive
		}
	}

	if strings.ToUpper(path) == "INBOX" {
		return cache.FolderInbox
	}

	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "sent"):
		return cache.FolderSent
	case strings.Contains(lower, "draft"):
		return cache.FolderDrafts
	case strings.Contains(lower, "trash") || strings.Contains(lower, "deleted"):
		return cache.FolderTrash
	case strings.Contains(lower, "archive"):
		return cache.FolderArchive
	default:
		return cache.FolderCustom
	}
}

// leafName returns the last path segment of a hierarchical mailbox name,
// e.g. "INBOX/Work/Clients" with delimiter "/" yields "Clients".
func leafName(path, delimiter string) string {
	if delimiter == "" {
		return path
	}
	parts := strings.Split(path, delimiter)
	return parts[len(parts)-1]
}

// generateSnippet builds a preview snippet from a plain-text body,
// skipping quoted lines and collapsing whitespace.
func generateSnippet(body string, maxLen int) string {
	lines := strings.Split(body, "\n")
	var parts []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, ">") {
			parts = append(parts, line)
		}
	}
	text := strings.Join(parts, " ")
	if len(text) > maxLen {
		text = text[:maxLen] + "..."
	}
	return text
}
