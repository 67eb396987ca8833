package sync

import (
	"strings"
	"testing"
)

func TestExtractPlainTextFallbackStripsHeadersAndControlBytes(t *testing.T) {
	raw := "Subject: hi\r\nFrom: a@b.com\r\n\r\nHello \x01world\r\n"
	got := extractPlainTextFallback([]byte(raw))
	if strings.Contains(got, "Subject:") {
		t.Fatalf("expected headers to be excluded, got %q", got)
	}
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "world") {
		t.Fatalf("expected body text to survive, got %q", got)
	}
	if strings.ContainsRune(got, '\x01') {
		t.Fatalf("expected non-printable bytes to be stripped, got %q", got)
	}
}

func TestExtractPlainTextFallbackNoBodySeparator(t *testing.T) {
	if got := extractPlainTextFallback([]byte("just one line, no blank line")); got != "" {
		t.Fatalf("expected empty string when no header/body separator is found, got %q", got)
	}
}

func TestExtractReferencesParsesMessageIDList(t *testing.T) {
	raw := "References: <a@x> <b@y>\r\n <c@z>\r\n\r\nbody\r\n"
	got := extractReferences([]byte(raw))
	want := []string{"<a@x>", "<b@y>", "<c@z>"}
	if len(got) != len(want) {
		t.Fatalf("extractReferences = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("extractReferences[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractReferencesNoHeader(t *testing.T) {
	raw := "Subject: hi\r\n\r\nbody\r\n"
	if got := extractReferences([]byte(raw)); got != nil {
		t.Fatalf("expected nil when References header is absent, got %v", got)
	}
}

func TestParseMessageBodyInternalPlainText(t *testing.T) {
	raw := "From: a@b.com\r\nTo: c@d.com\r\nSubject: test\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"Hello, this is the body.\r\n"
	result := parseMessageBodyInternal([]byte(raw))
	if !strings.Contains(result.BodyText, "Hello, this is the body.") {
		t.Fatalf("expected plain text body to be extracted, got %q", result.BodyText)
	}
	if result.HasAttachments {
		t.Fatalf("expected no attachments for a single-part plain text message")
	}
}

func TestParseMessageBodyInternalMultipartWithAttachment(t *testing.T) {
	raw := "From: a@b.com\r\nTo: c@d.com\r\nSubject: test\r\n" +
		"Content-Type: multipart/mixed; boundary=BOUND\r\n\r\n" +
		"--BOUND\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"Here is the file.\r\n" +
		"--BOUND\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n\r\n" +
		"%PDF-1.4 fake content\r\n" +
		"--BOUND--\r\n"
	result := parseMessageBodyInternal([]byte(raw))
	if !strings.Contains(result.BodyText, "Here is the file.") {
		t.Fatalf("expected plain text part to be extracted, got %q", result.BodyText)
	}
	if !result.HasAttachments {
		t.Fatalf("expected HasAttachments to be true")
	}
	if len(result.Attachments) != 1 || result.Attachments[0].Filename != "report.pdf" {
		t.Fatalf("expected one attachment named report.pdf, got %+v", result.Attachments)
	}
}

func TestParseMessageBodyInternalFallsBackOnMalformedInput(t *testing.T) {
	raw := "not a valid mime message at all, no headers here\r\n\r\njust text"
	result := parseMessageBodyInternal([]byte(raw))
	if result.BodyText == "" {
		t.Fatalf("expected a non-empty fallback body text")
	}
}
