package sync

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"

	"github.com/hkdb/mailengine/internal/sanitize"
)

// Size limits enforced while parsing MIME bodies to bound memory use on
// hostile or malformed input.
const (
	maxPartSize          = 10 * 1024 * 1024 // per-part read cap
	maxInlineContentSize = 5 * 1024 * 1024  // inline image content kept in the cache row
	parseTimeout         = 10 * time.Second
)

// ParsedBody is the result of parsing one raw message into the fields the
// cache needs. Bodies have already passed through the sanitizer (§4.3):
// BodyHTML is safe to render as-is.
type ParsedBody struct {
	BodyText       string
	BodyHTML       string
	HasAttachments bool
	Attachments    []ParsedAttachment
}

// ParsedAttachment is one extracted MIME part destined for cache.Attachment.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Inline      bool
	Content     []byte // populated only for inline parts under maxInlineContentSize
	Size        int
}

// parseMessageBody parses raw with a timeout, falling back to a
// best-effort plain-text extraction if parsing hangs or fails outright
// (§4.3 malformed-input degrades-gracefully requirement).
func (c *Controller) parseMessageBody(raw []byte) *ParsedBody {
	done := make(chan *ParsedBody, 1)
	go func() { done <- parseMessageBodyInternal(raw) }()

	select {
	case r := <-done:
		return r
	case <-time.After(parseTimeout):
		c.log.Warn().Msg("body parse timed out, falling back to plain text")
		return &ParsedBody{BodyText: extractPlainTextFallback(raw)}
	}
}

func parseMessageBodyInternal(raw []byte) *ParsedBody {
	result := &ParsedBody{}

	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		result.BodyText = extractPlainTextFallback(raw)
		return result
	}

	if mr := entity.MultipartReader(); mr != nil {
		parseMultipartBody(mr, result)
	} else {
		parseSinglePartBody(entity, result)
	}
	return result
}

func parseMultipartBody(mr gomessage.MultipartReader, result *ParsedBody) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		contentType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		disposition, dispParams, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		contentID := strings.Trim(part.Header.Get("Content-ID"), "<>")

		if disposition == "attachment" {
			result.HasAttachments = true
			if att := extractAttachment(part, contentType, dispParams, contentID, contentID != ""); att != nil {
				result.Attachments = append(result.Attachments, *att)
			}
			continue
		}

		if strings.HasPrefix(contentType, "multipart/") {
			if nested := part.MultipartReader(); nested != nil {
				parseMultipartBody(nested, result)
			}
			continue
		}

		if strings.HasPrefix(contentType, "image/") && (disposition == "inline" || contentID != "") {
			result.HasAttachments = true
			if att := extractAttachment(part, contentType, dispParams, contentID, true); att != nil {
				result.Attachments = append(result.Attachments, *att)
			}
			continue
		}

		partBody, err := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
		if err != nil && len(partBody) == 0 {
			continue
		}
		assignTextPart(result, contentType, params["charset"], partBody)
	}
}

func parseSinglePartBody(entity *gomessage.Entity, result *ParsedBody) {
	contentType, params, _ := mime.ParseMediaType(entity.Header.Get("Content-Type"))

	body, err := io.ReadAll(io.LimitReader(entity.Body, maxPartSize))
	if err != nil && len(body) == 0 {
		return
	}
	assignTextPart(result, contentType, params["charset"], body)
}

// assignTextPart decodes a text/plain or text/html part using the
// charset-detection chain (§4.5) and runs it through the sanitizer (§4.3)
// before storing it on result.
func assignTextPart(result *ParsedBody, contentType, declaredCharset string, raw []byte) {
	if contentType != "" && contentType != "text/plain" && contentType != "text/html" {
		return
	}

	if declaredCharset == "" && contentType == "text/html" {
		declaredCharset = extractCharsetFromHTML(raw)
	}
	decoded := decodeCharset(raw, declaredCharset)

	sanitized := sanitize.Sanitize([]byte(decoded), contentType+"; charset=utf-8")
	switch contentType {
	case "text/html":
		if result.BodyHTML == "" {
			result.BodyHTML = sanitized.SafeHTML
		}
		if result.BodyText == "" {
			result.BodyText = sanitized.PlainText
		}
	default:
		if result.BodyText == "" {
			result.BodyText = sanitized.PlainText
		}
	}
}

func extractAttachment(part *gomessage.Entity, contentType string, dispParams map[string]string, contentID string, isInline bool) *ParsedAttachment {
	filename := dispParams["filename"]
	if filename == "" {
		_, ctParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		filename = ctParams["name"]
	}
	filename = decodeMIMEWord(filename)
	if filename == "" {
		ext := ".bin"
		if strings.HasPrefix(contentType, "image/") {
			if parts := strings.SplitN(contentType, "/", 2); len(parts) == 2 {
				ext = "." + parts[1]
			}
		}
		filename = "attachment" + ext
	}

	att := &ParsedAttachment{Filename: filename, ContentType: contentType, ContentID: contentID, Inline: isInline}

	content, err := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
	if err != nil && len(content) == 0 {
		return att
	}
	att.Size = len(content)

	if isInline && len(content) <= maxInlineContentSize {
		att.Content = content
	}
	return att
}

// extractPlainTextFallback pulls printable text out of a raw message when
// structured parsing fails or times out (§4.3).
func extractPlainTextFallback(raw []byte) string {
	s := string(raw)
	bodyStart := strings.Index(s, "\r\n\r\n")
	if bodyStart == -1 {
		bodyStart = strings.Index(s, "\n\n")
	}
	if bodyStart == -1 {
		return ""
	}
	body := s[bodyStart+4:]

	var b strings.Builder
	for _, r := range body {
		if (r >= 32 && r < 127) || r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
		}
	}
	text := strings.TrimSpace(b.String())

	const maxFallback = 10 * 1024
	if len(text) > maxFallback {
		text = text[:maxFallback] + "... [truncated - parsing timed out]"
	}
	return text
}

// extractReferences pulls the References header's Message-IDs out of a
// raw message, used at ingest to assign the message's thread id.
func extractReferences(raw []byte) []string {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	header := entity.Header.Get("References")
	if header == "" {
		return nil
	}
	var refs []string
	for _, part := range strings.Fields(header) {
		if strings.HasPrefix(part, "<") && strings.HasSuffix(part, ">") {
			refs = append(refs, part)
		}
	}
	return refs
}
