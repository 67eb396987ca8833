// Package sanitize implements the engine's message sanitizer (§4.3): a
// pure, synchronous function from untrusted message bodies to safe
// rendering payloads plus extracted metadata. It never raises; malformed
// input degrades to plain-text-only output.
package sanitize

import (
	"bytes"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html/charset"
)

// Link is one hyperlink extracted from the sanitized body.
type Link struct {
	Text string
	Href string
}

// Result is the sanitizer's output.
type Result struct {
	SafeHTML   string // empty when the input was plain text
	PlainText  string // always populated
	ImageAlts  []string
	Links      []Link
}

var (
	tagRe    = regexp.MustCompile(`(?is)<[^>]*>`)
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
)

// policy is a single, process-wide bluemonday policy: structural elements
// and safe attributes are preserved; script elements, event-handler
// attributes, and data: URLs in <a href> are stripped.
var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(false)
	// Inline images are common in HTML mail (logos, signatures); UGCPolicy
	// blocks data: URIs in <a href> by default, which is what keeps this
	// safe for the anchor case.
	p.AllowDataURIImages()
	return p
}

// Sanitize accepts a raw message body and its declared content type and
// returns a safe rendering payload. It is pure and synchronous, and never
// returns an error: anomalies degrade to a plain-text-only Result.
func Sanitize(rawBody []byte, contentType string) Result {
	decoded := decodeToUTF8(rawBody, contentType)

	if !strings.Contains(strings.ToLower(contentType), "html") {
		return Result{PlainText: decoded}
	}

	safe := policy.Sanitize(decoded)
	if strings.TrimSpace(safe) == "" {
		// Degrade: treat as plain text if sanitization produced nothing
		// usable (e.g. malformed markup bluemonday couldn't parse).
		return Result{PlainText: plainTextFallback(decoded)}
	}

	return Result{
		SafeHTML:  safe,
		PlainText: plainTextFallback(decoded),
		ImageAlts: extractImageAlts(decoded),
		Links:     extractLinks(safe),
	}
}

// plainTextFallback always emits a plain-text projection, even for HTML
// input, by stripping tags and decoding entities (§4.3).
func plainTextFallback(body string) string {
	noScripts := scriptRe.ReplaceAllString(body, "")
	stripped := tagRe.ReplaceAllString(noScripts, " ")
	decoded := html.UnescapeString(stripped)
	return collapseWhitespace(decoded)
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

var imgAltRe = regexp.MustCompile(`(?is)<img[^>]*\balt\s*=\s*"([^"]*)"`)

func extractImageAlts(body string) []string {
	matches := imgAltRe.FindAllStringSubmatch(body, -1)
	var out []string
	for _, m := range matches {
		if m[1] != "" {
			out = append(out, html.UnescapeString(m[1]))
		}
	}
	return out
}

var linkRe = regexp.MustCompile(`(?is)<a[^>]*\bhref\s*=\s*"([^"]*)"[^>]*>(.*?)</a>`)

func extractLinks(safeHTML string) []Link {
	matches := linkRe.FindAllStringSubmatch(safeHTML, -1)
	var out []Link
	for _, m := range matches {
		out = append(out, Link{
			Href: html.UnescapeString(m[1]),
			Text: strings.TrimSpace(tagRe.ReplaceAllString(html.UnescapeString(m[2]), "")),
		})
	}
	return out
}

// decodeToUTF8 decodes a body using the charset named in the content type,
// falling back to a UTF-8 sniff and finally to treating the bytes as UTF-8
// verbatim rather than erroring.
func decodeToUTF8(body []byte, contentType string) string {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	out, err := io.ReadAll(reader)
	if err != nil {
		return string(body)
	}
	return string(out)
}
