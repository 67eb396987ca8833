package sync

import "testing"

func TestDecodeMIMEWordDecodesUTF8EncodedWord(t *testing.T) {
	got := decodeMIMEWord("=?UTF-8?B?SGVsbG8sIFdvcmxkIQ==?=")
	if got != "Hello, World!" {
		t.Fatalf("decodeMIMEWord = %q, want %q", got, "Hello, World!")
	}
}

func TestDecodeMIMEWordPassesThroughPlainText(t *testing.T) {
	if got := decodeMIMEWord("plain subject"); got != "plain subject" {
		t.Fatalf("decodeMIMEWord = %q, want unchanged input", got)
	}
	if got := decodeMIMEWord(""); got != "" {
		t.Fatalf("decodeMIMEWord(\"\") = %q, want empty string", got)
	}
}

func TestDecodeCharsetValidUTF8PassesThrough(t *testing.T) {
	in := "héllo wörld"
	if got := decodeCharset([]byte(in), "utf-8"); got != in {
		t.Fatalf("decodeCharset = %q, want %q", got, in)
	}
}

func TestExtractCharsetFromHTMLMetaCharset(t *testing.T) {
	html := []byte(`<html><head><meta charset="iso-8859-1"></head><body></body></html>`)
	if got := extractCharsetFromHTML(html); got != "iso-8859-1" {
		t.Fatalf("extractCharsetFromHTML = %q, want %q", got, "iso-8859-1")
	}
}

func TestExtractCharsetFromHTMLHttpEquiv(t *testing.T) {
	html := []byte(`<meta http-equiv="Content-Type" content="text/html; charset=gb2312">`)
	if got := extractCharsetFromHTML(html); got != "gb2312" {
		t.Fatalf("extractCharsetFromHTML = %q, want %q", got, "gb2312")
	}
}

func TestExtractCharsetFromHTMLNoMatch(t *testing.T) {
	if got := extractCharsetFromHTML([]byte(`<html><body>no meta here</body></html>`)); got != "" {
		t.Fatalf("extractCharsetFromHTML = %q, want empty string", got)
	}
}

func TestLooksLikeGibberishDetectsReplacementCharacters(t *testing.T) {
	gibberish := "normal text with many replacement chars: �����������"
	if !looksLikeGibberish(gibberish) {
		t.Fatalf("expected a string dominated by replacement characters to be flagged as gibberish")
	}
	if looksLikeGibberish("this is perfectly normal english text") {
		t.Fatalf("expected normal text not to be flagged as gibberish")
	}
}
