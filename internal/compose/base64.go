package compose

import (
	"encoding/base64"
	"io"
)

// base64LineWrapper wraps base64 output at 76 characters per line, as
// RFC 2045 requires for the base64 content-transfer-encoding.
type base64LineWrapper struct {
	w       io.Writer
	lineLen int
}

func (w *base64LineWrapper) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		remaining := 76 - w.lineLen
		if remaining <= 0 {
			if _, err := w.w.Write([]byte("\r\n")); err != nil {
				return n, err
			}
			w.lineLen = 0
			remaining = 76
		}

		toWrite := len(p)
		if toWrite > remaining {
			toWrite = remaining
		}

		written, err := w.w.Write(p[:toWrite])
		n += written
		w.lineLen += written
		if err != nil {
			return n, err
		}
		p = p[toWrite:]
	}
	return n, nil
}

// newBase64LineEncoder returns a WriteCloser that base64-encodes written
// bytes and wraps the encoded output at 76 characters per line.
func newBase64LineEncoder(w io.Writer) io.WriteCloser {
	return base64.NewEncoder(base64.StdEncoding, &base64LineWrapper{w: w})
}
