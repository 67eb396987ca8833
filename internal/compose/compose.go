// Package compose builds outbound RFC 5322 messages from the drafts and
// outbox items held in the cache (§4.7), generalized from the teacher's
// MIME writer: plain text, HTML, multipart/alternative, and
// multipart/mixed with inline and regular attachments.
package compose

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Address is one RFC 5322 mailbox, optionally with a display name.
type Address struct {
	Name    string
	Address string
}

// String renders the address per RFC 5322, Q-encoding the display name
// when it contains non-ASCII characters.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", a.Name), a.Address)
}

// AttachmentPart is one file attached to an outbound message.
type AttachmentPart struct {
	Filename    string
	ContentType string
	Content     []byte
	ContentID   string
	Inline      bool
}

// Message is everything needed to render one outbound RFC 5322 message.
type Message struct {
	From    Address
	To      []Address
	Cc      []Address
	Bcc     []Address
	ReplyTo *Address
	Subject string

	TextBody string
	HTMLBody string

	Attachments []AttachmentPart

	InReplyTo  string
	References []string

	RequestReadReceipt bool
}

// AllRecipients returns every envelope recipient (To + Cc + Bcc), which is
// what MAIL FROM/RCPT TO needs; Bcc is never written into message headers.
func (m *Message) AllRecipients() []string {
	var out []string
	for _, a := range m.To {
		out = append(out, a.Address)
	}
	for _, a := range m.Cc {
		out = append(out, a.Address)
	}
	for _, a := range m.Bcc {
		out = append(out, a.Address)
	}
	return out
}

// Build renders the message to its complete RFC 5322 wire form and
// returns the Message-ID it assigned.
func (m *Message) Build() (raw []byte, messageID string, err error) {
	var buf bytes.Buffer

	messageID = fmt.Sprintf("<%s@mailengine>", uuid.NewString())

	writeHeader(&buf, "From", m.From.String())
	writeHeader(&buf, "To", formatAddresses(m.To))
	if len(m.Cc) > 0 {
		writeHeader(&buf, "Cc", formatAddresses(m.Cc))
	}
	if m.ReplyTo != nil {
		writeHeader(&buf, "Reply-To", m.ReplyTo.String())
	}
	writeHeader(&buf, "Subject", encodeSubject(m.Subject))
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", messageID)
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "User-Agent", "mailengine")

	if m.InReplyTo != "" {
		writeHeader(&buf, "In-Reply-To", m.InReplyTo)
	}
	if len(m.References) > 0 {
		writeHeader(&buf, "References", strings.Join(m.References, " "))
	}
	if m.RequestReadReceipt {
		writeHeader(&buf, "Disposition-Notification-To", m.From.String())
	}

	var inline, regular []AttachmentPart
	for _, att := range m.Attachments {
		if att.Inline {
			inline = append(inline, att)
		} else {
			regular = append(regular, att)
		}
	}

	hasHTML := m.HTMLBody != ""
	hasText := m.TextBody != ""
	hasAttachments := len(m.Attachments) > 0

	switch {
	case hasAttachments && (hasHTML || hasText):
		err = writeMultipartMixed(&buf, m, regular, inline)
	case hasHTML && hasText:
		err = writeMultipartAlternative(&buf, m.TextBody, m.HTMLBody)
	case hasHTML:
		writeHeader(&buf, "Content-Type", "text/html; charset=utf-8")
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		writeQuotedPrintable(&buf, m.HTMLBody)
	case hasText:
		writeHeader(&buf, "Content-Type", "text/plain; charset=utf-8")
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		writeQuotedPrintable(&buf, m.TextBody)
	default:
		writeHeader(&buf, "Content-Type", "text/plain; charset=utf-8")
		buf.WriteString("\r\n")
	}
	if err != nil {
		return nil, "", err
	}

	return buf.Bytes(), messageID, nil
}

func writeHeader(w io.Writer, name, value string) {
	fmt.Fprintf(w, "%s: %s\r\n", name, value)
}

func formatAddresses(addrs []Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

func encodeSubject(subject string) string {
	for _, r := range subject {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", subject)
		}
	}
	return subject
}

func writeQuotedPrintable(w io.Writer, content string) {
	qw := quotedprintable.NewWriter(w)
	qw.Write([]byte(content))
	qw.Close()
}

func writeMultipartAlternative(w *bytes.Buffer, textBody, htmlBody string) error {
	mpw := multipart.NewWriter(w)
	writeHeader(w, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mpw.Boundary()))
	w.WriteString("\r\n")

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	textHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	textPart, err := mpw.CreatePart(textHeader)
	if err != nil {
		return err
	}
	writeQuotedPrintable(textPart, textBody)

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
	htmlHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	htmlPart, err := mpw.CreatePart(htmlHeader)
	if err != nil {
		return err
	}
	writeQuotedPrintable(htmlPart, htmlBody)

	return mpw.Close()
}

func writeMultipartMixed(w *bytes.Buffer, m *Message, attachments, inlineAttachments []AttachmentPart) error {
	mpw := multipart.NewWriter(w)
	writeHeader(w, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mpw.Boundary()))
	w.WriteString("\r\n")

	hasHTML := m.HTMLBody != ""
	hasText := m.TextBody != ""

	switch {
	case hasHTML && hasText:
		altBoundary := uuid.NewString()
		altHeader := textproto.MIMEHeader{}
		altHeader.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", altBoundary))
		bodyPart, err := mpw.CreatePart(altHeader)
		if err != nil {
			return err
		}
		altWriter := multipart.NewWriter(bodyPart)
		if err := altWriter.SetBoundary(altBoundary); err != nil {
			return err
		}

		textHeader := textproto.MIMEHeader{}
		textHeader.Set("Content-Type", "text/plain; charset=utf-8")
		textHeader.Set("Content-Transfer-Encoding", "quoted-printable")
		textPart, err := altWriter.CreatePart(textHeader)
		if err != nil {
			return err
		}
		writeQuotedPrintable(textPart, m.TextBody)

		if len(inlineAttachments) > 0 {
			if err := writeRelatedPart(altWriter, m.HTMLBody, inlineAttachments); err != nil {
				return err
			}
		} else {
			htmlHeader := textproto.MIMEHeader{}
			htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
			htmlHeader.Set("Content-Transfer-Encoding", "quoted-printable")
			htmlPart, err := altWriter.CreatePart(htmlHeader)
			if err != nil {
				return err
			}
			writeQuotedPrintable(htmlPart, m.HTMLBody)
		}
		if err := altWriter.Close(); err != nil {
			return err
		}
	case hasHTML:
		if len(inlineAttachments) > 0 {
			if err := writeRelatedPart(mpw, m.HTMLBody, inlineAttachments); err != nil {
				return err
			}
		} else {
			htmlHeader := textproto.MIMEHeader{}
			htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
			htmlHeader.Set("Content-Transfer-Encoding", "quoted-printable")
			bodyPart, err := mpw.CreatePart(htmlHeader)
			if err != nil {
				return err
			}
			writeQuotedPrintable(bodyPart, m.HTMLBody)
		}
	case hasText:
		textHeader := textproto.MIMEHeader{}
		textHeader.Set("Content-Type", "text/plain; charset=utf-8")
		textHeader.Set("Content-Transfer-Encoding", "quoted-printable")
		bodyPart, err := mpw.CreatePart(textHeader)
		if err != nil {
			return err
		}
		writeQuotedPrintable(bodyPart, m.TextBody)
	}

	for _, att := range attachments {
		if err := writeAttachment(mpw, att); err != nil {
			return err
		}
	}

	return mpw.Close()
}

func writeRelatedPart(parent *multipart.Writer, htmlBody string, inlineAttachments []AttachmentPart) error {
	relBoundary := uuid.NewString()
	relHeader := textproto.MIMEHeader{}
	relHeader.Set("Content-Type", fmt.Sprintf("multipart/related; boundary=%q", relBoundary))
	relPart, err := parent.CreatePart(relHeader)
	if err != nil {
		return err
	}

	relWriter := multipart.NewWriter(relPart)
	if err := relWriter.SetBoundary(relBoundary); err != nil {
		return err
	}

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
	htmlHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	htmlPart, err := relWriter.CreatePart(htmlHeader)
	if err != nil {
		return err
	}
	writeQuotedPrintable(htmlPart, htmlBody)

	for _, att := range inlineAttachments {
		if err := writeAttachment(relWriter, att); err != nil {
			return err
		}
	}
	return relWriter.Close()
}

func writeAttachment(w *multipart.Writer, att AttachmentPart) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "base64")
	if att.Inline && att.ContentID != "" {
		header.Set("Content-ID", fmt.Sprintf("<%s>", att.ContentID))
		header.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", att.Filename))
	} else {
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
	}

	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	enc := newBase64LineEncoder(part)
	if _, err := enc.Write(att.Content); err != nil {
		return err
	}
	return enc.Close()
}
