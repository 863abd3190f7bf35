// Package email builds raw messages and mail archives for tests.
package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const boundary = "msgdb-test-boundary"

type header struct{ key, value string }

type attachment struct {
	name, contentType string
	data              []byte
}

// MessageBuilder assembles an RFC 5322 message. Lines end in \n unless
// CRLF is set.
type MessageBuilder struct {
	from, to, cc string
	subject      *string
	date         string
	body         string
	extra        []header
	attachments  []attachment
	crlf         bool
}

// NewMessage returns a builder for a plain text message with fixed sender,
// recipient, subject and date.
func NewMessage() *MessageBuilder {
	subject := "Test Message"
	return &MessageBuilder{
		from:    "sender@example.com",
		to:      "recipient@example.com",
		subject: &subject,
		date:    "Mon, 01 Jan 2024 12:00:00 +0000",
		body:    "This is a test message body.",
	}
}

func (b *MessageBuilder) From(v string) *MessageBuilder { b.from = v; return b }
func (b *MessageBuilder) To(v string) *MessageBuilder   { b.to = v; return b }
func (b *MessageBuilder) Cc(v string) *MessageBuilder   { b.cc = v; return b }
func (b *MessageBuilder) Body(v string) *MessageBuilder { b.body = v; return b }
func (b *MessageBuilder) Date(v string) *MessageBuilder { b.date = v; return b }

// Subject sets the subject line.
func (b *MessageBuilder) Subject(v string) *MessageBuilder { b.subject = &v; return b }

// NoSubject drops the Subject header.
func (b *MessageBuilder) NoSubject() *MessageBuilder { b.subject = nil; return b }

// At sets the Date header from t.
func (b *MessageBuilder) At(t time.Time) *MessageBuilder {
	b.date = t.Format(time.RFC1123Z)
	return b
}

// Header appends an extra header. Extra headers follow the standard ones
// in the order they were added.
func (b *MessageBuilder) Header(key, value string) *MessageBuilder {
	b.extra = append(b.extra, header{key, value})
	return b
}

func (b *MessageBuilder) MessageID(v string) *MessageBuilder { return b.Header("Message-ID", v) }
func (b *MessageBuilder) InReplyTo(v string) *MessageBuilder { return b.Header("In-Reply-To", v) }

// References sets the References header to ids in order.
func (b *MessageBuilder) References(ids ...string) *MessageBuilder {
	return b.Header("References", strings.Join(ids, " "))
}

// WithAttachment adds a base64 part. Any attachment turns the message into
// multipart/mixed.
func (b *MessageBuilder) WithAttachment(name, contentType string, data []byte) *MessageBuilder {
	b.attachments = append(b.attachments, attachment{name, contentType, data})
	return b
}

// CRLF switches to \r\n line endings.
func (b *MessageBuilder) CRLF() *MessageBuilder { b.crlf = true; return b }

// Bytes renders the message.
func (b *MessageBuilder) Bytes() []byte {
	var buf bytes.Buffer
	line := func(format string, args ...any) {
		fmt.Fprintf(&buf, format, args...)
		if b.crlf {
			buf.WriteString("\r\n")
		} else {
			buf.WriteByte('\n')
		}
	}

	line("From: %s", b.from)
	line("To: %s", b.to)
	if b.cc != "" {
		line("Cc: %s", b.cc)
	}
	if b.subject != nil {
		line("Subject: %s", *b.subject)
	}
	if b.date != "" {
		line("Date: %s", b.date)
	}
	for _, h := range b.extra {
		line("%s: %s", h.key, h.value)
	}

	if len(b.attachments) == 0 {
		line(`Content-Type: text/plain; charset="utf-8"`)
		line("")
		line("%s", b.body)
		return buf.Bytes()
	}

	line("MIME-Version: 1.0")
	line("Content-Type: multipart/mixed; boundary=%q", boundary)
	line("")
	line("--%s", boundary)
	line(`Content-Type: text/plain; charset="utf-8"`)
	line("")
	line("%s", b.body)
	for _, a := range b.attachments {
		ct := a.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		line("--%s", boundary)
		line("Content-Type: %s; name=%q", ct, a.name)
		line("Content-Disposition: attachment; filename=%q", a.name)
		line("Content-Transfer-Encoding: base64")
		line("")
		line("%s", base64.StdEncoding.EncodeToString(a.data))
	}
	line("--%s--", boundary)
	return buf.Bytes()
}

// EMLX wraps raw in the Apple Mail .emlx layout: a byte count line, the
// message, then a plist carrying the mailbox flags.
func EMLX(raw []byte, flags int64) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d\n", len(raw))
	buf.Write(raw)
	fmt.Fprintf(&buf, `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>flags</key>
	<integer>%d</integer>
</dict>
</plist>
`, flags)
	return buf.Bytes()
}

// Mbox joins messages into an mboxrd archive. Each message gets a From
// separator dated one day after the previous one, starting at start, and
// body lines starting with From are quoted.
func Mbox(start time.Time, msgs ...[]byte) []byte {
	var buf bytes.Buffer
	for i, raw := range msgs {
		if i > 0 {
			buf.WriteByte('\n')
		}
		date := start.AddDate(0, 0, i).UTC().Format(time.ANSIC)
		fmt.Fprintf(&buf, "From sender@example.com %s\n", date)
		for _, l := range strings.SplitAfter(string(raw), "\n") {
			if strings.HasPrefix(strings.TrimLeft(l, ">"), "From ") {
				buf.WriteByte('>')
			}
			buf.WriteString(l)
		}
	}
	return buf.Bytes()
}
