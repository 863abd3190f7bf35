// Package mime parses raw RFC 5322 messages for import using enmime.
package mime

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/wesm/msgdb/internal/store"
	"github.com/wesm/msgdb/internal/textutil"
)

// Message represents a parsed email message.
type Message struct {
	Subject    string
	Date       time.Time
	From       []Address
	To         []Address
	Cc         []Address
	MessageID  string
	InReplyTo  string
	References []string
	BodyText   string
	BodyHTML   string
	// AttachmentCount counts non-body parts, inline or attached.
	AttachmentCount int
	Errors          []string // Non-fatal parsing errors
}

// Address represents an email address with optional display name.
type Address struct {
	Name  string
	Email string
}

// String formats the address the way it is shown in a sender column.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// Parse parses raw MIME data into a Message.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Subject:   textutil.SanitizeUTF8(env.GetHeader("Subject")),
		MessageID: normalizeID(env.GetHeader("Message-ID")),
		InReplyTo: firstID(env.GetHeader("In-Reply-To")),
		BodyText:  env.Text,
		BodyHTML:  env.HTML,
	}

	if dateStr := env.GetHeader("Date"); dateStr != "" {
		if t, err := parseDate(dateStr); err == nil {
			msg.Date = t
		}
	}

	msg.From = parseAddressList(env, "From")
	msg.To = parseAddressList(env, "To")
	msg.Cc = parseAddressList(env, "Cc")

	if refs := env.GetHeader("References"); refs != "" {
		msg.References = parseReferences(refs)
	}
	// Some clients only send References; its last entry is the direct parent.
	if msg.InReplyTo == "" && len(msg.References) > 0 {
		msg.InReplyTo = msg.References[len(msg.References)-1]
	}

	msg.AttachmentCount = countAttachments(env.Attachments) + countAttachments(env.Inlines)

	for _, e := range env.Errors {
		msg.Errors = append(msg.Errors, e.Error())
	}

	return msg, nil
}

// parseAddressList parses an address header using enmime's AddressList method.
func parseAddressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil || list == nil {
		return nil
	}

	addresses := make([]Address, 0, len(list))
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		addresses = append(addresses, Address{
			Name:  addr.Name,
			Email: strings.ToLower(addr.Address),
		})
	}
	return addresses
}

// normalizeID strips angle brackets and surrounding space from a message id.
func normalizeID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// firstID returns the first id of a header that may list several.
func firstID(v string) string {
	ids := parseReferences(v)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// isBodyPart returns true if the part should be treated as body content
// rather than an attachment: text/plain and text/html parts without a
// filename and without explicit Content-Disposition: attachment.
func isBodyPart(part *enmime.Part) bool {
	contentType := strings.ToLower(part.ContentType)
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if contentType != "text/plain" && contentType != "text/html" {
		return false
	}
	if part.FileName != "" {
		return false
	}
	disposition := strings.ToLower(part.Disposition)
	if idx := strings.Index(disposition, ";"); idx >= 0 {
		disposition = strings.TrimSpace(disposition[:idx])
	}
	return disposition != "attachment"
}

func countAttachments(parts []*enmime.Part) int {
	n := 0
	for _, part := range parts {
		if !isBodyPart(part) {
			n++
		}
	}
	return n
}

// parseReferences parses the References header into individual message IDs.
func parseReferences(refs string) []string {
	var result []string
	for _, ref := range strings.Fields(refs) {
		ref = strings.Trim(ref, "<>")
		if ref != "" {
			result = append(result, ref)
		}
	}
	return result
}

// dateFormats lists common email date formats for parseDate.
var dateFormats = []string{
	time.RFC1123Z,                           // "Mon, 02 Jan 2006 15:04:05 -0700"
	time.RFC1123,                            // "Mon, 02 Jan 2006 15:04:05 MST"
	"Mon, 2 Jan 2006 15:04:05 -0700",        // Single-digit day
	"Mon, 2 Jan 2006 15:04:05 MST",          // Single-digit day with named TZ
	"2 Jan 2006 15:04:05 -0700",             // No weekday
	"2 Jan 2006 15:04:05 MST",               // No weekday, named TZ
	"02 Jan 2006 15:04:05 -0700",            // No weekday, zero-padded
	"02 Jan 2006 15:04:05 MST",              // No weekday, zero-padded, named TZ
	time.RFC822Z,                            // "02 Jan 06 15:04 -0700"
	time.RFC822,                             // "02 Jan 06 15:04 MST"
	time.RFC850,                             // "Monday, 02-Jan-06 15:04:05 MST"
	time.ANSIC,                              // "Mon Jan _2 15:04:05 2006"
	time.UnixDate,                           // "Mon Jan _2 15:04:05 MST 2006"
	"Mon, 02 Jan 2006 15:04:05 -0700 (MST)", // With parenthesized TZ
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",  // Single-digit day with paren TZ
	time.RFC3339,                            // "2006-01-02T15:04:05Z07:00" (ISO 8601)
	"2006-01-02T15:04:05Z",                  // ISO 8601 UTC
	"2006-01-02T15:04:05-07:00",             // ISO 8601 with offset
	"2006-01-02 15:04:05 -0700",             // SQL-like format
	"2006-01-02 15:04:05",                   // SQL-like without TZ
}

// parseDate attempts to parse a date string in various formats.
// Returns the time in UTC for consistent storage.
func parseDate(s string) (time.Time, error) {
	// Normalize whitespace efficiently: split on whitespace runs and rejoin
	s = strings.Join(strings.Fields(s), " ")

	// Strip trailing timezone name in parentheses like "(UTC)" or "(PST)"
	// but keep the numeric offset for parsing
	baseStr := s
	if idx := strings.LastIndex(s, "("); idx > 0 {
		baseStr = strings.TrimSpace(s[:idx])
	}

	// Try parsing with base string (parenthesized TZ stripped)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, baseStr); err == nil {
			return t.UTC(), nil
		}
	}

	// Try original string (some formats expect the parenthesized part)
	if baseStr != s {
		for _, format := range dateFormats {
			if t, err := time.Parse(format, s); err == nil {
				return t.UTC(), nil
			}
		}
	}

	return time.Time{}, nil
}

// Block tags that should create line breaks when stripped
var blockTagRe = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|td|th|blockquote|pre|table|ul|ol|dl|dt|dd)[^>]*>`)

// Patterns for content-stripping tags (each needs separate pattern due to Go regex limitations)
var scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
var styleTagRe = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
var headTagRe = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes HTML tags, decodes entities, and normalizes whitespace.
// Block elements are converted to line breaks for readable plain text output.
//
// Note: Preformatted content (<pre>, <code>) loses its whitespace formatting
// as all runs of spaces are collapsed. This is acceptable for email preview
// where preserving exact code formatting is less important than readability.
func StripHTML(rawHTML string) string {
	// Remove script, style, and head tags entirely (including their content)
	text := scriptTagRe.ReplaceAllString(rawHTML, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = headTagRe.ReplaceAllString(text, "")

	// Add newlines for block tags to create paragraph separation.
	// Both opening and closing block tags emit newlines so consecutive
	// blocks (like </p><p>) get proper spacing. Leading/trailing blank
	// lines are removed by the final TrimSpace.
	text = blockTagRe.ReplaceAllStringFunc(text, func(match string) string {
		return "\n"
	})

	// Strip remaining HTML tags
	text = htmlTagRe.ReplaceAllString(text, "")

	// Decode HTML entities (&nbsp;, &amp;, &#160;, etc.)
	text = html.UnescapeString(text)

	// Normalize whitespace
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	// Replace non-breaking spaces with regular spaces
	text = strings.ReplaceAll(text, "\u00A0", " ")

	// Collapse multiple spaces on the same line (but preserve newlines)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")

	// Collapse multiple newlines (max 2)
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(text)
}

// GetBodyText returns the best available body text.
// Prefers plain text, falls back to stripped HTML.
func (m *Message) GetBodyText() string {
	if m.BodyText != "" {
		return m.BodyText
	}
	if m.BodyHTML != "" {
		return StripHTML(m.BodyHTML)
	}
	return ""
}

// Sender returns the first From address formatted for display, or empty.
func (m *Message) Sender() string {
	if len(m.From) > 0 {
		return m.From[0].String()
	}
	return ""
}

// StoreMessage converts the parsed headers into a store record carrying raw
// as its body. The message is not yet persisted.
func (m *Message) StoreMessage(accountID int64, sourceID string, raw []byte) *store.Message {
	return &store.Message{
		AccountID:       accountID,
		SourceID:        sourceID,
		MessageIDHeader: m.MessageID,
		InReplyTo:       m.InReplyTo,
		Subject:         m.Subject,
		Sender:          m.Sender(),
		Date:            m.Date,
		Size:            int64(len(raw)),
		Body:            raw,
	}
}
