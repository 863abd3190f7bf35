package mime

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	testemail "github.com/wesm/msgdb/internal/testutil/email"
)

func assertIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

// mustParse calls Parse and fails the test on error.
func mustParse(t *testing.T, raw []byte) *Message {
	t.Helper()
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	return msg
}

func TestParseReferences(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"<abc@example.com>", []string{"abc@example.com"}},
		{"<a@x.com> <b@y.com>", []string{"a@x.com", "b@y.com"}},
		{"<a@x.com>\n\t<b@y.com>", []string{"a@x.com", "b@y.com"}},
		{"", nil},
		{"   ", nil},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assertIDs(t, parseReferences(tc.input), tc.want...)
		})
	}
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<a@x.com>", "a@x.com"},
		{"  <a@x.com>  ", "a@x.com"},
		{"a@x.com", "a@x.com"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := normalizeID(tc.in); got != tc.want {
			t.Errorf("normalizeID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	// parseDate returns zero time (not error) for unparseable dates.
	// This is intentional - malformed dates are common in email and
	// shouldn't fail the entire parse.

	tests := []struct {
		name  string
		input string
		want  time.Time // Zero value means we expect parse failure
	}{
		// Valid RFC date formats
		{"RFC1123Z", "Mon, 02 Jan 2006 15:04:05 -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"RFC1123 named zone", "Mon, 2 Jan 2006 15:04:05 MST",
			time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)}, // MST treated as UTC offset 0 by Go
		{"no weekday", "02 Jan 2006 15:04:05 -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"parenthesized zone", "Mon, 02 Jan 2006 15:04:05 -0700 (PST)",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"double space after comma", "Mon,  2 Dec 2024 11:42:03 +0000 (UTC)",
			time.Date(2024, 12, 2, 11, 42, 3, 0, time.UTC)},
		{"ISO 8601 UTC", "2006-01-02T15:04:05Z",
			time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"ISO 8601 offset", "2006-01-02T15:04:05-07:00",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"SQL-like with tz", "2006-01-02 15:04:05 -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"SQL-like no tz", "2006-01-02 15:04:05",
			time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},

		// Invalid/unparseable dates should return zero time
		{"empty", "", time.Time{}},
		{"garbage", "not a date", time.Time{}},
		{"date only", "2006-01-02", time.Time{}},
		{"spelled month", "January 2, 2006", time.Time{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseDate(tc.input)
			if err != nil {
				t.Fatalf("parseDate(%q) unexpected error: %v", tc.input, err)
			}
			if tc.want.IsZero() {
				if !got.IsZero() {
					t.Errorf("parseDate(%q) = %v, want zero time", tc.input, got)
				}
				return
			}
			if !got.Equal(tc.want) {
				t.Errorf("parseDate(%q) = %v, want %v", tc.input, got, tc.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("parseDate(%q) location = %v, want UTC", tc.input, got.Location())
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		// Basic tag stripping
		{"paragraph", "<p>Hello</p>", "Hello"},
		{"nested_span", "<div><span>Nested</span></div>", "Nested"},
		{"no_tags", "No tags", "No tags"},
		{"inline_tags", "<b>Bold</b> and <i>italic</i>", "Bold and italic"},
		{"empty", "", ""},

		// Script/style removal (including content)
		{"script_removed", "<script>alert('xss')</script>Text", "Text"},
		{"style_removed", "<style>.class{color:red}</style>Content", "Content"},
		{"head_removed", "<head><title>Title</title></head>Body", "Body"},

		// Newline normalization
		{"crlf_to_lf", "Line1\r\nLine2\r\nLine3", "Line1\nLine2\nLine3"},
		{"collapse_newlines", "Multiple\n\n\n\nNewlines", "Multiple\n\nNewlines"},

		// HTML entities
		{"nbsp_entity", "Hello&nbsp;World", "Hello World"},
		{"amp_entity", "Tom &amp; Jerry", "Tom & Jerry"},
		{"lt_gt_entities", "5 &lt; 10 &gt; 3", "5 < 10 > 3"},
		{"quote_entity", "&quot;quoted&quot;", "\"quoted\""},
		{"numeric_entity", "&#169; 2024", "© 2024"},
		{"hex_entity", "&#x2022; bullet", "• bullet"},

		// Block elements create line breaks
		{"br_tag", "Line1<br>Line2", "Line1\nLine2"},
		{"br_self_close", "Line1<br/>Line2", "Line1\nLine2"},
		{"paragraph_breaks", "<p>Para1</p><p>Para2</p>", "Para1\n\nPara2"},
		{"div_breaks", "<div>Block1</div><div>Block2</div>", "Block1\n\nBlock2"},
		{"heading_breaks", "<h1>Title</h1><p>Content</p>", "Title\n\nContent"},

		// Complex HTML email
		{
			"complex_html",
			`<html><head><style>.x{}</style></head><body>
			<p>Hello,</p>
			<p>This is a <b>test</b> email with &amp; special chars.</p>
			<br>
			<p>Thanks!</p>
			</body></html>`,
			"Hello,\n\nThis is a test email with & special chars.\n\nThanks!",
		},

		// Whitespace collapse
		{"multiple_spaces", "Hello    World", "Hello World"},
		{"nbsp_spaces", "Hello&nbsp;&nbsp;&nbsp;World", "Hello World"},

		// Preformatted content - whitespace is NOT preserved (documented behavior)
		// This is acceptable for email preview where code formatting is secondary
		{"pre_whitespace_collapsed", "<pre>  code  here  </pre>", "code here"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := StripHTML(tc.input)
			if got != tc.want {
				t.Errorf("StripHTML() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMessage_GetBodyText(t *testing.T) {
	msg := &Message{BodyText: "plain", BodyHTML: "<p>html</p>"}
	if got := msg.GetBodyText(); got != "plain" {
		t.Errorf("GetBodyText() = %q, want %q", got, "plain")
	}

	msg = &Message{BodyHTML: "<p>html only</p>"}
	if got := msg.GetBodyText(); got != "html only" {
		t.Errorf("GetBodyText() = %q, want %q", got, "html only")
	}

	msg = &Message{}
	if got := msg.GetBodyText(); got != "" {
		t.Errorf("GetBodyText() = %q, want empty", got)
	}
}

func TestAddress_String(t *testing.T) {
	if got := (Address{Email: "a@x.com"}).String(); got != "a@x.com" {
		t.Errorf("String() = %q", got)
	}
	if got := (Address{Name: "Alice", Email: "a@x.com"}).String(); got != "Alice <a@x.com>" {
		t.Errorf("String() = %q", got)
	}
}

func TestParse_MinimalMessage(t *testing.T) {
	raw := testemail.NewMessage().
		Subject("Test").
		Body("Body text").
		Date("Mon, 02 Jan 2006 15:04:05 -0700").
		Bytes()
	msg := mustParse(t, raw)

	if msg.Subject != "Test" {
		t.Errorf("Subject = %q, want %q", msg.Subject, "Test")
	}
	if got := msg.Sender(); got != "sender@example.com" {
		t.Errorf("Sender() = %q, want sender@example.com", got)
	}
	if len(msg.To) != 1 || msg.To[0].Email != "recipient@example.com" {
		t.Errorf("To = %v", msg.To)
	}
	if got := strings.TrimSpace(msg.BodyText); got != "Body text" {
		t.Errorf("BodyText = %q, want %q", got, "Body text")
	}
	want := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)
	if !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
}

func TestParse_ThreadingHeaders(t *testing.T) {
	raw := testemail.NewMessage().
		MessageID("<child@example.com>").
		InReplyTo("<parent@example.com>").
		Bytes()
	msg := mustParse(t, raw)

	if msg.MessageID != "child@example.com" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if msg.InReplyTo != "parent@example.com" {
		t.Errorf("InReplyTo = %q", msg.InReplyTo)
	}
}

func TestParse_ReferencesFallback(t *testing.T) {
	raw := testemail.NewMessage().
		MessageID("<c@example.com>").
		References("<a@example.com>", "<b@example.com>").
		Bytes()
	msg := mustParse(t, raw)

	assertIDs(t, msg.References, "a@example.com", "b@example.com")
	if msg.InReplyTo != "b@example.com" {
		t.Errorf("InReplyTo = %q, want last reference", msg.InReplyTo)
	}
}

func TestParse_Latin1Charset(t *testing.T) {
	raw := []byte("From: sender@example.com\r\nTo: recipient@example.com\r\nSubject: Caf\xe9\r\nContent-Type: text/plain; charset=iso-8859-1\r\n\r\nCaf\xe9 au lait")

	msg := mustParse(t, raw)

	if msg.BodyText != "Café au lait" {
		t.Errorf("BodyText = %q, want %q", msg.BodyText, "Café au lait")
	}
	if !utf8.ValidString(msg.Subject) {
		t.Errorf("Subject %q is not valid UTF-8", msg.Subject)
	}
}

func TestParse_Attachments(t *testing.T) {
	raw := testemail.NewMessage().
		Body("see attached").
		WithAttachment("report.pdf", "application/pdf", []byte("%PDF-1.4")).
		Bytes()
	msg := mustParse(t, raw)

	if msg.AttachmentCount != 1 {
		t.Errorf("AttachmentCount = %d, want 1", msg.AttachmentCount)
	}
	if got := strings.TrimSpace(msg.GetBodyText()); got != "see attached" {
		t.Errorf("GetBodyText() = %q", got)
	}
}

func TestMessage_StoreMessage(t *testing.T) {
	raw := testemail.NewMessage().
		From("Alice <Alice@Example.com>").
		Subject("Quarterly numbers").
		MessageID("<q@example.com>").
		Bytes()
	msg := mustParse(t, raw)

	m := msg.StoreMessage(7, "inbox/1", raw)
	if m.AccountID != 7 || m.SourceID != "inbox/1" {
		t.Errorf("identity = (%d, %q)", m.AccountID, m.SourceID)
	}
	if m.Sender != "Alice <alice@example.com>" {
		t.Errorf("Sender = %q", m.Sender)
	}
	if m.MessageIDHeader != "q@example.com" {
		t.Errorf("MessageIDHeader = %q", m.MessageIDHeader)
	}
	if m.Size != int64(len(raw)) || len(m.Body) != len(raw) {
		t.Errorf("Size = %d, body len %d, want %d", m.Size, len(m.Body), len(raw))
	}
	if m.GID != 0 {
		t.Errorf("GID = %d, want 0 before storing", m.GID)
	}
}
