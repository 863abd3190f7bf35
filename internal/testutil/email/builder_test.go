package email

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestPlainMessage(t *testing.T) {
	got := string(NewMessage().Body("Hello world.").Bytes())

	want := strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Message",
		"Date: Mon, 01 Jan 2024 12:00:00 +0000",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		"Hello world.",
		"",
	}, "\n")
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestNoSubject(t *testing.T) {
	if got := string(NewMessage().NoSubject().Bytes()); strings.Contains(got, "Subject:") {
		t.Errorf("unexpected Subject header:\n%s", got)
	}
}

func TestAt(t *testing.T) {
	got := string(NewMessage().At(time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)).Bytes())
	if !strings.Contains(got, "Date: Tue, 05 Mar 2024 09:00:00 +0000\n") {
		t.Errorf("Date header missing:\n%s", got)
	}
}

func TestThreadingHeadersInOrder(t *testing.T) {
	got := string(NewMessage().
		MessageID("<c@example.com>").
		InReplyTo("<b@example.com>").
		References("<a@example.com>", "<b@example.com>").
		Bytes())

	want := "Message-ID: <c@example.com>\nIn-Reply-To: <b@example.com>\nReferences: <a@example.com> <b@example.com>\n"
	if !strings.Contains(got, want) {
		t.Errorf("threading headers missing or out of order:\n%s", got)
	}
}

func TestMultipartMessage(t *testing.T) {
	got := string(NewMessage().
		Body("See attached.").
		WithAttachment("test.txt", "text/plain", []byte("file data")).
		Bytes())

	last := -1
	for _, c := range []string{
		`Content-Type: multipart/mixed; boundary="msgdb-test-boundary"`,
		"See attached.",
		`Content-Disposition: attachment; filename="test.txt"`,
		"Content-Transfer-Encoding: base64",
		"--msgdb-test-boundary--",
	} {
		i := strings.Index(got, c)
		if i <= last {
			t.Fatalf("%q missing or out of order in:\n%s", c, got)
		}
		last = i
	}
}

func TestCRLF(t *testing.T) {
	got := NewMessage().CRLF().Bytes()
	for i, b := range got {
		if b == '\n' && (i == 0 || got[i-1] != '\r') {
			t.Fatalf("bare \\n at byte %d", i)
		}
	}
}

func TestEMLX(t *testing.T) {
	raw := NewMessage().Bytes()
	got := string(EMLX(raw, 17))

	if want := strconv.Itoa(len(raw)) + "\n" + string(raw); !strings.HasPrefix(got, want) {
		t.Errorf("missing byte count prefix:\n%s", got)
	}
	if !strings.Contains(got, "<key>flags</key>\n\t<integer>17</integer>") {
		t.Errorf("flags missing from plist:\n%s", got)
	}
}

func TestMbox(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	got := string(Mbox(start,
		NewMessage().Body("From here on\n>From there").Bytes(),
		NewMessage().Bytes(),
	))

	for _, want := range []string{
		"From sender@example.com Mon Jan  1 12:00:00 2024\n",
		"\n>From here on\n>>From there\n",
		"\n\nFrom sender@example.com Tue Jan  2 12:00:00 2024\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}
