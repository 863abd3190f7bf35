// Package mailfile reads message files for import: single RFC 5322
// messages (.eml), Apple Mail .emlx files and mbox archives.
package mailfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wesm/msgdb/internal/store"
)

// Format identifies a message file layout.
type Format int

const (
	FormatEML Format = iota
	FormatEMLX
	FormatMbox
)

func (f Format) String() string {
	switch f {
	case FormatEMLX:
		return "emlx"
	case FormatMbox:
		return "mbox"
	default:
		return "eml"
	}
}

// Item is one message read from a file.
type Item struct {
	// SourceID names the message's origin: the file path, with a
	// "#n" suffix for the n-th message of an archive.
	SourceID string
	Raw      []byte
	// Flags carries status recorded next to the message by the client
	// that wrote the file.
	Flags store.Flags
	// Date is the delivery date recorded outside the message headers,
	// zero when the format has none.
	Date time.Time
}

// Detect picks the format of a file from its name and first bytes.
func Detect(path string, head []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".emlx":
		return FormatEMLX
	case ".mbox", ".mbx":
		return FormatMbox
	}
	if line, _, _ := bytes.Cut(head, []byte("\n")); isFromSeparator(line) {
		return FormatMbox
	}
	return FormatEML
}

// ReadFile reads every message in path. maxMessageBytes bounds a single
// message; zero means no limit.
func ReadFile(path string, maxMessageBytes int64) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(path, data, maxMessageBytes)
}

// Read splits data, the content of the file at path, into messages.
func Read(path string, data []byte, maxMessageBytes int64) ([]Item, error) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	switch Detect(path, head) {
	case FormatEMLX:
		m, err := ParseEMLX(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := checkSize(m.Raw, maxMessageBytes); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return []Item{{SourceID: path, Raw: m.Raw, Flags: m.StoreFlags(), Date: m.DateSent}}, nil
	case FormatMbox:
		return readMbox(path, data, maxMessageBytes)
	}
	if err := checkSize(data, maxMessageBytes); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return []Item{{SourceID: path, Raw: data}}, nil
}

func checkSize(raw []byte, limit int64) error {
	if limit > 0 && int64(len(raw)) > limit {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(raw), limit)
	}
	return nil
}
