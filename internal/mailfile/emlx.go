package mailfile

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/msgdb/internal/store"
)

// Apple Mail status bits stored in the emlx "flags" plist key.
const (
	emlxRead      = 1 << 0
	emlxAnswered  = 1 << 2
	emlxFlagged   = 1 << 4
	emlxForwarded = 1 << 8
)

var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// EMLX is a parsed Apple Mail .emlx file: a byte count line, the raw
// message, then an optional XML plist of metadata.
type EMLX struct {
	Raw         []byte
	DateSent    time.Time
	AppleFlags  int64
	OrigMailbox string
}

// ParseEMLX parses the contents of an .emlx file. The plist trailer is
// best effort; a damaged one leaves the metadata fields zero.
func ParseEMLX(data []byte) (*EMLX, error) {
	line, rest, ok := bytes.Cut(data, []byte("\n"))
	if !ok {
		return nil, errors.New("emlx: no newline after byte count")
	}
	count, err := strconv.ParseInt(strings.TrimSpace(string(line)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("emlx: invalid byte count %q", strings.TrimSpace(string(line)))
	}
	if count < 0 || count > int64(len(rest)) {
		return nil, fmt.Errorf("emlx: byte count %d out of range (available: %d)", count, len(rest))
	}
	m := &EMLX{Raw: rest[:count]}
	m.readPlist(rest[count:])
	return m, nil
}

// StoreFlags maps the Apple Mail status bits onto message flags.
func (m *EMLX) StoreFlags() store.Flags {
	var f store.Flags
	if m.AppleFlags&emlxRead != 0 {
		f |= store.FlagRead | store.FlagSeen
	}
	if m.AppleFlags&emlxAnswered != 0 {
		f |= store.FlagReplied
	}
	if m.AppleFlags&emlxFlagged != 0 {
		f |= store.FlagFlagged
	}
	if m.AppleFlags&emlxForwarded != 0 {
		f |= store.FlagForwarded
	}
	return f
}

func (m *EMLX) readPlist(data []byte) {
	start := bytes.Index(data, []byte("<plist"))
	if start < 0 {
		return
	}
	dec := xml.NewDecoder(bytes.NewReader(data[start:]))
	dec.Strict = false

	var key string
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "dict" {
				depth++
				continue
			}
			// Only the top-level dictionary describes the message.
			if depth != 1 {
				continue
			}
			var val string
			if err := dec.DecodeElement(&val, &t); err != nil {
				return
			}
			val = strings.TrimSpace(val)
			if t.Name.Local == "key" {
				key = val
				continue
			}
			m.setValue(key, t.Name.Local, val)
			key = ""
		case xml.EndElement:
			if t.Name.Local == "dict" {
				depth--
			}
		}
	}
}

func (m *EMLX) setValue(key, kind, val string) {
	switch key {
	case "flags":
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			m.AppleFlags = n
		}
	case "date-sent":
		if kind != "real" && kind != "integer" {
			return
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			m.DateSent = appleEpoch.Add(time.Duration(f * float64(time.Second)))
		}
	case "original-mailbox":
		m.OrigMailbox = val
	}
}
