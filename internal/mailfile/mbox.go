package mailfile

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMessageTooLarge is returned for a message over the size limit.
var ErrMessageTooLarge = errors.New("message exceeds max size")

var fromPrefix = []byte("From ")

var fromDateLayouts = []string{
	"Mon Jan 2 15:04:05 2006",
	"Mon Jan 2 15:04:05 -0700 2006",
	"Mon Jan 2 15:04:05 MST 2006",
	"Mon Jan 2 15:04:05 2006 -0700",
	"Mon Jan 2 15:04 2006",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Jan 2 15:04:05 2006",
}

// fromLineDate parses the date of an mbox "From sender date" separator.
func fromLineDate(line string) (time.Time, bool) {
	fields := strings.Fields(strings.TrimRight(line, "\r\n"))
	if len(fields) < 3 || fields[0] != "From" {
		return time.Time{}, false
	}
	date := strings.Join(fields[2:], " ")
	for _, layout := range fromDateLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isFromSeparator(line []byte) bool {
	if !bytes.HasPrefix(line, fromPrefix) {
		return false
	}
	_, ok := fromLineDate(string(line))
	return ok
}

// unescapeFrom removes one '>' from lines matching ^>+From (mboxrd).
func unescapeFrom(line []byte) []byte {
	i := 0
	for i < len(line) && line[i] == '>' {
		i++
	}
	if i > 0 && bytes.HasPrefix(line[i:], fromPrefix) {
		return line[1:]
	}
	return line
}

// readMbox splits an mbox archive at its "From " separators. Text before
// the first separator is ignored.
func readMbox(path string, data []byte, maxMessageBytes int64) ([]Item, error) {
	var (
		items   []Item
		cur     *Item
		body    bytes.Buffer
		skipped bool
	)
	flush := func() error {
		if cur == nil {
			return nil
		}
		if skipped {
			return fmt.Errorf("%s: %w", cur.SourceID, ErrMessageTooLarge)
		}
		cur.Raw = bytes.Clone(body.Bytes())
		items = append(items, *cur)
		return nil
	}

	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i+1]
		}
		data = data[len(line):]

		if isFromSeparator(line) {
			if err := flush(); err != nil {
				return nil, err
			}
			date, _ := fromLineDate(string(line))
			cur = &Item{SourceID: fmt.Sprintf("%s#%d", path, len(items)+1), Date: date}
			body.Reset()
			skipped = false
			continue
		}
		if cur == nil || skipped {
			continue
		}
		b := unescapeFrom(line)
		if maxMessageBytes > 0 && int64(body.Len()+len(b)) > maxMessageBytes {
			skipped = true
			continue
		}
		body.Write(b)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: no \"From \" separators found (not an mbox file?)", path)
	}
	return items, nil
}
