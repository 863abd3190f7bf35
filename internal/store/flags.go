package store

import (
	"fmt"
	"strings"
)

// Flags is the per-message status bitset.
type Flags uint32

const (
	FlagRead Flags = 1 << iota
	FlagFlagged
	FlagSent
	FlagOutgoing
	FlagResent
	FlagForwarded
	FlagReplied
	FlagSeen
	FlagWaitingForIndexing
	FlagHasKeywords
	FlagPartial
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagRead, "read"},
	{FlagFlagged, "flagged"},
	{FlagSent, "sent"},
	{FlagOutgoing, "outgoing"},
	{FlagResent, "resent"},
	{FlagForwarded, "forwarded"},
	{FlagReplied, "replied"},
	{FlagSeen, "seen"},
	{FlagWaitingForIndexing, "waiting-for-indexing"},
	{FlagHasKeywords, "has-keywords"},
	{FlagPartial, "partial"},
}

// Has reports whether every bit of x is set.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

// With returns f with x set or cleared.
func (f Flags) With(x Flags, on bool) Flags {
	if on {
		return f | x
	}
	return f &^ x
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseFlag maps a flag name such as "read" or "flagged" to its bit.
func ParseFlag(name string) (Flags, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown flag %q", name)
}
