// Package textutil provides text normalization for indexing and display.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// fallbackEncodings are tried in order when detection fails. Single-byte
// Western encodings come first since they are the most common in mail.
var fallbackEncodings = []encoding.Encoding{
	charmap.Windows1252,
	charmap.ISO8859_1,
	charmap.ISO8859_15,
	japanese.ShiftJIS,
	japanese.EUCJP,
	korean.EUCKR,
	simplifiedchinese.GBK,
	traditionalchinese.Big5,
}

// EnsureUTF8 ensures a string is valid UTF-8.
// If already valid UTF-8, returns as-is.
// Otherwise attempts charset detection and conversion, falling back to
// replacing invalid bytes with the replacement character.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	data := []byte(s)

	// Detection is unreliable on short input, so demand less confidence.
	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err == nil && result.Confidence >= minConfidence {
		if enc := EncodingByName(result.Charset); enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}

	for _, enc := range fallbackEncodings {
		if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}
	return SanitizeUTF8(s)
}

// SanitizeUTF8 replaces invalid UTF-8 bytes with the replacement character.
func SanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// EncodingByName returns the encoding for an IANA or WHATWG charset label,
// or nil when the label is unknown.
func EncodingByName(name string) encoding.Encoding {
	enc, err := htmlindex.Get(strings.TrimSpace(name))
	if err != nil {
		return nil
	}
	return enc
}
