package normalize

import (
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/charmap"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Text cleans a free-text field. Invalid UTF-8 bytes are read as
// Windows-1252, double-encoded UTF-8 is undone when the result is valid, and
// control characters are dropped. Anything that cannot be repaired is
// returned as it was.
func (n *Normalizer) Text(s string) string {
	if s == "" {
		return s
	}
	if !n.policy.RepairEncoding {
		return strings.ReplaceAll(s, "\x00", "")
	}
	if !utf8.ValidString(s) {
		s = repairInvalid(s)
	}
	if n.looksDoubleEncoded(s) {
		if fixed, ok := undoDoubleEncoding(s); ok {
			s = fixed
		}
	}
	return stripControl(s)
}

// HeaderText is Text for header-like fields, which may still carry RFC 2047
// encoded words.
func (n *Normalizer) HeaderText(s string) string {
	if strings.Contains(s, "=?") {
		if decoded, err := wordDecoder.DecodeHeader(s); err == nil {
			s = decoded
		}
	}
	return strings.TrimSpace(n.Text(s))
}

func (n *Normalizer) looksDoubleEncoded(s string) bool {
	for _, marker := range n.policy.MojibakeMarkers {
		if marker != "" && strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func repairInvalid(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(charmap.Windows1252.DecodeByte(s[i]))
			i++
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

// undoDoubleEncoding maps every rune back to the Windows-1252 byte it was
// decoded from (C1 runes map to themselves, covering Latin-1 decoders) and
// reports whether those bytes form valid UTF-8.
func undoDoubleEncoding(s string) (string, bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0xA0 {
			out = append(out, byte(r))
			continue
		}
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			return s, false
		}
		out = append(out, b)
	}
	if !utf8.Valid(out) {
		return s, false
	}
	fixed := string(out)
	return fixed, fixed != s
}

func stripControl(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		case r >= 0x80 && r <= 0x9f:
			return -1
		}
		return r
	}, s)
}
