package normalize

import (
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

var defaultLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006 3:04 PM",
	"January 2, 2006 3:04 PM",
	"Monday, January 2, 2006 3:04 PM",
}

// ParseDate tries the policy layouts followed by the built-in ones and returns
// the first plausible result. Values without a zone are read as UTC and
// numeric slash dates are read day first.
func (n *Normalizer) ParseDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range n.layouts {
		if t, err := time.Parse(layout, s); err == nil && n.plausible(t) {
			return t, true
		}
	}
	return time.Time{}, false
}

// Timestamp renders t in the canonical RFC 3339 UTC form, or nil when t is
// unset or outside the plausible range.
func (n *Normalizer) Timestamp(t time.Time) *string {
	if !n.plausible(t) {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func (n *Normalizer) plausible(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	year := t.UTC().Year()
	return year >= n.policy.MinYear && year <= n.policy.MaxYear
}

// sentTime reconciles the container submit time with the transport Date header.
func (n *Normalizer) sentTime(container time.Time, hdr mail.Header) time.Time {
	if n.plausible(container) {
		return container
	}
	if t, err := hdr.Date(); err == nil && n.plausible(t) {
		return t
	}
	if t, ok := n.ParseDate(hdr.Get("Date")); ok {
		return t
	}
	return time.Time{}
}

// receivedTime falls back to the date stamp of the newest Received header.
func (n *Normalizer) receivedTime(container time.Time, hdr mail.Header) time.Time {
	if n.plausible(container) {
		return container
	}
	received := hdr.Get("Received")
	if idx := strings.LastIndex(received, ";"); idx >= 0 {
		if t, ok := n.ParseDate(received[idx+1:]); ok {
			return t
		}
	}
	return time.Time{}
}
