package normalize

import (
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/msg-to-json/model"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// addressSet keeps insertion order and drops case-insensitive duplicates.
type addressSet struct {
	seen  map[string]struct{}
	items []string
}

func newAddressSet() *addressSet {
	return &addressSet{seen: make(map[string]struct{})}
}

func (s *addressSet) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	key := strings.ToLower(v)
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, v)
}

func (s *addressSet) list() []string {
	if s.items == nil {
		return []string{}
	}
	return s.items
}

// ExtractEmail returns the first bare email address found in s.
func ExtractEmail(s string) string {
	return emailPattern.FindString(s)
}

// bareAddress picks the first candidate that yields a usable email address.
// Exchange X.500 distinguished names never match and are skipped.
func bareAddress(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || !strings.Contains(c, "@") {
			continue
		}
		if addr, err := mail.ParseAddress(c); err == nil && addr.Address != "" {
			return addr.Address
		}
		if email := ExtractEmail(c); email != "" {
			return email
		}
	}
	return ""
}

// Sender returns the sender address. Structured properties win over the
// transport From header, which wins over regex extraction from the display
// name.
func (n *Normalizer) Sender(msg model.Message, hdr mail.Header) string {
	name := n.HeaderText(msg.Sender.Name)

	if !n.policy.AddressCleanup {
		addr := firstNonEmpty(msg.Sender.SMTP, msg.Sender.Address)
		switch {
		case name != "" && addr != "" && !strings.EqualFold(name, addr):
			return name + " <" + n.Text(addr) + ">"
		case name != "":
			return name
		default:
			return n.Text(addr)
		}
	}

	var fromHeader string
	if list, err := hdr.AddressList("From"); err == nil && len(list) > 0 {
		fromHeader = list[0].Address
	}

	if addr := bareAddress(msg.Sender.SMTP, msg.Sender.Address, fromHeader, name); addr != "" {
		return addr
	}
	if n.policy.KeepDisplayNames {
		return name
	}
	return ""
}

// Recipients returns the To, Cc and Bcc address lists.
func (n *Normalizer) Recipients(msg model.Message, hdr mail.Header) (to, cc, bcc []string) {
	if !n.policy.AddressCleanup {
		return n.rawList(msg.DisplayTo, msg.Recipients, model.RecipientTo),
			n.rawList(msg.DisplayCc, msg.Recipients, model.RecipientCc),
			[]string{}
	}

	sets := map[model.RecipientKind]*addressSet{
		model.RecipientTo:  newAddressSet(),
		model.RecipientCc:  newAddressSet(),
		model.RecipientBcc: newAddressSet(),
	}
	for _, r := range msg.Recipients {
		set, ok := sets[r.Kind]
		if !ok {
			continue
		}
		if addr := bareAddress(r.SMTP, r.Address, r.Name); addr != "" {
			set.add(addr)
		} else if n.policy.KeepDisplayNames {
			set.add(n.HeaderText(r.Name))
		}
	}

	if len(sets[model.RecipientTo].items) == 0 {
		n.addFreeText(sets[model.RecipientTo], msg.DisplayTo)
	}
	if len(sets[model.RecipientTo].items) == 0 {
		n.addHeaderList(sets[model.RecipientTo], hdr, "To")
	}
	if len(sets[model.RecipientCc].items) == 0 {
		n.addFreeText(sets[model.RecipientCc], msg.DisplayCc)
	}
	if len(sets[model.RecipientCc].items) == 0 {
		n.addHeaderList(sets[model.RecipientCc], hdr, "Cc")
	}

	return sets[model.RecipientTo].list(), sets[model.RecipientCc].list(), sets[model.RecipientBcc].list()
}

// SplitAddresses splits a combined recipient string into bare addresses.
func (n *Normalizer) SplitAddresses(free string) []string {
	set := newAddressSet()
	n.addFreeText(set, free)
	return set.list()
}

func (n *Normalizer) addFreeText(set *addressSet, free string) {
	free = n.HeaderText(free)
	if free == "" {
		return
	}

	if list, err := mail.ParseAddressList(free); err == nil {
		for _, addr := range list {
			set.add(addr.Address)
		}
		return
	}

	for _, part := range splitParts(free) {
		if email := ExtractEmail(part); email != "" {
			set.add(email)
		} else if n.policy.KeepDisplayNames {
			set.add(strings.Trim(part, `"' `))
		}
	}
}

func (n *Normalizer) addHeaderList(set *addressSet, hdr mail.Header, key string) {
	list, err := hdr.AddressList(key)
	if err == nil {
		for _, addr := range list {
			set.add(addr.Address)
		}
		return
	}
	n.addFreeText(set, hdr.Get(key))
}

func (n *Normalizer) rawList(free string, recipients []model.Recipient, kind model.RecipientKind) []string {
	out := splitParts(n.HeaderText(free))
	if len(out) > 0 {
		return out
	}
	for _, r := range recipients {
		if r.Kind != kind {
			continue
		}
		if v := n.HeaderText(firstNonEmpty(r.Name, r.SMTP, r.Address)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// splitParts splits on semicolons, which Outlook uses in display lists, and
// on commas when no semicolon is present and every comma-separated part
// carries an address.
func splitParts(s string) []string {
	var parts []string
	if strings.Contains(s, ";") {
		parts = strings.Split(s, ";")
	} else {
		parts = strings.Split(s, ",")
		for _, p := range parts {
			if !strings.Contains(p, "@") {
				parts = []string{s}
				break
			}
		}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
