// Package normalize turns raw parsed messages into output records. Each
// message is handled on its own; nothing is shared between messages.
package normalize

import (
	"bufio"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/microcosm-cc/bluemonday"

	"github.com/dhcgn/msg-to-json/model"
)

// Normalizer applies a Policy to messages.
type Normalizer struct {
	policy    Policy
	layouts   []string
	sanitizer *bluemonday.Policy
}

// New returns a Normalizer for policy.
func New(policy Policy) *Normalizer {
	layouts := make([]string, 0, len(policy.DateLayouts)+len(defaultLayouts))
	layouts = append(layouts, policy.DateLayouts...)
	layouts = append(layouts, defaultLayouts...)

	return &Normalizer{
		policy:    policy,
		layouts:   layouts,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Policy returns the policy in effect.
func (n *Normalizer) Policy() Policy {
	return n.policy
}

// Message normalizes every field of msg except identity and attachments,
// which depend on where the record is written.
func (n *Normalizer) Message(msg model.Message) model.Record {
	hdr := ParseHeaders(msg.TransportHeaders)

	to, cc, bcc := n.Recipients(msg, hdr)
	omitted := 0
	if limit := n.policy.RecipientLimit; limit > 0 && len(to) > limit {
		omitted = len(to) - limit
		to = to[:limit]
	}

	subject := n.HeaderText(msg.Subject)
	if subject == "" {
		if s, err := hdr.Subject(); err == nil {
			subject = n.HeaderText(s)
		}
	}

	messageID := strings.Trim(strings.TrimSpace(msg.MessageID), "<>")
	if messageID == "" {
		if id, err := hdr.MessageID(); err == nil {
			messageID = id
		}
	}

	sent := n.Timestamp(n.sentTime(msg.SentAt, hdr))
	received := n.Timestamp(n.receivedTime(msg.ReceivedAt, hdr))
	timestamp := sent
	if timestamp == nil {
		timestamp = received
	}

	return model.Record{
		MessageID:         messageID,
		Sender:            n.Sender(msg, hdr),
		Recipients:        to,
		RecipientsOmitted: omitted,
		Cc:                cc,
		Bcc:               bcc,
		Subject:           subject,
		Body:              n.Body(msg),
		Timestamp:         timestamp,
		Sent:              sent,
		Received:          received,
		Attachments:       []model.AttachmentRef{},
	}
}

// ParseHeaders reads a transport header block. Malformed trailing lines are
// dropped; whatever parsed before them is kept.
func ParseHeaders(raw string) mail.Header {
	raw = strings.TrimLeft(raw, " \t\r\n")
	if raw == "" {
		return mail.Header{}
	}
	r := bufio.NewReader(strings.NewReader(strings.TrimRight(raw, " \t\r\n") + "\r\n\r\n"))
	h, _ := textproto.ReadHeader(r)
	return mail.Header{Header: message.Header{Header: h}}
}

// HeaderBlock returns the header text used for filtering: the transport
// headers when present, otherwise a synthesized From/To/Cc/Subject block.
func HeaderBlock(msg model.Message) string {
	if strings.TrimSpace(msg.TransportHeaders) != "" {
		return msg.TransportHeaders
	}

	var b strings.Builder
	from := msg.Sender.Name
	if addr := firstNonEmpty(msg.Sender.SMTP, msg.Sender.Address); addr != "" {
		from = strings.TrimSpace(from + " <" + addr + ">")
	}
	b.WriteString("From: " + from + "\n")
	b.WriteString("To: " + msg.DisplayTo + "\n")
	if msg.DisplayCc != "" {
		b.WriteString("Cc: " + msg.DisplayCc + "\n")
	}
	b.WriteString("Subject: " + msg.Subject + "\n")
	return b.String()
}
