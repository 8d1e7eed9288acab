package model

import "time"

// RecipientKind mirrors the MAPI recipient type of a structured recipient entry.
type RecipientKind int

const (
	RecipientTo RecipientKind = iota + 1
	RecipientCc
	RecipientBcc
)

// Recipient is a structured recipient entry as stored in the message container.
type Recipient struct {
	Name    string
	Address string
	SMTP    string
	Kind    RecipientKind
}

// Sender holds every sender candidate found in the container.
type Sender struct {
	Name    string
	Address string
	SMTP    string
}

// Attachment is a raw attachment payload. Message is a back-reference to the
// source file the attachment came from.
type Attachment struct {
	LongName    string
	ShortName   string
	DisplayName string
	Extension   string
	MimeType    string
	Data        []byte
	Message     string
}

// Message represents a single parsed .msg file before normalization.
type Message struct {
	SourcePath       string
	MessageID        string
	Sender           Sender
	Recipients       []Recipient
	DisplayTo        string
	DisplayCc        string
	Subject          string
	Body             string
	HTMLBody         string
	SentAt           time.Time
	ReceivedAt       time.Time
	TransportHeaders string
	CodePage         int
	Attachments      []Attachment
}

// Envelope wraps a message alongside an optional error encountered while decoding.
type Envelope struct {
	Path    string
	Message Message
	Err     error
}
