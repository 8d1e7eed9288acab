package model

// AttachmentRef describes an attachment written to disk. Path is relative to
// the directory of the JSON output file.
type AttachmentRef struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Record is one normalized row of the aggregate output.
type Record struct {
	ID                string          `json:"id"`
	SourceFile        string          `json:"source_file"`
	MessageID         string          `json:"message_id"`
	Sender            string          `json:"sender"`
	Recipients        []string        `json:"recipients"`
	RecipientsOmitted int             `json:"recipients_omitted,omitempty"`
	Cc                []string        `json:"cc"`
	Bcc               []string        `json:"bcc,omitempty"`
	Subject           string          `json:"subject"`
	Body              string          `json:"body"`
	Timestamp         *string         `json:"timestamp"`
	Sent              *string         `json:"sent"`
	Received          *string         `json:"received"`
	Attachments       []AttachmentRef `json:"attachments"`
}
