package output

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/msg-to-json/model"
)

// MboxExporter writes converted records as RFC 5322 messages into an mbox
// file. Attachments are read back from the paths stored in the records.
type MboxExporter struct {
	path    string
	baseDir string
	file    *os.File
	writer  *mboxlib.Writer
	count   int
}

// NewMboxExporter creates (or truncates) the mbox file at path. baseDir is the
// directory attachment paths are relative to.
func NewMboxExporter(path, baseDir string) (*MboxExporter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create mbox directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create mbox: %w", err)
	}
	return &MboxExporter{
		path:    path,
		baseDir: baseDir,
		file:    file,
		writer:  mboxlib.NewWriter(file),
	}, nil
}

// Count returns the number of messages written so far.
func (e *MboxExporter) Count() int {
	return e.count
}

// Add appends rec to the mbox.
func (e *MboxExporter) Add(rec model.Record) error {
	date := recordTime(rec)

	var h mail.Header
	h.SetDate(date)
	h.SetSubject(rec.Subject)
	h.SetAddressList("From", addressList([]string{rec.Sender}))
	h.SetAddressList("To", addressList(rec.Recipients))
	h.SetAddressList("Cc", addressList(rec.Cc))
	if rec.MessageID != "" {
		h.SetMessageID(rec.MessageID)
	}

	from := "MAILER-DAEMON"
	if list := addressList([]string{rec.Sender}); len(list) > 0 {
		from = list[0].Address
	}
	if date.IsZero() {
		date = time.Unix(0, 0).UTC()
	}

	dst, err := e.writer.CreateMessage(from, date)
	if err != nil {
		return fmt.Errorf("mbox message %s: %w", rec.SourceFile, err)
	}
	if err := e.writeMessage(dst, h, rec); err != nil {
		return fmt.Errorf("mbox message %s: %w", rec.SourceFile, err)
	}

	e.count++
	return nil
}

func (e *MboxExporter) writeMessage(dst io.Writer, h mail.Header, rec model.Record) error {
	mw, err := mail.CreateWriter(dst, h)
	if err != nil {
		return err
	}

	var ih mail.InlineHeader
	ih.SetContentType(bodyType(rec.Body), map[string]string{"charset": "utf-8"})
	body, err := mw.CreateSingleInline(ih)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(body, rec.Body); err != nil {
		return err
	}
	if err := body.Close(); err != nil {
		return err
	}

	for _, ref := range rec.Attachments {
		if err := e.writeAttachment(mw, ref); err != nil {
			return err
		}
	}

	return mw.Close()
}

func (e *MboxExporter) writeAttachment(mw *mail.Writer, ref model.AttachmentRef) error {
	data, err := os.ReadFile(filepath.Join(e.baseDir, filepath.FromSlash(ref.Path)))
	if err != nil {
		return fmt.Errorf("read attachment %s: %w", ref.Name, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(ref.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.Set("Content-Type", contentType)
	ah.SetFilename(ref.Name)

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Close()
}

// Close finishes the last message and closes the file.
func (e *MboxExporter) Close() error {
	if e.file == nil {
		return nil
	}
	err := e.writer.Close()
	if cerr := e.file.Close(); err == nil {
		err = cerr
	}
	e.file = nil
	if err != nil {
		return fmt.Errorf("close mbox %s: %w", e.path, err)
	}
	return nil
}

func recordTime(rec model.Record) time.Time {
	if rec.Timestamp == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, *rec.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

func addressList(values []string) []*mail.Address {
	var out []*mail.Address
	for _, v := range values {
		if !strings.Contains(v, "@") {
			continue
		}
		addr, err := mail.ParseAddress(v)
		if err != nil {
			addr = &mail.Address{Address: strings.TrimSpace(v)}
		}
		out = append(out, addr)
	}
	return out
}

func bodyType(body string) string {
	trimmed := strings.ToLower(strings.TrimSpace(body))
	if strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html") ||
		(strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, "</")) {
		return "text/html"
	}
	return "text/plain"
}
