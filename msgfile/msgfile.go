package msgfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/richardlehane/mscfb"

	"github.com/dhcgn/msg-to-json/model"
)

// ErrNotMessage is returned for compound files that carry no message properties.
var ErrNotMessage = errors.New("no outlook message properties found")

// ParseError reports a file that could not be decoded. It is permanent for
// the run; callers skip the file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser decodes one message file.
type Parser func(path string) (model.Message, error)

type stream struct {
	storage string
	name    string
	data    []byte
}

// Parse opens an Outlook .msg compound file and extracts its message fields.
func Parse(path string) (msg model.Message, err error) {
	file, err := os.Open(path)
	if err != nil {
		return model.Message{}, &ParseError{Path: path, Err: err}
	}
	defer file.Close()

	// mscfb indexes sector tables straight from the file; a truncated
	// container can panic instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			msg = model.Message{}
			err = &ParseError{Path: path, Err: fmt.Errorf("corrupt container: %v", r)}
		}
	}()

	doc, err := mscfb.New(file)
	if err != nil {
		return model.Message{}, &ParseError{Path: path, Err: err}
	}

	streams, err := readStreams(doc)
	if err != nil {
		return model.Message{}, &ParseError{Path: path, Err: err}
	}

	msg, err = decode(streams)
	if err != nil {
		return model.Message{}, &ParseError{Path: path, Err: err}
	}
	msg.SourcePath = path
	for i := range msg.Attachments {
		msg.Attachments[i].Message = path
	}
	return msg, nil
}

// readStreams collects the streams of the root storage and of its direct
// recipient and attachment storages. Embedded messages nested deeper are not
// expanded.
func readStreams(doc *mscfb.Reader) ([]stream, error) {
	var out []stream
	for {
		entry, err := doc.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if entry.FileInfo().IsDir() || len(entry.Path) > 1 {
			continue
		}

		storage := ""
		if len(entry.Path) == 1 {
			storage = entry.Path[0]
		}
		if storage != "" && !strings.HasPrefix(storage, recipPrefix) && !strings.HasPrefix(storage, attachPrefix) {
			continue
		}

		data, err := io.ReadAll(entry)
		if err != nil {
			return nil, fmt.Errorf("read stream %s: %w", entry.Name, err)
		}
		out = append(out, stream{storage: storage, name: entry.Name, data: data})
	}
}

func decode(streams []stream) (model.Message, error) {
	root := newProperties()
	children := make(map[string]*properties)

	for _, s := range streams {
		props := root
		headerSize := rootPropertiesHeader
		if s.storage != "" {
			props = children[s.storage]
			if props == nil {
				props = newProperties()
				children[s.storage] = props
			}
			headerSize = storagePropertiesHeader
		}

		switch {
		case s.name == propertiesStream:
			props.addFixed(s.data, headerSize)
		case strings.HasPrefix(s.name, substgPrefix):
			props.addStream(s.name, s.data)
		}
	}

	if root.empty() {
		return model.Message{}, ErrNotMessage
	}

	codepage, ok := root.int32(propMessageCodepage)
	if !ok {
		codepage = defaultCodepage
	}
	internetCodepage, ok := root.int32(propInternetCodepage)
	if !ok {
		internetCodepage = 65001
	}

	msg := model.Message{
		MessageID:        strings.TrimSpace(root.text(propInternetMessageID, codepage)),
		Subject:          root.text(propSubject, codepage),
		Body:             root.text(propBody, codepage),
		HTMLBody:         root.text(propHTML, internetCodepage),
		DisplayTo:        root.text(propDisplayTo, codepage),
		DisplayCc:        root.text(propDisplayCc, codepage),
		TransportHeaders: root.text(propTransportHeaders, codepage),
		SentAt:           root.time(propClientSubmitTime),
		ReceivedAt:       root.time(propDeliveryTime),
		CodePage:         codepage,
		Sender: model.Sender{
			Name:    firstNonEmpty(root.text(propSenderName, codepage), root.text(propSentRepName, codepage)),
			Address: firstNonEmpty(root.text(propSenderEmail, codepage), root.text(propSentRepEmail, codepage)),
			SMTP:    firstNonEmpty(root.text(propSenderSMTPAddress, codepage), root.text(propSentRepSMTPAddress, codepage)),
		},
	}

	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		props := children[name]
		switch {
		case strings.HasPrefix(name, recipPrefix):
			msg.Recipients = append(msg.Recipients, decodeRecipient(props, codepage))
		case strings.HasPrefix(name, attachPrefix):
			if att, ok := decodeAttachment(props, codepage); ok {
				msg.Attachments = append(msg.Attachments, att)
			}
		}
	}

	return msg, nil
}

func decodeRecipient(props *properties, codepage int) model.Recipient {
	kind := model.RecipientTo
	if v, ok := props.int32(propRecipientType); ok {
		switch v {
		case 2:
			kind = model.RecipientCc
		case 3:
			kind = model.RecipientBcc
		}
	}
	return model.Recipient{
		Name:    props.text(propDisplayName, codepage),
		Address: props.text(propEmailAddress, codepage),
		SMTP:    props.text(propSMTPAddress, codepage),
		Kind:    kind,
	}
}

// decodeAttachment returns false for attachments without a binary payload,
// such as embedded messages and OLE objects.
func decodeAttachment(props *properties, codepage int) (model.Attachment, bool) {
	data := props.binary(propAttachData)
	if data == nil {
		return model.Attachment{}, false
	}
	return model.Attachment{
		LongName:    props.text(propAttachLongFilename, codepage),
		ShortName:   props.text(propAttachFilename, codepage),
		DisplayName: props.text(propDisplayName, codepage),
		Extension:   props.text(propAttachExtension, codepage),
		MimeType:    props.text(propAttachMimeTag, codepage),
		Data:        data,
	}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
