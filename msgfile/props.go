package msgfile

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/charmap"
)

func init() {
	// Outlook writes 8-bit strings in the sender's ANSI code page, which are
	// mostly Windows code pages that ianaindex does not resolve by these names.
	charset.RegisterEncoding("windows-1250", charmap.Windows1250)
	charset.RegisterEncoding("windows-1251", charmap.Windows1251)
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("windows-1253", charmap.Windows1253)
	charset.RegisterEncoding("windows-1254", charmap.Windows1254)
	charset.RegisterEncoding("windows-1257", charmap.Windows1257)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
}

// MAPI property types.
const (
	typeInt32   uint16 = 0x0003
	typeString8 uint16 = 0x001E
	typeUnicode uint16 = 0x001F
	typeSysTime uint16 = 0x0040
	typeBinary  uint16 = 0x0102
)

// MAPI property ids used by the decoder.
const (
	propSubject             uint16 = 0x0037
	propClientSubmitTime    uint16 = 0x0039
	propSentRepName         uint16 = 0x0042
	propSentRepEmail        uint16 = 0x0065
	propTransportHeaders    uint16 = 0x007D
	propRecipientType       uint16 = 0x0C15
	propSenderName          uint16 = 0x0C1A
	propSenderEmail         uint16 = 0x0C1F
	propDisplayCc           uint16 = 0x0E03
	propDisplayTo           uint16 = 0x0E04
	propDeliveryTime        uint16 = 0x0E06
	propBody                uint16 = 0x1000
	propHTML                uint16 = 0x1013
	propInternetMessageID   uint16 = 0x1035
	propDisplayName         uint16 = 0x3001
	propEmailAddress        uint16 = 0x3003
	propAttachData          uint16 = 0x3701
	propAttachExtension     uint16 = 0x3703
	propAttachFilename      uint16 = 0x3704
	propAttachLongFilename  uint16 = 0x3707
	propAttachMimeTag       uint16 = 0x370E
	propSMTPAddress         uint16 = 0x39FE
	propInternetCodepage    uint16 = 0x3FDE
	propMessageCodepage     uint16 = 0x3FFD
	propSenderSMTPAddress   uint16 = 0x5D01
	propSentRepSMTPAddress  uint16 = 0x5D02
	defaultCodepage                = 1252
	filetimeUnixEpochOffset int64  = 116444736000000000
)

const (
	substgPrefix     = "__substg1.0_"
	propertiesStream = "__properties_version1.0"
	recipPrefix      = "__recip_version1.0_"
	attachPrefix     = "__attach_version1.0_"

	rootPropertiesHeader    = 32
	storagePropertiesHeader = 8
	propertyEntrySize       = 16
)

var codepageNames = map[int]string{
	874:   "windows-874",
	932:   "shift_jis",
	936:   "gbk",
	949:   "euc-kr",
	950:   "big5",
	1250:  "windows-1250",
	1251:  "windows-1251",
	1252:  "windows-1252",
	1253:  "windows-1253",
	1254:  "windows-1254",
	1255:  "windows-1255",
	1256:  "windows-1256",
	1257:  "windows-1257",
	1258:  "windows-1258",
	20127: "us-ascii",
	20866: "koi8-r",
	28591: "iso-8859-1",
	28592: "iso-8859-2",
	28605: "iso-8859-15",
	50220: "iso-2022-jp",
	51932: "euc-jp",
	65001: "utf-8",
}

type value struct {
	typ  uint16
	data []byte
}

// properties is the property bag of one storage: variable-length values come
// from substorage streams, fixed-size values from the properties stream.
type properties struct {
	streams map[uint16]value
	fixed   map[uint16]value
}

func newProperties() *properties {
	return &properties{
		streams: make(map[uint16]value),
		fixed:   make(map[uint16]value),
	}
}

func (p *properties) empty() bool {
	return len(p.streams) == 0 && len(p.fixed) == 0
}

// addStream registers a "__substg1.0_PPPPTTTT" stream. Multi-valued
// properties carry an index suffix and are ignored.
func (p *properties) addStream(name string, data []byte) bool {
	tag := strings.TrimPrefix(name, substgPrefix)
	if len(tag) != 8 {
		return false
	}
	raw, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	id := binary.BigEndian.Uint16(raw[0:2])
	typ := binary.BigEndian.Uint16(raw[2:4])
	p.streams[id] = value{typ: typ, data: data}
	return true
}

// addFixed decodes the 16-byte entries of a properties stream.
func (p *properties) addFixed(data []byte, headerSize int) {
	if len(data) < headerSize {
		return
	}
	for off := headerSize; off+propertyEntrySize <= len(data); off += propertyEntrySize {
		entry := data[off : off+propertyEntrySize]
		typ := binary.LittleEndian.Uint16(entry[0:2])
		id := binary.LittleEndian.Uint16(entry[2:4])
		p.fixed[id] = value{typ: typ, data: entry[8:16]}
	}
}

func (p *properties) text(id uint16, codepage int) string {
	v, ok := p.streams[id]
	if !ok {
		return ""
	}
	switch v.typ {
	case typeUnicode:
		return decodeUTF16(v.data)
	case typeString8, typeBinary:
		return decodeCodepage(v.data, codepage)
	}
	return ""
}

func (p *properties) binary(id uint16) []byte {
	v, ok := p.streams[id]
	if !ok || v.typ != typeBinary {
		return nil
	}
	return v.data
}

func (p *properties) int32(id uint16) (int, bool) {
	v, ok := p.fixed[id]
	if !ok || v.typ != typeInt32 {
		return 0, false
	}
	return int(int32(binary.LittleEndian.Uint32(v.data[0:4]))), true
}

func (p *properties) time(id uint16) time.Time {
	v, ok := p.fixed[id]
	if !ok || v.typ != typeSysTime {
		return time.Time{}
	}
	return filetime(int64(binary.LittleEndian.Uint64(v.data)))
}

func filetime(ft int64) time.Time {
	if ft <= 0 {
		return time.Time{}
	}
	ticks := ft - filetimeUnixEpochOffset
	return time.Unix(ticks/1e7, (ticks%1e7)*100).UTC()
}

func decodeUTF16(b []byte) string {
	if len(b)%2 == 1 {
		b = b[:len(b)-1]
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	for len(units) > 0 && units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	return string(utf16.Decode(units))
}

// decodeCodepage converts 8-bit text to UTF-8. Unknown code pages and decode
// failures return the bytes unchanged so the normalizer can still repair them.
func decodeCodepage(b []byte, codepage int) string {
	b = bytes.TrimRight(b, "\x00")
	if codepage == 0 {
		codepage = defaultCodepage
	}
	name, ok := codepageNames[codepage]
	if !ok || name == "utf-8" || name == "us-ascii" {
		return string(b)
	}
	r, err := charset.Reader(name, bytes.NewReader(b))
	if err != nil {
		return string(b)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(b)
	}
	return string(out)
}
