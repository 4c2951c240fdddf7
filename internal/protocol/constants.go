package protocol

// Wire format version, carried in the stream transport's hello preamble.
const Version = 1

// Stream framing header: [4B payload_length big-endian][1B kind]
const HeaderSize = 5

// Maximum payload size on a stream transport (16 MB). A full 8x8 canvas of
// 40x40 cells is 400 KB, so this leaves room for much larger cells.
const MaxPayloadSize = 16 * 1024 * 1024

// Kind distinguishes control text from binary frames on one connection.
type Kind byte

const (
	KindHello  Kind = 0x00 // stream preamble, never surfaced to peers
	KindText   Kind = 0x01 // control message (JSON)
	KindBinary Kind = 0x02 // pixel frame
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Pixel frame layout.
const (
	PixelSize           = 4 // RGBA
	SingleHeaderSize    = 2 // u16 dim
	MultiplexHeaderSize = 2 // u16 count
	IdentitySize        = 8 // u64 painter identity
	MaxMultiplexEntries = 1<<16 - 1
)

// Control message discriminants (the "msg" field).
const (
	TagWhoAreYou = "?"
	TagSize      = "size"
	TagPull      = "p"
	TagError     = "error"
)
