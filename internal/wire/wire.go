package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

var (
	// ErrMalformedMessage indicates a datagram that cannot be parsed
	// as a DNS message. The caller drops the datagram and logs.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrMessageTooLarge indicates a datagram over the UDP size limit
	ErrMessageTooLarge = errors.New("message exceeds size limit")
)

const (
	// MaxMessageSize is the largest datagram the server accepts.
	// Anything larger is treated as malformed.
	MaxMessageSize = 65535

	headerSize = 12
)

// Header is the fixed 12-byte DNS header, decoded without touching the
// variable-length sections. The event loop uses it to dispatch a datagram
// (request vs response, opcode screening) before paying for a full unpack.
type Header struct {
	ID      uint16
	QR      bool  // Query (false) or Response (true)
	Opcode  uint8 // 4 bits
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Rcode   uint8
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// SniffHeader decodes the fixed header from a raw datagram.
func SniffHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < headerSize {
		return h, fmt.Errorf("%w: %d byte datagram", ErrMalformedMessage, len(buf))
	}

	h.ID = binary.BigEndian.Uint16(buf[0:2])

	flags := binary.BigEndian.Uint16(buf[2:4])
	h.QR = (flags & 0x8000) != 0
	h.Opcode = uint8((flags >> 11) & 0x0F)
	h.AA = (flags & 0x0400) != 0
	h.TC = (flags & 0x0200) != 0
	h.RD = (flags & 0x0100) != 0
	h.RA = (flags & 0x0080) != 0
	h.Rcode = uint8(flags & 0x0F)

	h.QDCount = binary.BigEndian.Uint16(buf[4:6])
	h.ANCount = binary.BigEndian.Uint16(buf[6:8])
	h.NSCount = binary.BigEndian.Uint16(buf[8:10])
	h.ARCount = binary.BigEndian.Uint16(buf[10:12])

	return h, nil
}

// Unpack parses a datagram into a message. Compression pointers, label
// lengths and section counts are validated by the decoder; any violation
// surfaces as ErrMalformedMessage.
func Unpack(buf []byte) (*dns.Msg, error) {
	if len(buf) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(buf))
	}
	h, err := SniffHeader(buf)
	if err != nil {
		return nil, err
	}
	m := new(dns.Msg)
	if err := m.Unpack(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	// The decoder stops without an error when the header claims more
	// records than the datagram holds; compare against the header counts.
	if len(m.Question) != int(h.QDCount) || len(m.Answer) != int(h.ANCount) ||
		len(m.Ns) != int(h.NSCount) || len(m.Extra) != int(h.ARCount) {
		return nil, fmt.Errorf("%w: section counts disagree with header", ErrMalformedMessage)
	}
	return m, nil
}

// Pack serialises a message to wire format with name compression.
func Pack(m *dns.Msg) ([]byte, error) {
	m.Compress = true
	buf, err := m.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack message: %w", err)
	}
	if len(buf) > MaxMessageSize {
		return nil, fmt.Errorf("pack message: %w", ErrMessageTooLarge)
	}
	return buf, nil
}
