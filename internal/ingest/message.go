package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/udisondev/framecap/internal/constants"
	"github.com/udisondev/framecap/internal/protocol"
)

// Kind is the host bridge message type.
type Kind uint8

const (
	KindFrame      Kind = 1
	KindResolution Kind = 2
	KindSkipNext   Kind = 3
	KindKeyProbe   Kind = 4
	KindDisable    Kind = 5
	KindEnable     Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "Frame"
	case KindResolution:
		return "Resolution"
	case KindSkipNext:
		return "SkipNext"
	case KindKeyProbe:
		return "KeyProbe"
	case KindDisable:
		return "Disable"
	case KindEnable:
		return "Enable"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ErrMalformedMessage is returned for messages whose body does not match their kind.
var ErrMalformedMessage = errors.New("malformed bridge message")

const (
	frameBodyHeader = 2
	resolutionBody  = 4
	keyProbeBody    = constants.ObfuscationKeyCount + 8
)

// ReadMessage reads one message from r. The body is a subslice of buf when it
// fits, otherwise a fresh allocation.
// Wire: [u32 LE length of kind+body][u8 kind][body].
func ReadMessage(r io.Reader, buf []byte) (Kind, []byte, error) {
	var header [constants.IngestMessageHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("reading message header: %w", err)
	}

	n := int(binary.LittleEndian.Uint32(header[:]))
	if n < 1 {
		return 0, nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}
	if n > constants.IngestMaxMessageSize {
		return 0, nil, fmt.Errorf("%w: length %d exceeds %d", ErrMalformedMessage, n, constants.IngestMaxMessageSize)
	}

	msg := buf
	if n > len(buf) {
		msg = make([]byte, n)
	}
	msg = msg[:n]
	if _, err := io.ReadFull(r, msg); err != nil {
		return 0, nil, fmt.Errorf("reading message body: %w", err)
	}
	return Kind(msg[0]), msg[1:], nil
}

// WriteMessage writes one message to w.
func WriteMessage(w io.Writer, kind Kind, body ...[]byte) error {
	n := 1
	for _, b := range body {
		n += len(b)
	}
	if n > constants.IngestMaxMessageSize {
		return fmt.Errorf("write message: length %d exceeds %d", n, constants.IngestMaxMessageSize)
	}

	buf := make([]byte, constants.IngestMessageHeaderSize+1, constants.IngestMessageHeaderSize+n)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	buf[constants.IngestMessageHeaderSize] = byte(kind)
	for _, b := range body {
		buf = append(buf, b...)
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing %s message: %w", kind, err)
	}
	return nil
}

// FrameBody encodes a frame message body.
func FrameBody(ch protocol.Channel, dir protocol.Direction, frame []byte) []byte {
	b := make([]byte, frameBodyHeader, frameBodyHeader+len(frame))
	b[0], b[1] = byte(ch), byte(dir)
	return append(b, frame...)
}

// DecodeFrame splits a frame message body.
func DecodeFrame(body []byte) (protocol.Channel, protocol.Direction, []byte, error) {
	if len(body) < frameBodyHeader {
		return 0, 0, nil, fmt.Errorf("%w: frame body of %d bytes", ErrMalformedMessage, len(body))
	}
	ch, dir := protocol.Channel(body[0]), protocol.Direction(body[1])
	if ch > protocol.ChannelChat || dir > protocol.DirectionTx {
		return 0, 0, nil, fmt.Errorf("%w: channel %d direction %d", ErrMalformedMessage, body[0], body[1])
	}
	return ch, dir, body[frameBodyHeader:], nil
}

// ResolutionBody encodes a resolution message body.
func ResolutionBody(recipient uint32, payload []byte) []byte {
	b := binary.LittleEndian.AppendUint32(make([]byte, 0, resolutionBody+len(payload)), recipient)
	return append(b, payload...)
}

// DecodeResolution splits a resolution message body.
func DecodeResolution(body []byte) (uint32, []byte, error) {
	if len(body) < resolutionBody {
		return 0, nil, fmt.Errorf("%w: resolution body of %d bytes", ErrMalformedMessage, len(body))
	}
	return binary.LittleEndian.Uint32(body), body[resolutionBody:], nil
}

// KeyProbe is the live key state read from the host at attach time.
type KeyProbe struct {
	Live     [constants.ObfuscationKeyCount]byte
	CounterA uint32
	CounterB uint32
}

// Encode returns the message body.
func (k KeyProbe) Encode() []byte {
	b := make([]byte, 0, keyProbeBody)
	b = append(b, k.Live[:]...)
	b = binary.LittleEndian.AppendUint32(b, k.CounterA)
	return binary.LittleEndian.AppendUint32(b, k.CounterB)
}

// DecodeKeyProbe parses a key probe message body.
func DecodeKeyProbe(body []byte) (KeyProbe, error) {
	if len(body) != keyProbeBody {
		return KeyProbe{}, fmt.Errorf("%w: key probe body of %d bytes", ErrMalformedMessage, len(body))
	}
	var k KeyProbe
	copy(k.Live[:], body)
	k.CounterA = binary.LittleEndian.Uint32(body[constants.ObfuscationKeyCount:])
	k.CounterB = binary.LittleEndian.Uint32(body[constants.ObfuscationKeyCount+4:])
	return k, nil
}
