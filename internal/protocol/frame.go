package protocol

import (
	"fmt"
	"strings"
	"sync"
)

// Channel is one of the logical protocol sub-streams.
type Channel uint8

const (
	ChannelLobby Channel = iota
	ChannelZone
	ChannelChat
)

func (c Channel) String() string {
	switch c {
	case ChannelLobby:
		return "Lobby"
	case ChannelZone:
		return "Zone"
	case ChannelChat:
		return "Chat"
	default:
		return "Unknown"
	}
}

// Direction is the flow direction of a frame, seen from the client.
type Direction uint8

const (
	DirectionRx Direction = iota
	DirectionTx
)

func (d Direction) String() string {
	switch d {
	case DirectionRx:
		return "Rx"
	case DirectionTx:
		return "Tx"
	default:
		return "Unknown"
	}
}

// ParseChannel parses "lobby", "zone" or "chat" (case-insensitive).
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(s) {
	case "lobby":
		return ChannelLobby, nil
	case "zone":
		return ChannelZone, nil
	case "chat":
		return ChannelChat, nil
	default:
		return 0, fmt.Errorf("unknown channel %q", s)
	}
}

// ParseDirection parses "rx" or "tx" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "rx":
		return DirectionRx, nil
	case "tx":
		return DirectionTx, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// Kind is the pipeline's view of a sub-packet type code.
type Kind uint8

const (
	KindOther Kind = iota
	KindIPC
	KindKeepAlive
	KindEncryptionInit
	KindUnknownA
)

func (k Kind) String() string {
	switch k {
	case KindIPC:
		return "IPC"
	case KindKeepAlive:
		return "KeepAlive"
	case KindEncryptionInit:
		return "EncryptionInit"
	case KindUnknownA:
		return "UnknownA"
	default:
		return "Other"
	}
}

// SubPacket is one logical message inside a frame.
// Payload is nil while Pending; once resolved it holds exactly PayloadLen bytes.
type SubPacket struct {
	Type       uint16
	Kind       Kind
	Size       uint32
	Source     uint32
	Target     uint32
	Opcode     uint16
	HasOpcode  bool
	Header     []byte
	Payload    []byte
	PayloadLen int
	Pending    bool
	Class      Classification
}

// Resolve stores a deferred payload and clears Pending.
func (p *SubPacket) Resolve(payload []byte) {
	p.Payload = payload
	p.Pending = false
}

// ReadOpcode extracts the opcode from the payload when it is long enough.
func (p *SubPacket) ReadOpcode(schema Schema) bool {
	v, err := NewReader(p.Payload).Uint16(schema.OpcodeOffset)
	if err != nil {
		p.HasOpcode = false
		return false
	}
	p.Opcode = v
	p.HasOpcode = true
	return true
}

func (p *SubPacket) reset() {
	*p = SubPacket{Header: p.Header[:0], Payload: nil}
}

// Frame is one transport delivery: a header followed by sub-packets.
type Frame struct {
	Channel            Channel
	Direction          Direction
	Tag                uint64
	Timestamp          uint64
	TotalSize          uint32
	ConnectionType     uint16
	Count              uint32
	Compression        uint8
	DecompressedLength uint32
	Header             []byte
	Packets            []*SubPacket
}

// Complete reports whether every sub-packet has its payload.
func (f *Frame) Complete() bool {
	return f.Missing() == 0
}

// Missing returns the number of sub-packets still pending.
func (f *Frame) Missing() int {
	n := 0
	for _, p := range f.Packets {
		if p.Pending {
			n++
		}
	}
	return n
}

// EncodedLen returns the size of the reconstructed frame.
func (f *Frame) EncodedLen() int {
	n := len(f.Header)
	for _, p := range f.Packets {
		n += len(p.Header) + len(p.Payload)
	}
	return n
}

// AppendTo appends the reconstructed frame (header, then each sub-packet header and payload).
func (f *Frame) AppendTo(dst []byte) []byte {
	dst = append(dst, f.Header...)
	for _, p := range f.Packets {
		dst = append(dst, p.Header...)
		dst = append(dst, p.Payload...)
	}
	return dst
}

var (
	framePool  = sync.Pool{New: func() any { return new(Frame) }}
	packetPool = sync.Pool{New: func() any { return new(SubPacket) }}
)

// AcquireFrame returns an empty frame from the pool.
func AcquireFrame() *Frame {
	return framePool.Get().(*Frame)
}

// AcquireSubPacket returns an empty sub-packet from the pool.
func AcquireSubPacket() *SubPacket {
	return packetPool.Get().(*SubPacket)
}

// ReleaseFrame returns the frame and all its sub-packets to their pools.
// The frame must not be used afterwards.
func ReleaseFrame(f *Frame) {
	if f == nil {
		return
	}
	for i, p := range f.Packets {
		p.reset()
		packetPool.Put(p)
		f.Packets[i] = nil
	}
	*f = Frame{Header: f.Header[:0], Packets: f.Packets[:0]}
	framePool.Put(f)
}
