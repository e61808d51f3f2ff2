package testutil

import (
	"encoding/binary"

	"github.com/udisondev/framecap/internal/constants"
)

// Segment описывает один sub-packet для сборки тестового фрейма.
type Segment struct {
	Type    uint16
	Source  uint32
	Target  uint32
	Payload []byte
}

// FrameOptions задаёт поля заголовка фрейма, не вычисляемые из сегментов.
type FrameOptions struct {
	Tag            uint64
	Timestamp      uint64
	ConnectionType uint16
	Compression    uint8
}

// BuildFrame собирает фрейм в раскладке по умолчанию (40-байтный заголовок, 16-байтные заголовки сегментов).
func BuildFrame(segments ...Segment) []byte {
	return BuildFrameWith(FrameOptions{}, segments...)
}

// BuildFrameWith собирает фрейм с заданными полями заголовка.
func BuildFrameWith(opts FrameOptions, segments ...Segment) []byte {
	total := constants.FrameHeaderSize
	for _, s := range segments {
		total += constants.SegmentHeaderSize + len(s.Payload)
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[constants.FrameTagOffset:], opts.Tag)
	binary.LittleEndian.PutUint64(buf[constants.FrameTimestampOffset:], opts.Timestamp)
	binary.LittleEndian.PutUint32(buf[constants.FrameTotalSizeOffset:], uint32(total))
	binary.LittleEndian.PutUint16(buf[constants.FrameConnectionTypeOffset:], opts.ConnectionType)
	binary.LittleEndian.PutUint16(buf[constants.FrameCountOffset:], uint16(len(segments)))
	buf[constants.FrameCompressionOffset] = opts.Compression

	off := constants.FrameHeaderSize
	for _, s := range segments {
		size := constants.SegmentHeaderSize + len(s.Payload)
		binary.LittleEndian.PutUint32(buf[off+constants.SegmentSizeOffset:], uint32(size))
		binary.LittleEndian.PutUint32(buf[off+constants.SegmentSourceOffset:], s.Source)
		binary.LittleEndian.PutUint32(buf[off+constants.SegmentTargetOffset:], s.Target)
		binary.LittleEndian.PutUint16(buf[off+constants.SegmentTypeOffset:], s.Type)
		copy(buf[off+constants.SegmentHeaderSize:], s.Payload)
		off += size
	}
	return buf
}

// SegmentHeader возвращает 16-байтный заголовок сегмента, как его кладёт BuildFrame.
func SegmentHeader(s Segment) []byte {
	hdr := make([]byte, constants.SegmentHeaderSize)
	binary.LittleEndian.PutUint32(hdr[constants.SegmentSizeOffset:], uint32(constants.SegmentHeaderSize+len(s.Payload)))
	binary.LittleEndian.PutUint32(hdr[constants.SegmentSourceOffset:], s.Source)
	binary.LittleEndian.PutUint32(hdr[constants.SegmentTargetOffset:], s.Target)
	binary.LittleEndian.PutUint16(hdr[constants.SegmentTypeOffset:], s.Type)
	return hdr
}

// IPCPayload собирает IPC payload: 16-байтный IPC-заголовок с opcode и тело сообщения.
func IPCPayload(opcode uint16, body []byte) []byte {
	buf := make([]byte, constants.IPCHeaderSize+len(body))
	binary.LittleEndian.PutUint16(buf[0:], 0x14)
	binary.LittleEndian.PutUint16(buf[constants.IPCOpcodeOffset:], opcode)
	copy(buf[constants.IPCHeaderSize:], body)
	return buf
}

// IPC возвращает сегмент типа IPC.
func IPC(source, target uint32, payload []byte) Segment {
	return Segment{Type: constants.SegmentTypeIPC, Source: source, Target: target, Payload: payload}
}

// KeepAlive возвращает keep-alive сегмент.
func KeepAlive() Segment {
	return Segment{Type: constants.SegmentTypeKeepAlive, Payload: make([]byte, 8)}
}

// EncryptionInit возвращает encryption-init сегмент с key phase и timestamp.
func EncryptionInit(phase string, timestamp uint32) Segment {
	payload := make([]byte, 0x280)
	copy(payload[constants.InitPayloadKeyPhaseOffset:], phase)
	binary.LittleEndian.PutUint32(payload[constants.InitPayloadTimestampOffset:], timestamp)
	return Segment{Type: constants.SegmentTypeEncryptionInit, Payload: payload}
}
