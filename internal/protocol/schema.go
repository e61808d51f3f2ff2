package protocol

import (
	"fmt"

	"github.com/udisondev/framecap/internal/constants"
)

// Schema describes the frame and sub-packet header layout for one protocol version.
// All offsets are relative to the start of their own header (or payload, for OpcodeOffset).
type Schema struct {
	FrameHeaderSize          int `yaml:"frame_header_size"`
	TagOffset                int `yaml:"tag_offset"`
	ReservedOffset           int `yaml:"reserved_offset"`
	TimestampOffset          int `yaml:"timestamp_offset"`
	TotalSizeOffset          int `yaml:"total_size_offset"`
	ConnectionTypeOffset     int `yaml:"connection_type_offset"`
	CountOffset              int `yaml:"count_offset"`
	CountWidth               int `yaml:"count_width"`
	CompressionOffset        int `yaml:"compression_offset"`
	DecompressedLengthOffset int `yaml:"decompressed_length_offset"`

	SegmentHeaderSize int `yaml:"segment_header_size"`
	SizeOffset        int `yaml:"size_offset"`
	SourceOffset      int `yaml:"source_offset"`
	TargetOffset      int `yaml:"target_offset"`
	TypeOffset        int `yaml:"type_offset"`

	OpcodeOffset int `yaml:"opcode_offset"`

	Types           SegmentTypes `yaml:"types"`
	CompressionNone uint8        `yaml:"compression_none"`
}

// SegmentTypes maps the wire type codes onto the kinds the pipeline cares about.
type SegmentTypes struct {
	IPC            uint16 `yaml:"ipc"`
	KeepAlive      uint16 `yaml:"keep_alive"`
	EncryptionInit uint16 `yaml:"encryption_init"`
	UnknownA       uint16 `yaml:"unknown_a"`
}

// DefaultSchema returns the layout observed on current clients.
func DefaultSchema() Schema {
	return Schema{
		FrameHeaderSize:          constants.FrameHeaderSize,
		TagOffset:                constants.FrameTagOffset,
		ReservedOffset:           constants.FrameReservedOffset,
		TimestampOffset:          constants.FrameTimestampOffset,
		TotalSizeOffset:          constants.FrameTotalSizeOffset,
		ConnectionTypeOffset:     constants.FrameConnectionTypeOffset,
		CountOffset:              constants.FrameCountOffset,
		CountWidth:               constants.FrameCountWidth,
		CompressionOffset:        constants.FrameCompressionOffset,
		DecompressedLengthOffset: constants.FrameDecompressedLengthOffset,

		SegmentHeaderSize: constants.SegmentHeaderSize,
		SizeOffset:        constants.SegmentSizeOffset,
		SourceOffset:      constants.SegmentSourceOffset,
		TargetOffset:      constants.SegmentTargetOffset,
		TypeOffset:        constants.SegmentTypeOffset,

		OpcodeOffset: constants.IPCOpcodeOffset,

		Types: SegmentTypes{
			IPC:            constants.SegmentTypeIPC,
			KeepAlive:      constants.SegmentTypeKeepAlive,
			EncryptionInit: constants.SegmentTypeEncryptionInit,
			UnknownA:       constants.SegmentTypeUnknownA,
		},
		CompressionNone: constants.CompressionNone,
	}
}

// Validate checks that every field fits inside its header.
func (s Schema) Validate() error {
	if s.FrameHeaderSize <= 0 || s.SegmentHeaderSize <= 0 {
		return fmt.Errorf("schema: header sizes must be positive (frame %d, segment %d)",
			s.FrameHeaderSize, s.SegmentHeaderSize)
	}
	if s.CountWidth != 2 && s.CountWidth != 4 {
		return fmt.Errorf("schema: count width must be 2 or 4, got %d", s.CountWidth)
	}

	frameFields := []struct {
		name   string
		offset int
		width  int
	}{
		{"tag", s.TagOffset, 8},
		{"reserved", s.ReservedOffset, 8},
		{"timestamp", s.TimestampOffset, 8},
		{"total_size", s.TotalSizeOffset, 4},
		{"connection_type", s.ConnectionTypeOffset, 2},
		{"count", s.CountOffset, s.CountWidth},
		{"compression", s.CompressionOffset, 1},
		{"decompressed_length", s.DecompressedLengthOffset, 4},
	}
	for _, f := range frameFields {
		if f.offset < 0 || f.offset+f.width > s.FrameHeaderSize {
			return fmt.Errorf("schema: frame field %s at %d (width %d) outside %d-byte header",
				f.name, f.offset, f.width, s.FrameHeaderSize)
		}
	}

	segmentFields := []struct {
		name   string
		offset int
		width  int
	}{
		{"size", s.SizeOffset, 4},
		{"source", s.SourceOffset, 4},
		{"target", s.TargetOffset, 4},
		{"type", s.TypeOffset, 2},
	}
	for _, f := range segmentFields {
		if f.offset < 0 || f.offset+f.width > s.SegmentHeaderSize {
			return fmt.Errorf("schema: segment field %s at %d (width %d) outside %d-byte header",
				f.name, f.offset, f.width, s.SegmentHeaderSize)
		}
	}

	if s.OpcodeOffset < 0 {
		return fmt.Errorf("schema: negative opcode offset %d", s.OpcodeOffset)
	}
	return nil
}

// KindOf resolves a wire type code.
func (s Schema) KindOf(code uint16) Kind {
	switch code {
	case s.Types.IPC:
		return KindIPC
	case s.Types.KeepAlive:
		return KindKeepAlive
	case s.Types.EncryptionInit:
		return KindEncryptionInit
	case s.Types.UnknownA:
		return KindUnknownA
	default:
		return KindOther
	}
}
