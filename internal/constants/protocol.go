package constants

// Capture Protocol Constants
//
// Defaults for the frame/segment wire format observed on the lobby, zone and chat
// connections. The parser never reads these directly: they seed protocol.DefaultSchema,
// and a version policy may override every offset and width.

// Frame Header Constants
const (
	// FrameHeaderSize is the size of the frame header (40 bytes)
	FrameHeaderSize = 40

	// FrameTagOffset is the offset of the 8-byte protocol tag
	FrameTagOffset = 0

	// FrameReservedOffset is the offset of the 8-byte reserved field following the tag
	FrameReservedOffset = 8

	// FrameTimestampOffset is the offset of the millisecond timestamp (u64 LE)
	FrameTimestampOffset = 16

	// FrameTotalSizeOffset is the offset of the header-inclusive frame size (u32 LE)
	FrameTotalSizeOffset = 24

	// FrameConnectionTypeOffset is the offset of the connection type (u16 LE)
	FrameConnectionTypeOffset = 28

	// FrameCountOffset is the offset of the sub-packet count
	FrameCountOffset = 30

	// FrameCountWidth is the width of the sub-packet count field in bytes
	FrameCountWidth = 2

	// FrameCompressionOffset is the offset of the compression type (u8)
	FrameCompressionOffset = 33

	// FrameDecompressedLengthOffset is the offset of the decompressed length hint (u32 LE)
	FrameDecompressedLengthOffset = 36
)

// Sub-packet (segment) Header Constants
const (
	// SegmentHeaderSize is the size of the sub-packet header (16 bytes)
	SegmentHeaderSize = 16

	// SegmentSizeOffset is the offset of the header-inclusive segment size (u32 LE)
	SegmentSizeOffset = 0

	// SegmentSourceOffset is the offset of the source entity id (u32 LE)
	SegmentSourceOffset = 4

	// SegmentTargetOffset is the offset of the destination entity id (u32 LE)
	SegmentTargetOffset = 8

	// SegmentTypeOffset is the offset of the segment type (u16 LE)
	SegmentTypeOffset = 12

	// IPCOpcodeOffset is the offset of the opcode inside a generic (IPC) payload (u16 LE)
	IPCOpcodeOffset = 2

	// IPCHeaderSize is the size of the IPC header preceding the message body
	IPCHeaderSize = 16
)

// Segment Type Codes
const (
	SegmentTypeIPC            = 3
	SegmentTypeKeepAlive      = 7
	SegmentTypeEncryptionInit = 9
	SegmentTypeUnknownA       = 10
)

// Compression Type Codes
const (
	CompressionNone = 0
)

// Lobby Encryption Constants
//
// The lobby key is MD5 over a 0x2C-byte buffer:
//
//	[salt 4 bytes LE][timestamp 4 bytes][version 2 bytes LE][2 zero bytes][key phase ...]
const (
	// LobbyKeySalt is the hard-coded salt at the start of the key buffer
	LobbyKeySalt = 0x12345678

	// LobbyKeyBufferSize is the size of the buffer hashed into the session key
	LobbyKeyBufferSize = 0x2C

	// LobbyKeyTimestampOffset is where the timestamp lands in the key buffer
	LobbyKeyTimestampOffset = 4

	// LobbyKeyVersionOffset is where the 16-bit version lands in the key buffer
	LobbyKeyVersionOffset = 8

	// LobbyKeyPhaseOffset is where the key phase lands in the key buffer
	LobbyKeyPhaseOffset = 0x0C

	// InitPayloadKeyPhaseOffset is the offset of the key phase string in the init payload
	InitPayloadKeyPhaseOffset = 0x24

	// InitPayloadTimestampOffset is the offset of the 4-byte timestamp in the init payload
	InitPayloadTimestampOffset = 0x64

	// LobbyKeySize is the resulting Blowfish key size (MD5 digest, 128-bit)
	LobbyKeySize = 16
)

// Blowfish Cipher Constants
const (
	// BlowfishBlockSize is the Blowfish block size in bytes (64-bit)
	BlowfishBlockSize = 8
)

// Obfuscation Constants
const (
	// ObfuscationKeyCount is the number of rolling single-byte keys
	ObfuscationKeyCount = 3
)

// Buffer Size Constants
const (
	// DefaultArenaSize is the initial size of the pipeline's reusable emission buffer (1 MiB)
	DefaultArenaSize = 1024 * 1024

	// DefaultWriterQueueSize is the capacity of the capture writer's event queue
	DefaultWriterQueueSize = 4096

	// DefaultIngestReadBufSize is the default read buffer size for host bridge connections
	DefaultIngestReadBufSize = 64 * 1024

	// IngestMessageHeaderSize is the host bridge length prefix (u32 LE)
	IngestMessageHeaderSize = 4

	// IngestMaxMessageSize caps a single host bridge message
	IngestMaxMessageSize = 16 * 1024 * 1024
)
