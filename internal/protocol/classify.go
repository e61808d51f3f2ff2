package protocol

// KeyInit names the obfuscation-key derivation a sub-packet triggers.
type KeyInit uint8

const (
	KeyInitNone KeyInit = iota
	KeyInitZone
	KeyInitUnknown
)

func (k KeyInit) String() string {
	switch k {
	case KeyInitZone:
		return "InitZone"
	case KeyInitUnknown:
		return "UnknownInitializer"
	default:
		return "None"
	}
}

// Window is the scrambled byte range of an obfuscated message, relative to the payload.
// Length 0 means "to the end of the payload".
type Window struct {
	Offset int `yaml:"offset"`
	Length int `yaml:"length"`
}

// Bounds clips the window to a payload of length n.
// ok is false when the window starts past the payload.
func (w Window) Bounds(n int) (start, end int, ok bool) {
	if w.Offset < 0 || w.Offset >= n {
		return 0, 0, false
	}
	end = n
	if w.Length > 0 && w.Offset+w.Length < n {
		end = w.Offset + w.Length
	}
	return w.Offset, end, true
}

// OpcodeRules is the per-version opcode table consulted by classification.
type OpcodeRules struct {
	InitZone           uint16            `yaml:"init_zone"`
	UnknownInitializer uint16            `yaml:"unknown_initializer"`
	Obfuscated         map[uint16]Window `yaml:"obfuscated"`
}

// Classification is the set of independent decisions taken for one sub-packet.
// Header-level flags are known at parse time; opcode-level flags once the payload
// is visible (after decryption, or after a deferred payload is resolved).
type Classification struct {
	NetworkInit     bool
	EncryptionInit  bool
	NeedsDecryption bool
	Deferred        bool

	KeyInit    KeyInit
	Obfuscated bool
	Window     Window
}

// ClassifyHeader decides the header-level flags.
func ClassifyHeader(ch Channel, dir Direction, kind Kind, deferZoneIPC bool) Classification {
	lobby := ch == ChannelLobby
	zoneRx := ch == ChannelZone && dir == DirectionRx

	return Classification{
		NetworkInit:     lobby && dir == DirectionRx && kind == KindKeepAlive,
		EncryptionInit:  lobby && kind == KindEncryptionInit,
		NeedsDecryption: lobby && (kind == KindIPC || kind == KindUnknownA),
		Deferred:        deferZoneIPC && zoneRx && kind == KindIPC,
	}
}

// ClassifyOpcode fills the opcode-level flags. Only zone rx IPC messages are candidates.
func (c *Classification) ClassifyOpcode(ch Channel, dir Direction, kind Kind, opcode uint16, rules OpcodeRules) {
	c.KeyInit = KeyInitNone
	c.Obfuscated = false
	c.Window = Window{}

	if ch != ChannelZone || dir != DirectionRx || kind != KindIPC {
		return
	}

	// opcode 0 means "not known for this version"
	switch {
	case rules.InitZone != 0 && opcode == rules.InitZone:
		c.KeyInit = KeyInitZone
	case rules.UnknownInitializer != 0 && opcode == rules.UnknownInitializer:
		c.KeyInit = KeyInitUnknown
	}

	if w, ok := rules.Obfuscated[opcode]; ok {
		c.Obfuscated = true
		c.Window = w
	}
}
