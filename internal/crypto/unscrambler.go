package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/udisondev/framecap/internal/constants"
)

// Unscrambler holds the zone obfuscation key state.
//
// Keys are derived from one of two initializer payloads observed on zone rx:
//   - init-zone: [mode 1 byte][seed0][seed1][seed2] at the policy offset.
//     mode == 0 disables obfuscation.
//   - unknown-initializer: [word u32 LE][...] at the policy offset.
//     word == 0 disables obfuscation.
//
// Each seed is passed through the version key table (when the policy carries one)
// before being used. Either derivation clears the override.
//
// Not safe for concurrent use; the capture pipeline serializes all access.
type Unscrambler struct {
	keys     [constants.ObfuscationKeyCount]byte
	enabled  bool
	override bool
}

// NewUnscrambler creates a disabled Unscrambler.
func NewUnscrambler() *Unscrambler {
	return &Unscrambler{}
}

// DeriveFromInitZone derives keys from an init-zone payload.
func (u *Unscrambler) DeriveFromInitZone(payload []byte, offset int, table []byte) error {
	if offset < 0 || offset+4 > len(payload) {
		return fmt.Errorf("init-zone key region at %d exceeds payload length %d", offset, len(payload))
	}
	u.override = false

	mode := payload[offset]
	if mode == 0 {
		u.enabled = false
		u.keys = [constants.ObfuscationKeyCount]byte{}
		return nil
	}
	for i := range u.keys {
		u.keys[i] = lookup(table, payload[offset+1+i], i) ^ mode
	}
	u.enabled = true
	return nil
}

// DeriveFromUnknownInitializer derives keys from the second initializer shape.
func (u *Unscrambler) DeriveFromUnknownInitializer(payload []byte, offset int, table []byte) error {
	if offset < 0 || offset+4 > len(payload) {
		return fmt.Errorf("initializer key word at %d exceeds payload length %d", offset, len(payload))
	}
	u.override = false

	word := binary.LittleEndian.Uint32(payload[offset:])
	if word == 0 {
		u.enabled = false
		u.keys = [constants.ObfuscationKeyCount]byte{}
		return nil
	}
	mix := byte(word >> 24)
	for i := range u.keys {
		u.keys[i] = lookup(table, byte(word>>(8*i))^mix, i)
	}
	u.enabled = true
	return nil
}

// Attach recovers keys from live key state when obfuscation was already running
// before capture started. The live bytes are "ahead" when every one of them exceeds
// counterA+counterB; the override keys are then live - (counterA+counterB).
// Returns whether the override was applied.
func (u *Unscrambler) Attach(live [constants.ObfuscationKeyCount]byte, counterA, counterB uint32) bool {
	sum := uint64(counterA) + uint64(counterB)
	for _, b := range live {
		if uint64(b) <= sum {
			return false
		}
	}
	for i, b := range live {
		u.keys[i] = b - byte(sum)
	}
	u.override = true
	return true
}

// Active reports whether scrambled payloads should be transformed.
func (u *Unscrambler) Active() bool {
	return u.enabled || u.override
}

// Enabled reports whether the last derivation enabled obfuscation.
func (u *Unscrambler) Enabled() bool {
	return u.enabled
}

// Override reports whether keys came from Attach rather than a derivation.
func (u *Unscrambler) Override() bool {
	return u.override
}

// Keys returns the current rolling keys.
func (u *Unscrambler) Keys() [constants.ObfuscationKeyCount]byte {
	return u.keys
}

// Apply unscrambles data in-place with the current keys.
func (u *Unscrambler) Apply(data []byte) {
	Unscramble(data, u.keys[0], u.keys[1], u.keys[2])
}

// Reset clears all key state.
func (u *Unscrambler) Reset() {
	*u = Unscrambler{}
}

// Unscramble applies the per-byte transform data[i] ^= k[i%3] + i.
// The transform is its own inverse under identical keys.
func Unscramble(data []byte, k0, k1, k2 byte) {
	keys := [constants.ObfuscationKeyCount]byte{k0, k1, k2}
	for i := range data {
		data[i] ^= keys[i%constants.ObfuscationKeyCount] + byte(i)
	}
}

func lookup(table []byte, b byte, i int) byte {
	if len(table) == 0 {
		return b
	}
	return table[(int(b)+i)%len(table)]
}
