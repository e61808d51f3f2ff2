package crypto

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/udisondev/framecap/internal/constants"
)

var (
	// ErrCipherNotInitialized is returned when lobby data is decrypted before an
	// encryption-init payload was seen on the connection.
	ErrCipherNotInitialized = errors.New("lobby cipher not initialized")

	// ErrKeyPhaseTooLong is returned when the key phase does not fit the key buffer.
	ErrKeyPhaseTooLong = errors.New("key phase exceeds key buffer")

	// ErrInitPayloadTooShort is returned when the init payload does not reach the timestamp.
	ErrInitPayloadTooShort = errors.New("encryption init payload too short")
)

// LobbyEncryption holds the per-connection lobby session key.
// A new encryption-init payload replaces the key unconditionally (reconnect).
//
// Not safe for concurrent use; the capture pipeline serializes all access.
type LobbyEncryption struct {
	version uint16
	cipher  *BlowfishCipher
}

// NewLobbyEncryption creates an uninitialized LobbyEncryption for the given game version.
func NewLobbyEncryption(version uint16) *LobbyEncryption {
	return &LobbyEncryption{version: version}
}

// SetVersion changes the version mixed into the next derived key.
func (le *LobbyEncryption) SetVersion(version uint16) {
	le.version = version
}

// Initialized reports whether a session key has been derived.
func (le *LobbyEncryption) Initialized() bool {
	return le.cipher != nil
}

// Initialize derives the session key from an encryption-init payload.
// On failure the previous key (if any) stays in effect.
func (le *LobbyEncryption) Initialize(initPayload []byte) error {
	key, err := MakeLobbyKey(initPayload, le.version)
	if err != nil {
		return err
	}
	c, err := NewBlowfishCipher(key)
	if err != nil {
		return fmt.Errorf("initializing lobby cipher: %w", err)
	}
	le.cipher = c
	return nil
}

// Reset drops the session key.
func (le *LobbyEncryption) Reset() {
	le.cipher = nil
}

// Decrypt decrypts data in-place.
func (le *LobbyEncryption) Decrypt(data []byte) error {
	if le.cipher == nil {
		return ErrCipherNotInitialized
	}
	return le.cipher.Decrypt(data, 0, len(data))
}

// Encrypt encrypts data in-place. The capture path never encrypts; this is the
// inverse used by tooling and tests to produce lobby traffic.
func (le *LobbyEncryption) Encrypt(data []byte) error {
	if le.cipher == nil {
		return ErrCipherNotInitialized
	}
	return le.cipher.Encrypt(data, 0, len(data))
}

// MakeLobbyKey builds the 0x2C-byte key buffer from an init payload and hashes it with MD5.
//
// The key phase starts at 0x24 and runs to the first zero byte at or after 0x24;
// without a terminator it runs to the last byte of the payload (exclusive).
func MakeLobbyKey(initPayload []byte, version uint16) ([]byte, error) {
	if len(initPayload) < constants.InitPayloadTimestampOffset+4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInitPayloadTooShort, len(initPayload))
	}

	var buf [constants.LobbyKeyBufferSize]byte
	binary.LittleEndian.PutUint32(buf[0:], constants.LobbyKeySalt)
	copy(buf[constants.LobbyKeyTimestampOffset:constants.LobbyKeyTimestampOffset+4],
		initPayload[constants.InitPayloadTimestampOffset:constants.InitPayloadTimestampOffset+4])
	binary.LittleEndian.PutUint16(buf[constants.LobbyKeyVersionOffset:], version)

	start := constants.InitPayloadKeyPhaseOffset
	end := bytes.IndexByte(initPayload[start:], 0)
	if end == -1 {
		end = len(initPayload) - 1
	} else {
		end += start
	}
	phase := initPayload[start:end]
	if len(phase) > constants.LobbyKeyBufferSize-constants.LobbyKeyPhaseOffset {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyPhaseTooLong, len(phase))
	}
	copy(buf[constants.LobbyKeyPhaseOffset:], phase)

	sum := md5.Sum(buf[:])
	return sum[:], nil
}
