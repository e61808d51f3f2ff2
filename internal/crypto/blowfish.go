package crypto

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blowfish"

	"github.com/udisondev/framecap/internal/constants"
)

// BlowfishCipher wraps Blowfish ECB encryption/decryption for the lobby protocol.
//
// The client reads each 32-bit half of a block as little-endian, while
// x/crypto/blowfish works on big-endian halves, so every block is byte-swapped
// around the primitive. Trailing bytes that do not fill a whole block are left as-is.
type BlowfishCipher struct {
	cipher *blowfish.Cipher
}

// NewBlowfishCipher creates a new Blowfish ECB cipher from the given key.
func NewBlowfishCipher(key []byte) (*BlowfishCipher, error) {
	c, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating blowfish cipher: %w", err)
	}
	return &BlowfishCipher{cipher: c}, nil
}

// Encrypt encrypts data[offset:offset+size] in-place.
// Only the block-aligned prefix of the range is transformed.
func (b *BlowfishCipher) Encrypt(data []byte, offset, size int) error {
	if err := checkRange(data, offset, size); err != nil {
		return fmt.Errorf("blowfish encrypt: %w", err)
	}
	end := offset + alignedLen(size)
	for i := offset; i < end; i += constants.BlowfishBlockSize {
		b.encryptBlock(data[i : i+constants.BlowfishBlockSize])
	}
	return nil
}

// Decrypt decrypts data[offset:offset+size] in-place.
// Only the block-aligned prefix of the range is transformed.
func (b *BlowfishCipher) Decrypt(data []byte, offset, size int) error {
	if err := checkRange(data, offset, size); err != nil {
		return fmt.Errorf("blowfish decrypt: %w", err)
	}
	end := offset + alignedLen(size)
	for i := offset; i < end; i += constants.BlowfishBlockSize {
		b.decryptBlock(data[i : i+constants.BlowfishBlockSize])
	}
	return nil
}

func (b *BlowfishCipher) encryptBlock(block []byte) {
	var tmp [constants.BlowfishBlockSize]byte
	swapHalves(tmp[:], block)
	b.cipher.Encrypt(tmp[:], tmp[:])
	swapHalves(block, tmp[:])
}

func (b *BlowfishCipher) decryptBlock(block []byte) {
	var tmp [constants.BlowfishBlockSize]byte
	swapHalves(tmp[:], block)
	b.cipher.Decrypt(tmp[:], tmp[:])
	swapHalves(block, tmp[:])
}

// swapHalves converts both 32-bit halves of an 8-byte block between byte orders.
func swapHalves(dst, src []byte) {
	binary.BigEndian.PutUint32(dst[0:4], binary.LittleEndian.Uint32(src[0:4]))
	binary.BigEndian.PutUint32(dst[4:8], binary.LittleEndian.Uint32(src[4:8]))
}

func alignedLen(size int) int {
	return size - size%constants.BlowfishBlockSize
}

func checkRange(data []byte, offset, size int) error {
	if offset < 0 || size < 0 {
		return fmt.Errorf("negative range (offset %d, size %d)", offset, size)
	}
	if offset+size > len(data) {
		return fmt.Errorf("offset %d + size %d exceeds data length %d", offset, size, len(data))
	}
	return nil
}
