package crypto

import (
	"fmt"
	"testing"
)

// BenchmarkBlowfishDecrypt: P0 hotpath: дешифрование каждого lobby-пакета
func BenchmarkBlowfishDecrypt(b *testing.B) {
	b.ReportAllocs()

	cipher, err := NewBlowfishCipher(testKey)
	if err != nil {
		b.Fatalf("failed to create cipher: %v", err)
	}

	data := make([]byte, 256)

	b.ResetTimer()
	for range b.N {
		if err := cipher.Decrypt(data, 0, len(data)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkBlowfishDecrypt_Sizes: разные размеры пакетов, включая невыровненные
func BenchmarkBlowfishDecrypt_Sizes(b *testing.B) {
	sizes := []int{64, 100, 256, 1000, 2048}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dB", size), func(b *testing.B) {
			b.ReportAllocs()

			cipher, err := NewBlowfishCipher(testKey)
			if err != nil {
				b.Fatalf("failed to create cipher: %v", err)
			}

			data := make([]byte, size)
			b.SetBytes(int64(size))

			b.ResetTimer()
			for range b.N {
				if err := cipher.Decrypt(data, 0, size); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkUnscramble: вызывается для каждого обфусцированного zone-пакета
func BenchmarkUnscramble(b *testing.B) {
	b.ReportAllocs()

	data := make([]byte, 64)
	b.SetBytes(int64(len(data)))

	b.ResetTimer()
	for range b.N {
		Unscramble(data, 0x11, 0x22, 0x33)
	}
}

// BenchmarkMakeLobbyKey: вызывается один раз на lobby-подключение
func BenchmarkMakeLobbyKey(b *testing.B) {
	b.ReportAllocs()

	payload := make([]byte, 0x70)
	copy(payload[0x24:], "keyphase")

	b.ResetTimer()
	for range b.N {
		if _, err := MakeLobbyKey(payload, 7000); err != nil {
			b.Fatal(err)
		}
	}
}
