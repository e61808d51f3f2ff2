package capture

import (
	"github.com/udisondev/framecap/internal/constants"
	"github.com/udisondev/framecap/internal/protocol"
)

// Arena: переиспользуемый буфер для сериализации кадров перед эмиссией.
//
// Каждый Write очищает буфер и увеличивает поколение; слайс, возвращённый
// предыдущим Write, после этого недействителен. Буфер растёт под кадр,
// который в него не помещается, и никогда не обрезает данные.
// Не потокобезопасен: Pipeline сериализует доступ своим мьютексом.
type Arena struct {
	buf []byte
	gen uint64
}

// NewArena создаёт арену с начальной ёмкостью не меньше 1 MiB.
func NewArena(size int) *Arena {
	if size < constants.DefaultArenaSize {
		size = constants.DefaultArenaSize
	}
	return &Arena{buf: make([]byte, 0, size)}
}

// Write сериализует кадр и возвращает байты, валидные до следующего Write.
func (a *Arena) Write(f *protocol.Frame) []byte {
	a.gen++
	need := f.EncodedLen()
	if need > cap(a.buf) {
		a.buf = make([]byte, 0, max(need, 2*cap(a.buf)))
	}
	a.buf = f.AppendTo(a.buf[:0])
	return a.buf
}

// Cap возвращает текущую ёмкость буфера.
func (a *Arena) Cap() int {
	return cap(a.buf)
}

// Generation возвращает число выполненных Write.
func (a *Arena) Generation() uint64 {
	return a.gen
}
