package capture

import "sync"

// BytePool: пул переиспользуемых []byte буферов для копий кадров,
// ожидающих фоновой записи.
type BytePool struct {
	pool sync.Pool
}

// NewBytePool создаёт пул с указанной начальной ёмкостью для новых слайсов.
func NewBytePool(defaultCap int) *BytePool {
	p := &BytePool{}
	p.pool.New = func() any {
		return make([]byte, 0, defaultCap)
	}
	return p
}

// Clone возвращает копию data в буфере из пула.
func (p *BytePool) Clone(data []byte) []byte {
	b := p.pool.Get().([]byte)
	if cap(b) < len(data) {
		p.pool.Put(b)
		b = make([]byte, 0, len(data))
	}
	return append(b[:0], data...)
}

// Put возвращает слайс в пул для повторного использования.
func (p *BytePool) Put(b []byte) {
	if b == nil {
		return
	}
	p.pool.Put(b[:0])
}
