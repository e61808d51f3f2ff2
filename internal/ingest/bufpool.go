package ingest

import "sync"

// BytePool: пул переиспользуемых []byte буферов чтения.
type BytePool struct {
	pool sync.Pool
}

// NewBytePool создаёт пул буферов длиной size.
func NewBytePool(size int) *BytePool {
	p := &BytePool{}
	p.pool.New = func() any {
		return make([]byte, size)
	}
	return p
}

// Get возвращает буфер из пула.
func (p *BytePool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put возвращает буфер в пул для повторного использования.
func (p *BytePool) Put(b []byte) {
	if b == nil {
		return
	}
	p.pool.Put(b[:cap(b)])
}
