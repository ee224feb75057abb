// Package pool holds reusable copy buffers for streaming downloads to disk.
//
// The transfer executor owns one FixedBufferPool for the whole run. Its
// buffer size comes from transfer.Plan.BufferSizeKB (256 KiB when unset),
// set from the engine.bufferSizeKB config field. Each in-flight download
// holds one buffer for the duration of its copy and returns it afterwards,
// so peak buffer memory is about concurrency times the buffer size.
package pool

import (
	"fmt"
	"sync"
)

// FixedBufferPool hands out byte slices of one fixed size.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

func NewFixedBuffer(size int64) *FixedBufferPool {
	if size <= 0 {
		panic(fmt.Sprintf("buffer size %d must be positive", size))
	}
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

// Size reports the length of every buffer handed out by the pool.
func (fp *FixedBufferPool) Size() int64 { return fp.size }

func (fp *FixedBufferPool) Get() *[]byte {
	return fp.pool.Get().(*[]byte)
}

func (fp *FixedBufferPool) Put(b *[]byte) {
	// Only put it back if it's the right size.
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
