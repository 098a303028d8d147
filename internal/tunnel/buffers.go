package tunnel

import (
	"sync"
)

// bufferPools holds one pool of reusable byte slices per buffer size.
var bufferPools sync.Map // map[int]*sync.Pool

// getBuffer retrieves a buffer of exactly size bytes from the pool
func getBuffer(size int) *[]byte {
	p, ok := bufferPools.Load(size)
	if !ok {
		p, _ = bufferPools.LoadOrStore(size, &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		})
	}
	return p.(*sync.Pool).Get().(*[]byte)
}

// putBuffer returns a buffer to the pool for reuse
func putBuffer(buf *[]byte) {
	if p, ok := bufferPools.Load(len(*buf)); ok {
		p.(*sync.Pool).Put(buf)
	}
}
