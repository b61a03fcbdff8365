package wire

import "sync"

// encodeBufPool supplies scratch buffers to Encode callers so repeated
// publishes on a hot connection don't each allocate a fresh slice.
var encodeBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 4096)
		return &buf
	},
}

// GetEncodeBuf returns a pooled zero-length buffer with spare capacity.
func GetEncodeBuf() *[]byte {
	return encodeBufPool.Get().(*[]byte)
}

// PutEncodeBuf returns buf to the pool. Buffers that grew past a
// reasonable ceiling are dropped instead, so one oversized packet
// doesn't permanently bloat the pool.
func PutEncodeBuf(buf *[]byte) {
	if cap(*buf) > 64*1024 {
		return
	}
	*buf = (*buf)[:0]
	encodeBufPool.Put(buf)
}
