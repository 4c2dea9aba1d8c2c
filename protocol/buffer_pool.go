package protocol

import "sync"

const (
	// FrameBufferSize covers typical control frames without growing.
	FrameBufferSize = 512

	// MaxPooledBuffer - don't pool larger buffers to prevent memory bloat
	MaxPooledBuffer = 64 * 1024
)

// framePool reuses encode scratch buffers on the per-message send path.
var framePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, FrameBufferSize)
		return &buf
	},
}

// GetFrameBuffer retrieves an empty scratch buffer from the pool.
func GetFrameBuffer() *[]byte {
	buf := framePool.Get().(*[]byte)
	*buf = (*buf)[:0]
	return buf
}

// PutFrameBuffer returns a scratch buffer to the pool. Oversized buffers
// are dropped rather than pooled.
func PutFrameBuffer(buf *[]byte) {
	if buf == nil || cap(*buf) > MaxPooledBuffer {
		return
	}
	framePool.Put(buf)
}
