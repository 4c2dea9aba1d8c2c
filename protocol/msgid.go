package protocol

import "sync/atomic"

var idCounter atomic.Uint64

// NextID generates a sender-monotonic correlation id for outbound headers.
func NextID() uint64 {
	return idCounter.Add(1)
}
