package queue

import "sync"

// FragmentPool provides pooled byte slices in size buckets (128KB, 256KB,
// 512KB, 1MB, 4MB), using the *[]byte pattern to avoid sync.Pool's
// interface-boxing overhead; larger requests get a fresh, unpooled slice.
// Its one caller is the large-call read-back buffer in the root package;
// the SENDBUFF/RECVBUFF fragment paths do not draw from it.
const (
	size128k = 128 * 1024
	size256k = 256 * 1024
	size512k = 512 * 1024
	size1m   = 1024 * 1024
	size4m   = 4 * 1024 * 1024
)

var globalFragmentPool = struct {
	pool128k sync.Pool
	pool256k sync.Pool
	pool512k sync.Pool
	pool1m   sync.Pool
	pool4m   sync.Pool
}{
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool512k: sync.Pool{New: func() any { b := make([]byte, size512k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
	pool4m:   sync.Pool{New: func() any { b := make([]byte, size4m); return &b }},
}

// GetFragmentBuffer returns a pooled buffer of at least the requested size.
// Caller must call PutFragmentBuffer when done.
func GetFragmentBuffer(size int) []byte {
	switch {
	case size <= size128k:
		return (*globalFragmentPool.pool128k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*globalFragmentPool.pool256k.Get().(*[]byte))[:size]
	case size <= size512k:
		return (*globalFragmentPool.pool512k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*globalFragmentPool.pool1m.Get().(*[]byte))[:size]
	case size <= size4m:
		return (*globalFragmentPool.pool4m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutFragmentBuffer returns a buffer to the pool it was drawn from. Buffers
// with non-standard capacity (the >4MB overflow case) are left for GC.
func PutFragmentBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size128k:
		globalFragmentPool.pool128k.Put(&buf)
	case size256k:
		globalFragmentPool.pool256k.Put(&buf)
	case size512k:
		globalFragmentPool.pool512k.Put(&buf)
	case size1m:
		globalFragmentPool.pool1m.Put(&buf)
	case size4m:
		globalFragmentPool.pool4m.Put(&buf)
	}
}
