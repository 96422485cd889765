package queue

import (
	"testing"
)

func TestGetFragmentBuffer_SizeBuckets(t *testing.T) {
	tests := []struct {
		name        string
		requestSize int
		expectCap   int
	}{
		{"128KB bucket - exact", 128 * 1024, 128 * 1024},
		{"128KB bucket - smaller", 65 * 1024, 128 * 1024},
		{"256KB bucket - exact", 256 * 1024, 256 * 1024},
		{"256KB bucket - smaller", 200 * 1024, 256 * 1024},
		{"512KB bucket - exact", 512 * 1024, 512 * 1024},
		{"512KB bucket - smaller", 400 * 1024, 512 * 1024},
		{"1MB bucket - exact", 1024 * 1024, 1024 * 1024},
		{"1MB bucket - smaller", 800 * 1024, 1024 * 1024},
		{"4MB bucket - exact", 4 * 1024 * 1024, 4 * 1024 * 1024},
		{"overflow beyond 4MB", 5 * 1024 * 1024, 5 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := GetFragmentBuffer(tt.requestSize)
			if len(buf) != tt.requestSize {
				t.Errorf("GetFragmentBuffer(%d) returned len=%d, want %d", tt.requestSize, len(buf), tt.requestSize)
			}
			if cap(buf) != tt.expectCap {
				t.Errorf("GetFragmentBuffer(%d) returned cap=%d, want %d", tt.requestSize, cap(buf), tt.expectCap)
			}
			PutFragmentBuffer(buf)
		})
	}
}

func TestFragmentPool_Reuse(t *testing.T) {
	buf1 := GetFragmentBuffer(128 * 1024)
	ptr1 := &buf1[0]
	PutFragmentBuffer(buf1)

	buf2 := GetFragmentBuffer(128 * 1024)
	ptr2 := &buf2[0]
	PutFragmentBuffer(buf2)

	if ptr1 == ptr2 {
		t.Log("buffer was reused from pool")
	} else {
		t.Log("buffer was not reused (sync.Pool GC behavior)")
	}
}

func TestPutFragmentBuffer_NonStandardCap(t *testing.T) {
	buf := make([]byte, 100*1024) // not a standard bucket
	PutFragmentBuffer(buf)        // must not panic
}

func BenchmarkGetFragmentBuffer_128KB(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetFragmentBuffer(128 * 1024)
		PutFragmentBuffer(buf)
	}
}

func BenchmarkGetFragmentBuffer_1MB(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetFragmentBuffer(1024 * 1024)
		PutFragmentBuffer(buf)
	}
}

func BenchmarkMakeFragmentBuffer_1MB(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = make([]byte, 1024*1024)
	}
}
