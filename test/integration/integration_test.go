// Package integration exercises the full Proc/Context pipeline against the
// in-process simulator, covering the end-to-end scenarios the host runtime
// is expected to satisfy: a synchronous call, a large async fan-out, a
// large-argument stack call, a bulk memory round-trip, exception handling,
// and two independently progressing contexts.
package integration

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	veo "github.com/veoffload/veo-host"
	"github.com/veoffload/veo-host/internal/transport"
)

func newSimProc(t *testing.T) (*veo.Proc, *transport.SimulatorPeer) {
	t.Helper()
	p, sim, err := veo.NewSimulatedProc()
	require.NoError(t, err)
	t.Cleanup(func() { p.ExitProc() })
	return p, sim
}

// TestHello is scenario S1: call_sync(hello, {i32: 42}) == 43.
func TestHello(t *testing.T) {
	p, sim := newSimProc(t)

	// arg 0 is register-only (below NumArgsOnRegister): it arrives as the
	// first 8 bytes of the packed register vector, not at a stack offset.
	sim.RegisterFunc("hello", func(regs []byte) (uint64, []byte, bool) {
		v := int32(binary.LittleEndian.Uint32(regs[0:4]))
		return uint64(uint32(v + 1)), nil, false
	})

	libhdl, err := p.LoadLibrary("libhello.so")
	require.NoError(t, err)
	addr, err := p.GetSym(libhdl, "hello")
	require.NoError(t, err)

	args := veo.NewCallArgs()
	require.NoError(t, args.SetInt32(0, 42))

	result, err := p.CallSync(addr, args)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), result)
}

// TestAsyncFanOut is scenario S2: 10000 async calls to a no-arg function
// that increments a worker-side counter; the sum of results equals
// 10000*(10000+1)/2 regardless of completion order.
func TestAsyncFanOut(t *testing.T) {
	p, sim := newSimProc(t)

	var counter uint64
	addr := sim.RegisterFunc("empty", func(stack []byte) (uint64, []byte, bool) {
		counter++
		return counter, nil, false
	})

	const n = 10000
	ctx := p.MainContext()
	ids := make([]uint64, n)
	for i := 0; i < n; i++ {
		id, err := ctx.CallAsync(addr, veo.NewCallArgs())
		require.NoError(t, err)
		ids[i] = id
	}

	var sum uint64
	for _, id := range ids {
		status, result, err := ctx.CallWaitResult(id)
		require.NoError(t, err)
		require.Equal(t, veo.StatusOK, status)
		sum += result
	}
	assert.Equal(t, uint64(n*(n+1)/2), sum)
}

// TestLargeArgStackCall is scenario S3: a 10MiB INOUT stack buffer XORed
// with 0x5A on the worker side.
func TestLargeArgStackCall(t *testing.T) {
	p, sim := newSimProc(t)

	addr := sim.RegisterFunc("xorbig", func(stack []byte) (uint64, []byte, bool) {
		out := make([]byte, len(stack))
		for i, b := range stack {
			out[i] = b ^ 0x5A
		}
		return 0, out, false
	})

	buf := make([]byte, 10*1024*1024)
	for i := range buf {
		buf[i] = byte(i % 256)
	}
	want := make([]byte, len(buf))
	for i, b := range buf {
		want[i] = b ^ 0x5A
	}

	args := veo.NewCallArgs()
	require.NoError(t, args.SetOnStack(veo.DirInOut, 0, buf))

	_, err := p.CallSync(addr, args)
	require.NoError(t, err)
	assert.Equal(t, want, buf)
}

// TestBulkRoundTrip is scenario S4: allocate 64MiB on the worker, write a
// pattern, read it back, and expect byte-exact equality.
func TestBulkRoundTrip(t *testing.T) {
	p, _ := newSimProc(t)

	const size = 64 * 1024 * 1024
	addr, err := p.AllocBuff(size)
	require.NoError(t, err)
	defer p.FreeBuff(addr)

	src := make([]byte, size)
	for i := range src {
		src[i] = byte(i % 251)
	}
	require.NoError(t, p.WriteMem(addr, src))

	dst := make([]byte, size)
	require.NoError(t, p.ReadMem(dst, addr))
	assert.Equal(t, src, dst)
}

// TestException is scenario S5: a call that raises an exception marks the
// context EXIT; any later call on that context fails, while a fresh context
// from the same process still works.
func TestException(t *testing.T) {
	p, sim := newSimProc(t)

	boom := sim.RegisterFunc("boom", func(stack []byte) (uint64, []byte, bool) {
		return 0, nil, true
	})
	hello := sim.RegisterFunc("hello2", func(stack []byte) (uint64, []byte, bool) {
		return 42, nil, false
	})

	main := p.MainContext()
	_, err := main.CallSync(boom, veo.NewCallArgs())
	require.Error(t, err)
	assert.Equal(t, veo.StateExit, main.State())

	_, err = main.CallSync(hello, veo.NewCallArgs())
	require.Error(t, err)

	fresh, err := p.OpenContext(nil)
	require.NoError(t, err)
	result, err := fresh.CallSync(hello, veo.NewCallArgs())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), result)
}

// TestTwoContextsIndependentProgress is scenario S6: two contexts each
// running 10000 calls against distinct counters complete independently,
// each with its own correct sum.
func TestTwoContextsIndependentProgress(t *testing.T) {
	p, sim := newSimProc(t)

	var counterA, counterB uint64
	addrA := sim.RegisterFunc("empty", func(stack []byte) (uint64, []byte, bool) {
		counterA++
		return counterA, nil, false
	})
	addrB := sim.RegisterFunc("empty2", func(stack []byte) (uint64, []byte, bool) {
		counterB++
		return counterB, nil, false
	})

	ctxA := p.MainContext()
	ctxB, err := p.OpenContext(nil)
	require.NoError(t, err)

	const n = 10000
	idsA := make([]uint64, n)
	idsB := make([]uint64, n)
	for i := 0; i < n; i++ {
		idsA[i], err = ctxA.CallAsync(addrA, veo.NewCallArgs())
		require.NoError(t, err)
		idsB[i], err = ctxB.CallAsync(addrB, veo.NewCallArgs())
		require.NoError(t, err)
	}

	var sumA, sumB uint64
	for i := 0; i < n; i++ {
		status, result, err := ctxA.CallWaitResult(idsA[i])
		require.NoError(t, err)
		require.Equal(t, veo.StatusOK, status)
		sumA += result

		status, result, err = ctxB.CallWaitResult(idsB[i])
		require.NoError(t, err)
		require.Equal(t, veo.StatusOK, status)
		sumB += result
	}
	assert.Equal(t, uint64(n*(n+1)/2), sumA)
	assert.Equal(t, uint64(n*(n+1)/2), sumB)
}
