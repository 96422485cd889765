package veo

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/veoffload/veo-host/internal/constants"
)

// Direction describes which way a stack buffer argument travels relative
// to the call.
type Direction int

const (
	DirIn Direction = iota
	DirOut
	DirInOut
)

func (d Direction) copiesIn() bool  { return d == DirIn || d == DirInOut }
func (d Direction) copiesOut() bool { return d == DirOut || d == DirInOut }

type argSlot struct {
	set        bool
	reg        uint64
	isStack    bool
	dir        Direction
	buf        []byte
	workerAddr uint64
}

// CallArgs builds the register vector and stack image for a single call:
// up to NumArgsOnRegister arguments travel purely as 8-byte register
// values, and any argument beyond that (or any argument explicitly marked
// as a stack buffer) occupies a slot in the call's stack image instead.
type CallArgs struct {
	mu    sync.Mutex
	slots []argSlot
}

// NewCallArgs returns an empty argument list.
func NewCallArgs() *CallArgs { return &CallArgs{} }

func (a *CallArgs) ensureLocked(i int) {
	for len(a.slots) <= i {
		a.slots = append(a.slots, argSlot{})
	}
}

// Push appends v as a plain register-form argument at the next free index
// and returns that index.
func (a *CallArgs) Push(v uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := len(a.slots)
	a.ensureLocked(i)
	a.slots[i] = argSlot{set: true, reg: v}
	return i
}

func (a *CallArgs) set(i int, v uint64) error {
	if i < 0 || i >= constants.MaxNumArgs {
		return newError("CallArgs.Set", ErrInvalidArgument, fmt.Sprintf("argument index %d exceeds max %d", i, constants.MaxNumArgs))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLocked(i)
	a.slots[i] = argSlot{set: true, reg: v}
	return nil
}

func (a *CallArgs) SetUint64(i int, v uint64) error { return a.set(i, v) }
func (a *CallArgs) SetInt64(i int, v int64) error   { return a.set(i, uint64(v)) }
func (a *CallArgs) SetUint32(i int, v uint32) error { return a.set(i, uint64(v)) }
func (a *CallArgs) SetInt32(i int, v int32) error   { return a.set(i, uint64(int64(v))) }
func (a *CallArgs) SetUint16(i int, v uint16) error { return a.set(i, uint64(v)) }
func (a *CallArgs) SetInt16(i int, v int16) error   { return a.set(i, uint64(int64(v))) }
func (a *CallArgs) SetUint8(i int, v uint8) error   { return a.set(i, uint64(v)) }
func (a *CallArgs) SetInt8(i int, v int8) error     { return a.set(i, uint64(int64(v))) }

// SetFloat32 places v in the high 32 bits of the register slot, the
// convention the worker ABI uses to tell a float apart from an integer
// occupying the low half of the same 8-byte slot.
func (a *CallArgs) SetFloat32(i int, v float32) error {
	return a.set(i, uint64(math.Float32bits(v))<<32)
}

// SetFloat64 places v as a full 8-byte IEEE-754 double.
func (a *CallArgs) SetFloat64(i int, v float64) error {
	return a.set(i, math.Float64bits(v))
}

// SetOnStack marks slot i as a stack buffer travelling in direction dir.
// IN/INOUT bytes are copied into the worker's stack image before the call;
// OUT/INOUT bytes are copied back into buf once the call completes. buf is
// retained, not copied, until the call's copyOut step runs.
func (a *CallArgs) SetOnStack(dir Direction, i int, buf []byte) error {
	if i < 0 || i >= constants.MaxNumArgs {
		return newError("CallArgs.SetOnStack", ErrInvalidArgument, fmt.Sprintf("argument index %d exceeds max %d", i, constants.MaxNumArgs))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLocked(i)
	a.slots[i] = argSlot{set: true, isStack: true, dir: dir, buf: buf}
	return nil
}

// Clear discards every argument, resetting the list to empty.
func (a *CallArgs) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots = nil
}

func (a *CallArgs) numArgs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}

// builtImage is the result of CallArgs.Build: the worker-bound stack image,
// and whether any argument requires copying bytes in before the call or out
// after it.
type builtImage struct {
	image     []byte
	stackSize int
	copyIn    bool
	copyOut   bool
}

// putParamReg writes v into the parameter area's slot i. Arguments below
// NumArgsOnRegister travel on registers only and contribute nothing here;
// the caller is expected to have already checked i against that bound.
func putParamReg(image []byte, i int, v uint64) {
	off := constants.ParamAreaOffset + 8*i
	binary.LittleEndian.PutUint64(image[off:off+8], v)
}

// Build lays out the stack image for sp, the worker stack pointer the call
// will execute against. Its size is ALIGN16(176 + 8*N + sum of padded
// stack-buffer lengths), where 176 is the ABI-reserved parameter area and N
// is the highest argument index plus one. Parameter area slot i holds the
// argument's register value (or, for a stack buffer, the worker address
// Build assigned it) only for i >= NumArgsOnRegister; arguments below that
// travel on registers only (see RegValues) and contribute nothing at their
// slot. Stack buffers themselves always follow the parameter area, each
// padded to 8 bytes, regardless of their argument index.
func (a *CallArgs) Build(sp uint64) (*builtImage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.slots)
	paramAreaSize := constants.ParamAreaOffset + 8*n
	bufTotal := 0
	for i := range a.slots {
		if a.slots[i].isStack {
			bufTotal += constants.Align8(len(a.slots[i].buf))
		}
	}
	imageSize := constants.Align16(paramAreaSize + bufTotal)
	image := make([]byte, imageSize)

	bufOffset := paramAreaSize
	copyIn, copyOut := false, false
	for i := range a.slots {
		slot := &a.slots[i]
		if !slot.set {
			continue
		}
		if !slot.isStack {
			if i >= constants.NumArgsOnRegister {
				putParamReg(image, i, slot.reg)
			}
			continue
		}
		workerAddr := sp - uint64(imageSize) + uint64(bufOffset)
		slot.workerAddr = workerAddr
		if i >= constants.NumArgsOnRegister {
			putParamReg(image, i, workerAddr)
		}
		if slot.dir.copiesIn() {
			copy(image[bufOffset:], slot.buf)
			copyIn = true
		}
		if slot.dir.copiesOut() {
			copyOut = true
		}
		bufOffset += constants.Align8(len(slot.buf))
	}

	return &builtImage{image: image, stackSize: imageSize, copyIn: copyIn, copyOut: copyOut}, nil
}

// RegValues returns the first up to NumArgsOnRegister arguments in register
// form. Stack-buffer arguments among them contribute their worker address,
// which is only meaningful after Build has run.
func (a *CallArgs) RegValues() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.slots)
	if n > constants.NumArgsOnRegister {
		n = constants.NumArgsOnRegister
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		if a.slots[i].isStack {
			out[i] = a.slots[i].workerAddr
		} else {
			out[i] = a.slots[i].reg
		}
	}
	return out
}

// regBytes packs regs as a little-endian byte buffer: the wire payload a
// register-only CALL carries instead of a full stack image.
func regBytes(regs []uint64) []byte {
	buf := make([]byte, 8*len(regs))
	for i, v := range regs {
		binary.LittleEndian.PutUint64(buf[8*i:8*i+8], v)
	}
	return buf
}

// copyOut consumes a returned stack image and writes OUT/INOUT ranges back
// into the caller's buffers.
func (a *CallArgs) copyOut(returned []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.slots)
	bufOffset := constants.ParamAreaOffset + 8*n
	for i := range a.slots {
		slot := &a.slots[i]
		padded := constants.Align8(len(slot.buf))
		if slot.isStack && slot.dir.copiesOut() {
			if bufOffset+len(slot.buf) > len(returned) {
				return newError("CallArgs.copyOut", ErrTransport, fmt.Sprintf("returned stack image too short for argument %d", i))
			}
			copy(slot.buf, returned[bufOffset:bufOffset+len(slot.buf)])
		}
		if slot.isStack {
			bufOffset += padded
		}
	}
	return nil
}
