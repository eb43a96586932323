package classfile

import (
	"encoding/binary"
	"fmt"
)

// Opcodes the rewriter emits or inspects.
const (
	OpNop             = 0x00
	OpIconstM1        = 0x02
	OpIconst0         = 0x03
	OpIconst5         = 0x08
	OpBipush          = 0x10
	OpSipush          = 0x11
	OpLdc             = 0x12
	OpLdcW            = 0x13
	OpLdc2W           = 0x14
	OpIload           = 0x15
	OpAload           = 0x19
	OpIload0          = 0x1a
	OpIload3          = 0x1d
	OpAload0          = 0x2a
	OpAload3          = 0x2d
	OpIstore          = 0x36
	OpAstore          = 0x3a
	OpIstore0         = 0x3b
	OpIstore3         = 0x3e
	OpAstore0         = 0x4b
	OpAstore3         = 0x4e
	OpBastore         = 0x54
	OpPop             = 0x57
	OpDup             = 0x59
	OpIinc            = 0x84
	OpIfeq            = 0x99
	OpIfne            = 0x9a
	OpIflt            = 0x9b
	OpIfge            = 0x9c
	OpIfgt            = 0x9d
	OpIfle            = 0x9e
	OpIfIcmpeq        = 0x9f
	OpIfIcmpne        = 0xa0
	OpIfIcmplt        = 0xa1
	OpIfIcmpge        = 0xa2
	OpIfIcmpgt        = 0xa3
	OpIfIcmple        = 0xa4
	OpIfAcmpeq        = 0xa5
	OpIfAcmpne        = 0xa6
	OpGoto            = 0xa7
	OpJsr             = 0xa8
	OpRet             = 0xa9
	OpTableswitch     = 0xaa
	OpLookupswitch    = 0xab
	OpIreturn         = 0xac
	OpAreturn         = 0xb0
	OpReturn          = 0xb1
	OpGetstatic       = 0xb2
	OpPutstatic       = 0xb3
	OpGetfield        = 0xb4
	OpPutfield        = 0xb5
	OpInvokevirtual   = 0xb6
	OpInvokespecial   = 0xb7
	OpInvokestatic    = 0xb8
	OpInvokeinterface = 0xb9
	OpInvokedynamic   = 0xba
	OpNew             = 0xbb
	OpNewarray        = 0xbc
	OpWide            = 0xc4
	OpMultianewarray  = 0xc5
	OpIfnull          = 0xc6
	OpIfnonnull       = 0xc7
	OpGotoW           = 0xc8
	OpJsrW            = 0xc9
)

// TByte is the newarray type code for byte[].
const TByte = 8

// Instruction is one decoded instruction: its opcode, where it starts and
// how many bytes it takes, switch padding included.
type Instruction struct {
	Offset int
	Op     byte
	Size   int
}

// Index returns the unsigned 16-bit operand following the opcode, as used by
// ldc_w, invoke*, field access and the like. For ldc it returns the 8-bit
// operand.
func (in Instruction) Index(code []byte) uint16 {
	if in.Op == OpLdc {
		return uint16(code[in.Offset+1])
	}
	return binary.BigEndian.Uint16(code[in.Offset+1:])
}

// IsBranch16 reports whether the instruction carries a signed 16-bit
// branch offset.
func (in Instruction) IsBranch16() bool {
	return (in.Op >= OpIfeq && in.Op <= OpJsr) || in.Op == OpIfnull || in.Op == OpIfnonnull
}

// IsBranch32 reports whether the instruction carries a signed 32-bit
// branch offset.
func (in Instruction) IsBranch32() bool {
	return in.Op == OpGotoW || in.Op == OpJsrW
}

// IsSwitch reports whether the instruction is a tableswitch or lookupswitch.
func (in Instruction) IsSwitch() bool {
	return in.Op == OpTableswitch || in.Op == OpLookupswitch
}

// Targets returns the absolute offsets an instruction may branch to, nil
// for instructions that do not branch. For a switch the default target
// comes first, followed by the case targets in table order. The
// instruction must come from Decode of code.
func (in Instruction) Targets(code []byte) []int {
	switch {
	case in.IsBranch16():
		return []int{in.Offset + int(int16(binary.BigEndian.Uint16(code[in.Offset+1:])))}
	case in.IsBranch32():
		return []int{in.Offset + int(int32(binary.BigEndian.Uint32(code[in.Offset+1:])))}
	case !in.IsSwitch():
		return nil
	}
	base := in.Offset + 1 + switchPad(in.Offset)
	at := func(pos int) int { return in.Offset + int(int32(binary.BigEndian.Uint32(code[pos:]))) }
	targets := []int{at(base)}
	if in.Op == OpTableswitch {
		for pos := base + 12; pos < in.Offset+in.Size; pos += 4 {
			targets = append(targets, at(pos))
		}
		return targets
	}
	for pos := base + 8; pos < in.Offset+in.Size; pos += 8 {
		targets = append(targets, at(pos+4))
	}
	return targets
}

// switchPad is the number of padding bytes after a switch opcode at off.
func switchPad(off int) int {
	return (4 - (off+1)%4) % 4
}

var fixedSize [256]int8

func init() {
	set := func(lo, hi int, n int8) {
		for op := lo; op <= hi; op++ {
			fixedSize[op] = n
		}
	}
	set(0x00, 0x0f, 1)
	set(OpBipush, OpBipush, 2)
	set(OpSipush, OpSipush, 3)
	set(OpLdc, OpLdc, 2)
	set(OpLdcW, OpLdc2W, 3)
	set(OpIload, OpAload, 2)
	set(OpIload0, 0x35, 1)
	set(OpIstore, OpAstore, 2)
	set(OpIstore0, 0x83, 1)
	set(OpIinc, OpIinc, 3)
	set(0x85, 0x98, 1)
	set(OpIfeq, OpJsr, 3)
	set(OpRet, OpRet, 2)
	set(OpIreturn, OpReturn, 1)
	set(OpGetstatic, OpInvokestatic, 3)
	set(OpInvokeinterface, OpInvokedynamic, 5)
	set(OpNew, OpNew, 3)
	set(OpNewarray, OpNewarray, 2)
	set(0xbd, 0xbd, 3) // anewarray
	set(0xbe, 0xbf, 1) // arraylength, athrow
	set(0xc0, 0xc1, 3) // checkcast, instanceof
	set(0xc2, 0xc3, 1) // monitorenter, monitorexit
	set(OpMultianewarray, OpMultianewarray, 4)
	set(OpIfnull, OpIfnonnull, 3)
	set(OpGotoW, OpJsrW, 5)
}

// Decode splits a method body into instructions.
func Decode(code []byte) ([]Instruction, error) {
	var insns []Instruction
	for off := 0; off < len(code); {
		op := code[off]
		size := int(fixedSize[op])
		switch op {
		case OpTableswitch:
			base := off + 1 + switchPad(off)
			if base+12 > len(code) {
				return nil, fmt.Errorf("%w: truncated tableswitch at %d", ErrMalformed, off)
			}
			low := int32(binary.BigEndian.Uint32(code[base+4:]))
			high := int32(binary.BigEndian.Uint32(code[base+8:]))
			if high < low {
				return nil, fmt.Errorf("%w: tableswitch at %d has high < low", ErrMalformed, off)
			}
			size = base - off + 12 + 4*int(int64(high)-int64(low)+1)
		case OpLookupswitch:
			base := off + 1 + switchPad(off)
			if base+8 > len(code) {
				return nil, fmt.Errorf("%w: truncated lookupswitch at %d", ErrMalformed, off)
			}
			npairs := int32(binary.BigEndian.Uint32(code[base+4:]))
			if npairs < 0 {
				return nil, fmt.Errorf("%w: lookupswitch at %d has negative npairs", ErrMalformed, off)
			}
			size = base - off + 8 + 8*int(npairs)
		case OpWide:
			if off+1 >= len(code) {
				return nil, fmt.Errorf("%w: truncated wide at %d", ErrMalformed, off)
			}
			size = 4
			if code[off+1] == OpIinc {
				size = 6
			}
		}
		if size == 0 {
			return nil, fmt.Errorf("%w: invalid opcode %#x at %d", ErrMalformed, op, off)
		}
		if off+size > len(code) {
			return nil, fmt.Errorf("%w: instruction at %d runs past end of code", ErrMalformed, off)
		}
		insns = append(insns, Instruction{Offset: off, Op: op, Size: size})
		off += size
	}
	return insns, nil
}
