package classfile

import (
	"fmt"
	"math"
)

// Verification type tags.
const (
	VTop               = 0
	VInteger           = 1
	VFloat             = 2
	VDouble            = 3
	VLong              = 4
	VNull              = 5
	VUninitializedThis = 6
	VObject            = 7
	VUninitialized     = 8
)

// VType is a verification type. Value is the class constant for VObject
// and the offset of the allocating new instruction for VUninitialized.
type VType struct {
	Tag   uint8
	Value uint16
}

// FrameKind is the shape of a stack map frame, independent of how its
// offset delta is encoded.
type FrameKind uint8

const (
	FrameSame FrameKind = iota
	FrameSameLocals1
	FrameChop
	FrameAppend
	FrameFull
)

// Frame is a StackMapTable entry at an absolute bytecode offset.
type Frame struct {
	Offset int
	Kind   FrameKind
	Chop   int     // FrameChop: locals removed
	Locals []VType // FrameAppend: locals added; FrameFull: all locals
	Stack  []VType // FrameSameLocals1: the single item; FrameFull: all items
}

// ParseStackMap decodes a StackMapTable attribute body.
func ParseStackMap(info []byte) ([]Frame, error) {
	r := &reader{buf: info}
	n := int(r.u2())
	frames := make([]Frame, 0, n)
	prev := -1
	for i := 0; i < n && r.err == nil; i++ {
		var f Frame
		var delta int
		t := r.u1()
		switch {
		case t <= 63:
			f.Kind, delta = FrameSame, int(t)
		case t <= 127:
			f.Kind, delta = FrameSameLocals1, int(t-64)
			f.Stack = readVTypes(r, 1)
		case t == 247:
			f.Kind, delta = FrameSameLocals1, int(r.u2())
			f.Stack = readVTypes(r, 1)
		case t >= 248 && t <= 250:
			f.Kind, delta = FrameChop, int(r.u2())
			f.Chop = int(251 - t)
		case t == 251:
			f.Kind, delta = FrameSame, int(r.u2())
		case t >= 252 && t <= 254:
			f.Kind, delta = FrameAppend, int(r.u2())
			f.Locals = readVTypes(r, int(t-251))
		case t == 255:
			f.Kind, delta = FrameFull, int(r.u2())
			f.Locals = readVTypes(r, int(r.u2()))
			f.Stack = readVTypes(r, int(r.u2()))
		default:
			return nil, fmt.Errorf("%w: reserved stack map frame type %d", ErrMalformed, t)
		}
		f.Offset = prev + 1 + delta
		prev = f.Offset
		frames = append(frames, f)
	}
	if r.err != nil {
		return nil, fmt.Errorf("reading StackMapTable: %w", r.err)
	}
	if r.off != len(info) {
		return nil, fmt.Errorf("%w: %d trailing bytes in StackMapTable", ErrMalformed, len(info)-r.off)
	}
	return frames, nil
}

func readVTypes(r *reader, n int) []VType {
	var ts []VType
	for i := 0; i < n && r.err == nil; i++ {
		v := VType{Tag: r.u1()}
		switch v.Tag {
		case VObject, VUninitialized:
			v.Value = r.u2()
		case VTop, VInteger, VFloat, VDouble, VLong, VNull, VUninitializedThis:
		default:
			if r.err == nil {
				r.err = fmt.Errorf("%w: bad verification type %d", ErrMalformed, v.Tag)
			}
		}
		ts = append(ts, v)
	}
	return ts
}

// EncodeStackMap serializes frames, choosing the shortest encoding for each
// offset delta. Frames must be sorted by strictly increasing offset.
func EncodeStackMap(frames []Frame) ([]byte, error) {
	w := &writer{}
	w.u2(uint16(len(frames)))
	prev := -1
	for i, f := range frames {
		delta := f.Offset - prev - 1
		if delta < 0 || delta > math.MaxUint16 {
			return nil, fmt.Errorf("stack map frame %d: bad offset %d after %d", i, f.Offset, prev)
		}
		prev = f.Offset
		switch f.Kind {
		case FrameSame:
			if delta <= 63 {
				w.u1(uint8(delta))
			} else {
				w.u1(251)
				w.u2(uint16(delta))
			}
		case FrameSameLocals1:
			if len(f.Stack) != 1 {
				return nil, fmt.Errorf("stack map frame %d: want one stack item, got %d", i, len(f.Stack))
			}
			if delta <= 63 {
				w.u1(uint8(64 + delta))
			} else {
				w.u1(247)
				w.u2(uint16(delta))
			}
			writeVTypes(w, f.Stack)
		case FrameChop:
			if f.Chop < 1 || f.Chop > 3 {
				return nil, fmt.Errorf("stack map frame %d: cannot chop %d locals", i, f.Chop)
			}
			w.u1(uint8(251 - f.Chop))
			w.u2(uint16(delta))
		case FrameAppend:
			if len(f.Locals) < 1 || len(f.Locals) > 3 {
				return nil, fmt.Errorf("stack map frame %d: cannot append %d locals", i, len(f.Locals))
			}
			w.u1(uint8(251 + len(f.Locals)))
			w.u2(uint16(delta))
			writeVTypes(w, f.Locals)
		case FrameFull:
			w.u1(255)
			w.u2(uint16(delta))
			w.u2(uint16(len(f.Locals)))
			writeVTypes(w, f.Locals)
			w.u2(uint16(len(f.Stack)))
			writeVTypes(w, f.Stack)
		default:
			return nil, fmt.Errorf("stack map frame %d: unknown kind %d", i, f.Kind)
		}
	}
	return w.buf, nil
}

func writeVTypes(w *writer, ts []VType) {
	for _, v := range ts {
		w.u1(v.Tag)
		if v.Tag == VObject || v.Tag == VUninitialized {
			w.u2(v.Value)
		}
	}
}
