// Package jvmtest builds small class files and runs their static methods on
// a minimal bytecode interpreter, so rewritten classes can be checked
// without a JVM.
package jvmtest

import (
	"encoding/binary"
	"fmt"

	"github.com/AeonDave/stringfog/internal/classfile"
)

// Asm assembles a method body with symbolic labels.
type Asm struct {
	buf    []byte
	labels map[string]int
	fixups []fixup
	frames []string
}

type fixup struct {
	at, from int // where the offset goes and what it is relative to
	wide     bool
	label    string
}

func (a *Asm) Op(b ...byte) *Asm {
	a.buf = append(a.buf, b...)
	return a
}

func (a *Asm) U2(v uint16) *Asm {
	a.buf = binary.BigEndian.AppendUint16(a.buf, v)
	return a
}

// Ldc loads a constant, using ldc_w when idx does not fit in a byte.
func (a *Asm) Ldc(idx uint16) *Asm {
	if idx <= 0xFF {
		return a.Op(classfile.OpLdc, byte(idx))
	}
	return a.Op(classfile.OpLdcW).U2(idx)
}

// Label marks the current offset.
func (a *Asm) Label(name string) *Asm {
	if a.labels == nil {
		a.labels = make(map[string]int)
	}
	a.labels[name] = len(a.buf)
	return a
}

// Frame marks the current offset as a branch target that needs a
// same_frame stack map entry.
func (a *Asm) Frame(name string) *Asm {
	a.frames = append(a.frames, name)
	return a.Label(name)
}

// Jump emits a branch with a 16-bit offset, or 32-bit for goto_w.
func (a *Asm) Jump(op byte, label string) *Asm {
	from := len(a.buf)
	a.buf = append(a.buf, op)
	wide := op == classfile.OpGotoW || op == classfile.OpJsrW
	a.fixups = append(a.fixups, fixup{at: len(a.buf), from: from, wide: wide, label: label})
	if wide {
		return a.Op(0, 0, 0, 0)
	}
	return a.Op(0, 0)
}

// Lookupswitch emits a lookupswitch; keys must be sorted.
func (a *Asm) Lookupswitch(def string, keys []int32, labels []string) *Asm {
	from := len(a.buf)
	a.buf = append(a.buf, classfile.OpLookupswitch)
	for len(a.buf)%4 != 0 {
		a.buf = append(a.buf, 0)
	}
	a.target(from, def)
	a.buf = binary.BigEndian.AppendUint32(a.buf, uint32(len(keys)))
	for i, k := range keys {
		a.buf = binary.BigEndian.AppendUint32(a.buf, uint32(k))
		a.target(from, labels[i])
	}
	return a
}

// Tableswitch emits a tableswitch over low..low+len(labels)-1.
func (a *Asm) Tableswitch(def string, low int32, labels []string) *Asm {
	from := len(a.buf)
	a.buf = append(a.buf, classfile.OpTableswitch)
	for len(a.buf)%4 != 0 {
		a.buf = append(a.buf, 0)
	}
	a.target(from, def)
	a.buf = binary.BigEndian.AppendUint32(a.buf, uint32(low))
	a.buf = binary.BigEndian.AppendUint32(a.buf, uint32(low+int32(len(labels))-1))
	for _, l := range labels {
		a.target(from, l)
	}
	return a
}

func (a *Asm) target(from int, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), from: from, wide: true, label: label})
	a.buf = append(a.buf, 0, 0, 0, 0)
}

// Len returns the current offset.
func (a *Asm) Len() int { return len(a.buf) }

// Offset returns the offset of a label.
func (a *Asm) Offset(label string) int { return a.labels[label] }

// Bytes resolves labels and returns the body.
func (a *Asm) Bytes() []byte {
	for _, f := range a.fixups {
		to, ok := a.labels[f.label]
		if !ok {
			panic(fmt.Sprintf("jvmtest: undefined label %q", f.label))
		}
		rel := to - f.from
		if f.wide {
			binary.BigEndian.PutUint32(a.buf[f.at:], uint32(int32(rel)))
		} else {
			binary.BigEndian.PutUint16(a.buf[f.at:], uint16(int16(rel)))
		}
	}
	return a.buf
}

// StackMap returns same_frame entries for every label marked with Frame,
// or nil when there are none.
func (a *Asm) StackMap() []classfile.Frame {
	var frames []classfile.Frame
	seen := make(map[int]bool)
	for _, name := range a.frames {
		off := a.labels[name]
		if seen[off] {
			continue
		}
		seen[off] = true
		frames = append(frames, classfile.Frame{Offset: off, Kind: classfile.FrameSame})
	}
	// labels are marked in code order
	return frames
}
