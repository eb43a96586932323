package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	// ErrBranchOverflow is returned when a relocated 16-bit branch offset no
	// longer fits.
	ErrBranchOverflow = errors.New("branch offset overflow")

	// ErrCodeTooLarge is returned when a method body would exceed 65535 bytes.
	ErrCodeTooLarge = errors.New("method code too large")

	// ErrUnsupportedAttribute is returned when a Code attribute carries a
	// sub-attribute with bytecode offsets that cannot be relocated.
	ErrUnsupportedAttribute = errors.New("unsupported Code attribute")
)

// Patch edits the instruction starting at Offset. With Insert set, Code is
// placed in front of the instruction and jumps to it land after the new
// code. Otherwise Code replaces the instruction and jumps to it land on the
// first replacement byte. Patch code must not contain branches.
type Patch struct {
	Offset int
	Insert bool
	Code   []byte
}

// relocatable lists the Code sub-attributes Apply knows how to rewrite.
var relocatable = map[string]bool{
	"LineNumberTable":        true,
	"LocalVariableTable":     true,
	"LocalVariableTypeTable": true,
	"StackMapTable":          true,
}

// CheckRelocatable reports ErrUnsupportedAttribute when c carries a
// sub-attribute that Apply cannot rewrite.
func (c *Code) CheckRelocatable(pool *Pool) error {
	for _, a := range c.Attributes {
		name, err := pool.Utf8(a.Name)
		if err != nil {
			return err
		}
		if !relocatable[name] {
			return fmt.Errorf("%w: %s", ErrUnsupportedAttribute, name)
		}
	}
	return nil
}

// Apply rewrites the method body with patches and relocates every bytecode
// offset: branch and switch targets, the exception table, line and local
// variable tables and stack map frames. On error c is left unchanged.
func (c *Code) Apply(pool *Pool, patches []Patch) error {
	if len(patches) == 0 {
		return nil
	}
	if err := c.CheckRelocatable(pool); err != nil {
		return err
	}
	code := c.Bytecode
	insns, err := Decode(code)
	if err != nil {
		return err
	}
	byOffset := make(map[int]*Patch, len(patches))
	for i := range patches {
		p := &patches[i]
		if _, dup := byOffset[p.Offset]; dup {
			return fmt.Errorf("two patches at offset %d", p.Offset)
		}
		if !p.Insert && len(p.Code) == 0 {
			return fmt.Errorf("empty replacement at offset %d", p.Offset)
		}
		byOffset[p.Offset] = p
	}

	// Lay out the new body. Switch padding depends on the new offset of
	// the switch itself, so sizes are computed as the layout advances.
	newOff := make([]int, len(code)+1)
	for i := range newOff {
		newOff[i] = -1
	}
	sizeAt := func(in Instruction, pos int) int {
		if in.IsSwitch() {
			return in.Size - switchPad(in.Offset) + switchPad(pos)
		}
		return in.Size
	}
	pos := 0
	for _, in := range insns {
		p := byOffset[in.Offset]
		switch {
		case p == nil:
			newOff[in.Offset] = pos
			pos += sizeAt(in, pos)
		case p.Insert:
			pos += len(p.Code)
			newOff[in.Offset] = pos
			pos += sizeAt(in, pos)
		default:
			newOff[in.Offset] = pos
			pos += len(p.Code)
		}
	}
	for _, p := range patches {
		if p.Offset < 0 || p.Offset >= len(code) || newOff[p.Offset] < 0 {
			return fmt.Errorf("patch offset %d is not an instruction boundary", p.Offset)
		}
	}
	newOff[len(code)] = pos
	if pos > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrCodeTooLarge, pos)
	}
	remap := func(old int) (int, error) {
		if old < 0 || old >= len(newOff) || newOff[old] < 0 {
			return 0, fmt.Errorf("%w: offset %d is not an instruction boundary", ErrMalformed, old)
		}
		return newOff[old], nil
	}

	out := make([]byte, 0, pos)
	for _, in := range insns {
		if p := byOffset[in.Offset]; p != nil {
			out = append(out, p.Code...)
			if !p.Insert {
				continue
			}
		}
		here := len(out)
		src := code[in.Offset : in.Offset+in.Size]
		switch {
		case in.IsBranch16():
			target, err := remap(in.Offset + int(int16(binary.BigEndian.Uint16(src[1:]))))
			if err != nil {
				return err
			}
			rel := target - here
			if rel < math.MinInt16 || rel > math.MaxInt16 {
				return fmt.Errorf("%w: jump from %d to %d", ErrBranchOverflow, here, target)
			}
			out = append(out, in.Op)
			out = binary.BigEndian.AppendUint16(out, uint16(int16(rel)))
		case in.IsBranch32():
			target, err := remap(in.Offset + int(int32(binary.BigEndian.Uint32(src[1:]))))
			if err != nil {
				return err
			}
			out = append(out, in.Op)
			out = binary.BigEndian.AppendUint32(out, uint32(int32(target-here)))
		case in.IsSwitch():
			out, err = appendSwitch(out, code, in, here, remap)
			if err != nil {
				return err
			}
		default:
			out = append(out, src...)
		}
	}

	handlers := slices.Clone(c.Handlers)
	for i := range handlers {
		h := &handlers[i]
		for _, f := range []*uint16{&h.Start, &h.End, &h.Handler} {
			n, err := remap(int(*f))
			if err != nil {
				return fmt.Errorf("exception table: %w", err)
			}
			*f = uint16(n)
		}
	}

	attrs := make([]*Attribute, len(c.Attributes))
	for i, a := range c.Attributes {
		name, _ := pool.Utf8(a.Name)
		var info []byte
		switch name {
		case "LineNumberTable":
			info, err = relocateLineNumbers(a.Info, remap)
		case "LocalVariableTable", "LocalVariableTypeTable":
			info, err = relocateLocalVariables(a.Info, remap)
		case "StackMapTable":
			info, err = relocateStackMap(a.Info, remap)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		attrs[i] = &Attribute{Name: a.Name, Info: info}
	}

	c.Bytecode = out
	c.Handlers = handlers
	c.Attributes = attrs
	return nil
}

func appendSwitch(out, code []byte, in Instruction, here int, remap func(int) (int, error)) ([]byte, error) {
	base := in.Offset + 1 + switchPad(in.Offset)
	end := in.Offset + in.Size
	out = append(out, in.Op)
	for range switchPad(here) {
		out = append(out, 0)
	}
	target := func(at int) error {
		t, err := remap(in.Offset + int(int32(binary.BigEndian.Uint32(code[at:]))))
		if err != nil {
			return err
		}
		out = binary.BigEndian.AppendUint32(out, uint32(int32(t-here)))
		return nil
	}
	if err := target(base); err != nil {
		return nil, err
	}
	if in.Op == OpTableswitch {
		out = append(out, code[base+4:base+12]...) // low, high
		for at := base + 12; at < end; at += 4 {
			if err := target(at); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	out = append(out, code[base+4:base+8]...) // npairs
	for at := base + 8; at < end; at += 8 {
		out = append(out, code[at:at+4]...)
		if err := target(at + 4); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func relocateLineNumbers(info []byte, remap func(int) (int, error)) ([]byte, error) {
	r := &reader{buf: info}
	w := &writer{}
	n := r.u2()
	w.u2(n)
	for range n {
		pc, line := r.u2(), r.u2()
		if r.err != nil {
			return nil, r.err
		}
		npc, err := remap(int(pc))
		if err != nil {
			return nil, err
		}
		w.u2(uint16(npc))
		w.u2(line)
	}
	return w.buf, r.err
}

func relocateLocalVariables(info []byte, remap func(int) (int, error)) ([]byte, error) {
	r := &reader{buf: info}
	w := &writer{}
	n := r.u2()
	w.u2(n)
	for range n {
		start, length := int(r.u2()), int(r.u2())
		name, desc, index := r.u2(), r.u2(), r.u2()
		if r.err != nil {
			return nil, r.err
		}
		nstart, err := remap(start)
		if err != nil {
			return nil, err
		}
		nend, err := remap(start + length)
		if err != nil {
			return nil, err
		}
		w.u2(uint16(nstart))
		w.u2(uint16(nend - nstart))
		w.u2(name)
		w.u2(desc)
		w.u2(index)
	}
	return w.buf, r.err
}

func relocateStackMap(info []byte, remap func(int) (int, error)) ([]byte, error) {
	frames, err := ParseStackMap(info)
	if err != nil {
		return nil, err
	}
	fix := func(ts []VType) error {
		for i := range ts {
			if ts[i].Tag != VUninitialized {
				continue
			}
			n, err := remap(int(ts[i].Value))
			if err != nil {
				return err
			}
			ts[i].Value = uint16(n)
		}
		return nil
	}
	for i := range frames {
		f := &frames[i]
		if f.Offset, err = remap(f.Offset); err != nil {
			return nil, err
		}
		if err := fix(f.Locals); err != nil {
			return nil, err
		}
		if err := fix(f.Stack); err != nil {
			return nil, err
		}
	}
	return EncodeStackMap(frames)
}
