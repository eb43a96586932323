// Copyright (c) 2025, The Garble Authors.
// See LICENSE for licensing information.

// Package classfile reads, edits and writes JVM class files.
//
// The model is deliberately shallow: the constant pool, members and
// attributes are decoded, while attribute bodies stay as raw bytes until a
// caller asks for a structured view (see [ParseCode] and [ParseStackMap]).
// Encoding a parsed class without edits yields the original bytes.
package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const magic = 0xCAFEBABE

// Access flags used by the rewriter.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccSynthetic = 0x1000
)

var (
	// ErrMalformed is returned for input that is not a well-formed class file.
	ErrMalformed = errors.New("malformed class file")

	// ErrPoolOverflow is returned when a constant cannot be added because the
	// pool already holds the maximum number of entries.
	ErrPoolOverflow = errors.New("constant pool overflow")
)

// ClassFile is a decoded class file.
type ClassFile struct {
	Minor, Major uint16
	Pool         *Pool
	Access       uint16
	This, Super  uint16
	Interfaces   []uint16
	Fields       []*Member
	Methods      []*Member
	Attributes   []*Attribute
}

// Member is a field or a method.
type Member struct {
	Access     uint16
	Name       uint16
	Descriptor uint16
	Attributes []*Attribute
}

// Attribute is an undecoded attribute; Name indexes a CONSTANT_Utf8 entry.
type Attribute struct {
	Name uint16
	Info []byte
}

// Parse decodes a class file.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{buf: data}
	if m := r.u4(); r.err == nil && m != magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrMalformed, m)
	}
	cf := &ClassFile{}
	cf.Minor = r.u2()
	cf.Major = r.u2()
	pool, err := parsePool(r)
	if err != nil {
		return nil, err
	}
	cf.Pool = pool
	cf.Access = r.u2()
	cf.This = r.u2()
	cf.Super = r.u2()
	n := int(r.u2())
	for range n {
		cf.Interfaces = append(cf.Interfaces, r.u2())
	}
	cf.Fields = parseMembers(r)
	cf.Methods = parseMembers(r)
	cf.Attributes = parseAttributes(r)
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-r.off)
	}
	if _, err := cf.ClassName(); err != nil {
		return nil, err
	}
	return cf, nil
}

func parseMembers(r *reader) []*Member {
	n := int(r.u2())
	var members []*Member
	for i := 0; i < n && r.err == nil; i++ {
		m := &Member{
			Access:     r.u2(),
			Name:       r.u2(),
			Descriptor: r.u2(),
		}
		m.Attributes = parseAttributes(r)
		members = append(members, m)
	}
	return members
}

func parseAttributes(r *reader) []*Attribute {
	n := int(r.u2())
	var attrs []*Attribute
	for i := 0; i < n && r.err == nil; i++ {
		name := r.u2()
		size := int(r.u4())
		info := r.bytes(size)
		attrs = append(attrs, &Attribute{Name: name, Info: info})
	}
	return attrs
}

// Encode serializes the class file.
func (cf *ClassFile) Encode() ([]byte, error) {
	w := &writer{}
	w.u4(magic)
	w.u2(cf.Minor)
	w.u2(cf.Major)
	if err := cf.Pool.encode(w); err != nil {
		return nil, err
	}
	w.u2(cf.Access)
	w.u2(cf.This)
	w.u2(cf.Super)
	w.u2(uint16(len(cf.Interfaces)))
	for _, idx := range cf.Interfaces {
		w.u2(idx)
	}
	for _, members := range [][]*Member{cf.Fields, cf.Methods} {
		if len(members) > 0xFFFF {
			return nil, fmt.Errorf("too many members: %d", len(members))
		}
		w.u2(uint16(len(members)))
		for _, m := range members {
			w.u2(m.Access)
			w.u2(m.Name)
			w.u2(m.Descriptor)
			if err := encodeAttributes(w, m.Attributes); err != nil {
				return nil, err
			}
		}
	}
	if err := encodeAttributes(w, cf.Attributes); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func encodeAttributes(w *writer, attrs []*Attribute) error {
	if len(attrs) > 0xFFFF {
		return fmt.Errorf("too many attributes: %d", len(attrs))
	}
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(a.Name)
		w.u4(uint32(len(a.Info)))
		w.bytes(a.Info)
	}
	return nil
}

// ClassName returns the internal name (slash separated) of the class.
func (cf *ClassFile) ClassName() (string, error) {
	return cf.Pool.ClassName(cf.This)
}

// MemberName returns the name and descriptor of m.
func (cf *ClassFile) MemberName(m *Member) (name, desc string, err error) {
	if name, err = cf.Pool.Utf8(m.Name); err != nil {
		return "", "", err
	}
	if desc, err = cf.Pool.Utf8(m.Descriptor); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// FindAttribute returns the first attribute in attrs called name, and its
// position, or nil and -1.
func (cf *ClassFile) FindAttribute(attrs []*Attribute, name string) (*Attribute, int) {
	for i, a := range attrs {
		if n, err := cf.Pool.Utf8(a.Name); err == nil && n == name {
			return a, i
		}
	}
	return nil, -1
}

// FindMethod returns the method with the given name and descriptor, or nil.
func (cf *ClassFile) FindMethod(name, desc string) *Member {
	for _, m := range cf.Methods {
		n, d, err := cf.MemberName(m)
		if err == nil && n == name && d == desc {
			return m
		}
	}
	return nil
}

// reader decodes big-endian values. The first error sticks and makes every
// following read return zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: unexpected end of data at offset %d", ErrMalformed, r.off)
		return false
	}
	return true
}

func (r *reader) u1() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:])
	r.off += n
	return b
}

type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8)  { w.buf = append(w.buf, v) }
func (w *writer) u2(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u4(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }
