package classfile

import (
	"fmt"
	"math"
)

// Tag identifies the kind of a constant pool entry.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

// Constant is one constant pool entry. Which fields are meaningful depends
// on Tag:
//
//	Utf8                          Bytes (modified UTF-8)
//	Integer, Float, Long, Double  Bits
//	Class, String, MethodType,
//	Module, Package               A
//	Field/Method/InterfaceMethod  A = class, B = name and type
//	NameAndType                   A = name, B = descriptor
//	MethodHandle                  Kind, A = reference
//	Dynamic, InvokeDynamic        A = bootstrap method, B = name and type
//
// The slot following a Long or Double has Tag zero.
type Constant struct {
	Tag   Tag
	Bytes []byte
	A, B  uint16
	Kind  uint8
	Bits  uint64
}

// Pool is the constant pool of a class. Index zero is never valid.
type Pool struct {
	entries []Constant
	utf8s   map[string]uint16
}

// NewPool returns an empty constant pool.
func NewPool() *Pool {
	return &Pool{entries: make([]Constant, 1)}
}

func parsePool(r *reader) (*Pool, error) {
	count := int(r.u2())
	if r.err != nil {
		return nil, r.err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty constant pool", ErrMalformed)
	}
	p := &Pool{entries: make([]Constant, count)}
	for i := 1; i < count; i++ {
		c := &p.entries[i]
		c.Tag = Tag(r.u1())
		switch c.Tag {
		case TagUtf8:
			c.Bytes = r.bytes(int(r.u2()))
		case TagInteger, TagFloat:
			c.Bits = uint64(r.u4())
		case TagLong, TagDouble:
			c.Bits = uint64(r.u4())<<32 | uint64(r.u4())
			i++ // takes two slots
			if i >= count {
				return nil, fmt.Errorf("%w: wide constant at end of pool", ErrMalformed)
			}
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.A = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
			TagDynamic, TagInvokeDynamic:
			c.A = r.u2()
			c.B = r.u2()
		case TagMethodHandle:
			c.Kind = r.u1()
			c.A = r.u2()
		default:
			if r.err == nil {
				return nil, fmt.Errorf("%w: unknown constant tag %d at index %d", ErrMalformed, c.Tag, i)
			}
		}
		if r.err != nil {
			return nil, r.err
		}
	}
	return p, nil
}

func (p *Pool) encode(w *writer) error {
	if len(p.entries) > math.MaxUint16 {
		return fmt.Errorf("%w: %d entries", ErrPoolOverflow, len(p.entries))
	}
	w.u2(uint16(len(p.entries)))
	for i := 1; i < len(p.entries); i++ {
		c := &p.entries[i]
		if c.Tag == 0 {
			continue // second slot of a Long or Double
		}
		w.u1(uint8(c.Tag))
		switch c.Tag {
		case TagUtf8:
			if len(c.Bytes) > math.MaxUint16 {
				return fmt.Errorf("utf8 constant %d too long: %d bytes", i, len(c.Bytes))
			}
			w.u2(uint16(len(c.Bytes)))
			w.bytes(c.Bytes)
		case TagInteger, TagFloat:
			w.u4(uint32(c.Bits))
		case TagLong, TagDouble:
			w.u4(uint32(c.Bits >> 32))
			w.u4(uint32(c.Bits))
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.u2(c.A)
		case TagMethodHandle:
			w.u1(c.Kind)
			w.u2(c.A)
		default:
			w.u2(c.A)
			w.u2(c.B)
		}
	}
	return nil
}

// Len returns constant_pool_count, one more than the highest valid index.
func (p *Pool) Len() int { return len(p.entries) }

// Get returns the entry at index i.
func (p *Pool) Get(i uint16) (*Constant, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].Tag == 0 {
		return nil, fmt.Errorf("%w: invalid constant index %d", ErrMalformed, i)
	}
	return &p.entries[i], nil
}

func (p *Pool) get(i uint16, tag Tag) (*Constant, error) {
	c, err := p.Get(i)
	if err != nil {
		return nil, err
	}
	if c.Tag != tag {
		return nil, fmt.Errorf("%w: constant %d has tag %d, want %d", ErrMalformed, i, c.Tag, tag)
	}
	return c, nil
}

// Utf8 returns the decoded text of a CONSTANT_Utf8 entry. Unpaired
// surrogates are replaced; use [Pool.Text] when they must be detected.
func (p *Pool) Utf8(i uint16) (string, error) {
	c, err := p.get(i, TagUtf8)
	if err != nil {
		return "", err
	}
	units, err := decodeModifiedUTF8(c.Bytes)
	if err != nil {
		return "", fmt.Errorf("constant %d: %w", i, err)
	}
	s, _ := utf16ToString(units)
	return s, nil
}

// Text returns the UTF-8 text of the CONSTANT_Utf8 entry at i. It fails
// with [ErrUnpairedSurrogate] when the Java string has no UTF-8 form.
func (p *Pool) Text(i uint16) (string, error) {
	c, err := p.get(i, TagUtf8)
	if err != nil {
		return "", err
	}
	units, err := decodeModifiedUTF8(c.Bytes)
	if err != nil {
		return "", fmt.Errorf("constant %d: %w", i, err)
	}
	s, ok := utf16ToString(units)
	if !ok {
		return "", fmt.Errorf("constant %d: %w", i, ErrUnpairedSurrogate)
	}
	return s, nil
}

// SetUtf8 replaces the text of the CONSTANT_Utf8 entry at i.
func (p *Pool) SetUtf8(i uint16, s string) error {
	c, err := p.get(i, TagUtf8)
	if err != nil {
		return err
	}
	if p.utf8s != nil {
		old := string(c.Bytes)
		if p.utf8s[old] == i {
			delete(p.utf8s, old)
		}
	}
	c.Bytes = EncodeModifiedUTF8(s)
	return nil
}

// ClassName returns the internal name referenced by a CONSTANT_Class entry.
func (p *Pool) ClassName(i uint16) (string, error) {
	c, err := p.get(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// NameAndType resolves a CONSTANT_NameAndType entry.
func (p *Pool) NameAndType(i uint16) (name, desc string, err error) {
	c, err := p.get(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.A); err != nil {
		return "", "", err
	}
	if desc, err = p.Utf8(c.B); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef resolves a field, method or interface method reference.
func (p *Pool) MemberRef(i uint16) (class, name, desc string, err error) {
	c, err := p.Get(i)
	if err != nil {
		return "", "", "", err
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return "", "", "", fmt.Errorf("%w: constant %d is not a member reference", ErrMalformed, i)
	}
	if class, err = p.ClassName(c.A); err != nil {
		return "", "", "", err
	}
	if name, desc, err = p.NameAndType(c.B); err != nil {
		return "", "", "", err
	}
	return class, name, desc, nil
}

// StringUtf8 returns the CONSTANT_Utf8 index behind a CONSTANT_String entry.
func (p *Pool) StringUtf8(i uint16) (uint16, error) {
	c, err := p.get(i, TagString)
	if err != nil {
		return 0, err
	}
	return c.A, nil
}

// HasMemberRef reports whether the pool references the given member of class.
func (p *Pool) HasMemberRef(tag Tag, class, name, desc string) bool {
	for i := 1; i < len(p.entries); i++ {
		if p.entries[i].Tag != tag {
			continue
		}
		c, n, d, err := p.MemberRef(uint16(i))
		if err == nil && c == class && n == name && d == desc {
			return true
		}
	}
	return false
}

func (p *Pool) add(c Constant) (uint16, error) {
	slots := 1
	if c.Tag == TagLong || c.Tag == TagDouble {
		slots = 2
	}
	if len(p.entries)+slots > math.MaxUint16 {
		return 0, ErrPoolOverflow
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if slots == 2 {
		p.entries = append(p.entries, Constant{})
	}
	return idx, nil
}

func (p *Pool) find(match func(*Constant) bool) (uint16, bool) {
	for i := 1; i < len(p.entries); i++ {
		if p.entries[i].Tag != 0 && match(&p.entries[i]) {
			return uint16(i), true
		}
	}
	return 0, false
}

// AddUtf8 returns the index of a CONSTANT_Utf8 entry holding s, adding one
// when needed.
func (p *Pool) AddUtf8(s string) (uint16, error) {
	enc := EncodeModifiedUTF8(s)
	if len(enc) > math.MaxUint16 {
		return 0, fmt.Errorf("utf8 constant too long: %d bytes", len(enc))
	}
	if p.utf8s == nil {
		p.utf8s = make(map[string]uint16)
		for i := len(p.entries) - 1; i > 0; i-- {
			if c := &p.entries[i]; c.Tag == TagUtf8 {
				p.utf8s[string(c.Bytes)] = uint16(i)
			}
		}
	}
	if idx, ok := p.utf8s[string(enc)]; ok {
		return idx, nil
	}
	idx, err := p.add(Constant{Tag: TagUtf8, Bytes: enc})
	if err != nil {
		return 0, err
	}
	p.utf8s[string(enc)] = idx
	return idx, nil
}

func (p *Pool) addRef1(tag Tag, utf8 string) (uint16, error) {
	u, err := p.AddUtf8(utf8)
	if err != nil {
		return 0, err
	}
	if idx, ok := p.find(func(c *Constant) bool { return c.Tag == tag && c.A == u }); ok {
		return idx, nil
	}
	return p.add(Constant{Tag: tag, A: u})
}

// AddClass returns the index of a CONSTANT_Class entry for internal name.
func (p *Pool) AddClass(name string) (uint16, error) { return p.addRef1(TagClass, name) }

// AddString returns the index of a CONSTANT_String entry for s.
func (p *Pool) AddString(s string) (uint16, error) { return p.addRef1(TagString, s) }

// AddInteger returns the index of a CONSTANT_Integer entry for v.
func (p *Pool) AddInteger(v int32) (uint16, error) {
	bits := uint64(uint32(v))
	if idx, ok := p.find(func(c *Constant) bool { return c.Tag == TagInteger && c.Bits == bits }); ok {
		return idx, nil
	}
	return p.add(Constant{Tag: TagInteger, Bits: bits})
}

// AddNameAndType returns the index of a CONSTANT_NameAndType entry.
func (p *Pool) AddNameAndType(name, desc string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUtf8(desc)
	if err != nil {
		return 0, err
	}
	if idx, ok := p.find(func(c *Constant) bool { return c.Tag == TagNameAndType && c.A == n && c.B == d }); ok {
		return idx, nil
	}
	return p.add(Constant{Tag: TagNameAndType, A: n, B: d})
}

// AddMemberRef returns the index of a field or method reference, tag being
// one of TagFieldref, TagMethodref or TagInterfaceMethodref.
func (p *Pool) AddMemberRef(tag Tag, class, name, desc string) (uint16, error) {
	cls, err := p.AddClass(class)
	if err != nil {
		return 0, err
	}
	nat, err := p.AddNameAndType(name, desc)
	if err != nil {
		return 0, err
	}
	if idx, ok := p.find(func(c *Constant) bool { return c.Tag == tag && c.A == cls && c.B == nat }); ok {
		return idx, nil
	}
	return p.add(Constant{Tag: tag, A: cls, B: nat})
}
