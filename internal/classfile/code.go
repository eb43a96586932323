package classfile

import (
	"fmt"
	"math"
)

// Code is a decoded Code attribute.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Bytecode   []byte
	Handlers   []Handler
	Attributes []*Attribute
}

// Handler is one exception table entry. End is exclusive.
type Handler struct {
	Start, End, Handler uint16
	CatchType           uint16
}

// ParseCode decodes the body of a Code attribute.
func ParseCode(info []byte) (*Code, error) {
	r := &reader{buf: info}
	c := &Code{
		MaxStack:  r.u2(),
		MaxLocals: r.u2(),
	}
	c.Bytecode = r.bytes(int(r.u4()))
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		c.Handlers = append(c.Handlers, Handler{
			Start:     r.u2(),
			End:       r.u2(),
			Handler:   r.u2(),
			CatchType: r.u2(),
		})
	}
	c.Attributes = parseAttributes(r)
	if r.err != nil {
		return nil, fmt.Errorf("reading Code attribute: %w", r.err)
	}
	if r.off != len(info) {
		return nil, fmt.Errorf("%w: %d trailing bytes in Code attribute", ErrMalformed, len(info)-r.off)
	}
	return c, nil
}

// Encode serializes the attribute body.
func (c *Code) Encode() ([]byte, error) {
	if len(c.Bytecode) == 0 || len(c.Bytecode) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCodeTooLarge, len(c.Bytecode))
	}
	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Bytecode)))
	w.bytes(c.Bytecode)
	w.u2(uint16(len(c.Handlers)))
	for _, h := range c.Handlers {
		w.u2(h.Start)
		w.u2(h.End)
		w.u2(h.Handler)
		w.u2(h.CatchType)
	}
	if err := encodeAttributes(w, c.Attributes); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// Code returns the decoded Code attribute of m, or nil for abstract and
// native methods.
func (cf *ClassFile) Code(m *Member) (*Code, error) {
	a, _ := cf.FindAttribute(m.Attributes, "Code")
	if a == nil {
		return nil, nil
	}
	return ParseCode(a.Info)
}

// SetCode stores c as the Code attribute of m, adding one when needed.
func (cf *ClassFile) SetCode(m *Member, c *Code) error {
	info, err := c.Encode()
	if err != nil {
		return err
	}
	if a, _ := cf.FindAttribute(m.Attributes, "Code"); a != nil {
		a.Info = info
		return nil
	}
	name, err := cf.Pool.AddUtf8("Code")
	if err != nil {
		return err
	}
	m.Attributes = append(m.Attributes, &Attribute{Name: name, Info: info})
	return nil
}
