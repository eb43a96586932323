package classfile

import "fmt"

// ScrubStrings blanks the text behind the given CONSTANT_String entries
// once nothing else in the class uses it, so rewritten plaintext does not
// survive in the constant pool. It reports how many CONSTANT_Utf8 entries
// were blanked.
//
// A String stays when an ldc, a ConstantValue or a bootstrap argument still
// loads it. Its Utf8 stays when any other constant or attribute points at
// it. Classes carrying attributes the scanner does not know are left alone
// and the call fails with ErrUnsupportedAttribute.
func (cf *ClassFile) ScrubStrings(strs []uint16) (int, error) {
	s := &refScan{cf: cf, live: make([]bool, cf.Pool.Len())}
	if err := s.class(); err != nil {
		return 0, err
	}
	dead := make(map[uint16]bool, len(strs))
	for _, i := range strs {
		if c, err := cf.Pool.Get(i); err == nil && c.Tag == TagString && !s.live[i] {
			dead[i] = true
		}
	}
	for i := 1; i < cf.Pool.Len(); i++ {
		c := &cf.Pool.entries[i]
		switch c.Tag {
		case TagString:
			if !dead[uint16(i)] {
				s.mark(c.A)
			}
		case TagClass, TagMethodType, TagModule, TagPackage:
			s.mark(c.A)
		case TagNameAndType:
			s.mark(c.A)
			s.mark(c.B)
		}
	}
	blanked := 0
	for _, i := range strs {
		if !dead[i] {
			continue
		}
		u := cf.Pool.entries[i].A
		uc, err := cf.Pool.get(u, TagUtf8)
		if err != nil || s.live[u] || len(uc.Bytes) == 0 {
			continue
		}
		if err := cf.Pool.SetUtf8(u, ""); err != nil {
			return blanked, err
		}
		blanked++
	}
	return blanked, nil
}

// AnnotationTypes returns the type descriptors of the annotations declared
// in the RuntimeVisibleAnnotations and RuntimeInvisibleAnnotations attributes
// among attrs, for example "Lcom/app/Keep;".
func (cf *ClassFile) AnnotationTypes(attrs []*Attribute) ([]string, error) {
	s := &refScan{cf: cf, live: make([]bool, cf.Pool.Len())}
	var types []string
	for _, a := range attrs {
		name, err := cf.Pool.Utf8(a.Name)
		if err != nil {
			return nil, err
		}
		if name != "RuntimeVisibleAnnotations" && name != "RuntimeInvisibleAnnotations" {
			continue
		}
		r := &reader{buf: a.Info}
		for range r.u2() {
			t := s.annotation(r)
			if r.err != nil {
				break
			}
			desc, err := cf.Pool.Utf8(t)
			if err != nil {
				return nil, err
			}
			types = append(types, desc)
		}
		if r.err != nil {
			return nil, fmt.Errorf("%s attribute: %w", name, r.err)
		}
	}
	return types, nil
}

// refScan marks every constant pool index referenced from members and
// attributes.
type refScan struct {
	cf   *ClassFile
	live []bool
}

func (s *refScan) mark(i uint16) {
	if int(i) < len(s.live) {
		s.live[i] = true
	}
}

func (s *refScan) class() error {
	if err := s.attrs(s.cf.Attributes, nil); err != nil {
		return err
	}
	for _, members := range [][]*Member{s.cf.Fields, s.cf.Methods} {
		for _, m := range members {
			s.mark(m.Name)
			s.mark(m.Descriptor)
			if err := s.attrs(m.Attributes, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// attrs scans attributes; a non-nil parent names the enclosing Code
// attribute.
func (s *refScan) attrs(attrs []*Attribute, parent *Code) error {
	for _, a := range attrs {
		s.mark(a.Name)
		name, err := s.cf.Pool.Utf8(a.Name)
		if err != nil {
			return err
		}
		r := &reader{buf: a.Info}
		switch name {
		case "Deprecated", "Synthetic", "SourceDebugExtension", "LineNumberTable", "StackMapTable":
		case "SourceFile", "Signature", "ConstantValue", "NestHost":
			s.mark(r.u2())
		case "EnclosingMethod":
			s.mark(r.u2())
			s.mark(r.u2())
		case "Exceptions", "NestMembers", "PermittedSubclasses":
			for range r.u2() {
				s.mark(r.u2())
			}
		case "InnerClasses":
			for range r.u2() {
				for range 3 {
					s.mark(r.u2())
				}
				r.u2() // flags
			}
		case "BootstrapMethods":
			for range r.u2() {
				s.mark(r.u2())
				for range r.u2() {
					s.mark(r.u2())
				}
			}
		case "MethodParameters":
			for range r.u1() {
				s.mark(r.u2())
				r.u2() // flags
			}
		case "LocalVariableTable", "LocalVariableTypeTable":
			for range r.u2() {
				r.u2() // start_pc
				r.u2() // length
				s.mark(r.u2())
				s.mark(r.u2())
				r.u2() // index
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			for range r.u2() {
				s.annotation(r)
			}
		case "RuntimeVisibleParameterAnnotations", "RuntimeInvisibleParameterAnnotations":
			for range r.u1() {
				for range r.u2() {
					s.annotation(r)
				}
			}
		case "RuntimeVisibleTypeAnnotations", "RuntimeInvisibleTypeAnnotations":
			for range r.u2() {
				s.typeAnnotation(r)
			}
		case "AnnotationDefault":
			s.elementValue(r)
		case "Record":
			for range r.u2() {
				s.mark(r.u2())
				s.mark(r.u2())
				if err := s.attrs(parseAttributes(r), nil); err != nil {
					return err
				}
			}
		case "Code":
			if parent != nil {
				return fmt.Errorf("%w: nested Code attribute", ErrMalformed)
			}
			code, err := ParseCode(a.Info)
			if err != nil {
				return err
			}
			if err := s.code(code); err != nil {
				return err
			}
			continue
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedAttribute, name)
		}
		if r.err != nil {
			return fmt.Errorf("%s attribute: %w", name, r.err)
		}
	}
	return nil
}

func (s *refScan) code(c *Code) error {
	insns, err := Decode(c.Bytecode)
	if err != nil {
		return err
	}
	for _, in := range insns {
		if in.Op == OpLdc || in.Op == OpLdcW {
			s.mark(in.Index(c.Bytecode))
		}
	}
	return s.attrs(c.Attributes, c)
}

// annotation scans one annotation and returns its type index.
func (s *refScan) annotation(r *reader) uint16 {
	t := r.u2()
	s.mark(t)
	for range r.u2() {
		s.mark(r.u2()) // element name
		s.elementValue(r)
	}
	return t
}

func (s *refScan) elementValue(r *reader) {
	switch tag := r.u1(); tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		s.mark(r.u2())
	case 'e':
		s.mark(r.u2())
		s.mark(r.u2())
	case '@':
		s.annotation(r)
	case '[':
		for range r.u2() {
			s.elementValue(r)
		}
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: bad element value tag %q", ErrMalformed, tag)
		}
	}
}

func (s *refScan) typeAnnotation(r *reader) {
	switch target := r.u1(); {
	case target == 0x00 || target == 0x01 || target == 0x16:
		r.u1()
	case target == 0x10 || target == 0x17 || target == 0x42:
		r.u2()
	case target == 0x11 || target == 0x12:
		r.u2()
	case target >= 0x13 && target <= 0x15:
	case target == 0x40 || target == 0x41:
		for range r.u2() {
			r.bytes(6)
		}
	case target >= 0x43 && target <= 0x46:
		r.u2()
	case target >= 0x47 && target <= 0x4B:
		r.bytes(3)
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: bad type annotation target %#x", ErrMalformed, target)
		}
		return
	}
	r.bytes(2 * int(r.u1())) // type_path
	s.annotation(r)
}
