package transform

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/AeonDave/stringfog/internal/classfile"
	"github.com/AeonDave/stringfog/internal/helper"
	"github.com/AeonDave/stringfog/internal/literals"
)

const (
	// maxPlainChars bounds the Java length of a rewritten string.
	maxPlainChars = 65536 >> 2

	// maxArrayBytes bounds the ciphertext built inline in bytes mode.
	maxArrayBytes = 8192

	// bytesExtraStack is what building a byte[] inline needs on top of
	// the single slot the original ldc used: the array, its copy, an
	// index and a value.
	bytesExtraStack = 3

	descString = "Ljava/lang/String;"
)

// classRewrite holds the state of one Transform call.
type classRewrite struct {
	t        *Transformer
	cf       *classfile.ClassFile
	name     string
	internal string

	decrypt   uint16 // Methodref to the helper, added on first use
	records   []Record
	warnings  []error
	rewritten []uint16 // CONSTANT_String entries no longer loaded
}

func (c *classRewrite) warnf(err error, format string, args ...any) {
	w := fmt.Errorf("%s: %s: %w", c.name, fmt.Sprintf(format, args...), err)
	c.t.debugf("warning: %v", w)
	c.warnings = append(c.warnings, w)
}

// methods rewrites the string loads of every method body.
func (c *classRewrite) methods() error {
	for _, m := range c.cf.Methods {
		code, err := c.cf.Code(m)
		if err != nil {
			return err
		}
		if code == nil {
			continue
		}
		mname, mdesc, err := c.cf.MemberName(m)
		if err != nil {
			return err
		}
		if err := c.method(m, code, mname+mdesc); err != nil {
			return err
		}
	}
	return nil
}

// pending is a rewrite that only counts once its method is committed.
type pending struct {
	record Record
	str    uint16
}

func (c *classRewrite) method(m *classfile.Member, code *classfile.Code, where string) error {
	insns, err := classfile.Decode(code.Bytecode)
	if err != nil {
		return fmt.Errorf("%s: %w", where, err)
	}
	labels := switchLabels(c.cf.Pool, code.Bytecode, insns)

	var patches []classfile.Patch
	var done []pending
	for i, in := range insns {
		if in.Op != classfile.OpLdc && in.Op != classfile.OpLdcW {
			continue
		}
		idx := in.Index(code.Bytecode)
		k, err := c.cf.Pool.Get(idx)
		if err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if k.Tag != classfile.TagString {
			continue
		}
		if labels[i] {
			c.t.debugf("%s.%s: keeping switch label at %d", c.name, where, in.Offset)
			continue
		}
		plain, repl, ok, err := c.encrypt(idx, where)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		patches = append(patches, classfile.Patch{Offset: in.Offset, Code: repl.code})
		done = append(done, pending{record: repl.record(c.name, plain), str: idx})
	}
	if len(patches) == 0 {
		return nil
	}

	maxStack := code.MaxStack
	if c.t.cfg.Helper.Mode == literals.ModeBytes {
		if int(maxStack)+bytesExtraStack > math.MaxUint16 {
			c.warnf(classfile.ErrCodeTooLarge, "%s: operand stack", where)
			return nil
		}
		maxStack += bytesExtraStack
	}
	if err := code.Apply(c.cf.Pool, patches); err != nil {
		if errors.Is(err, classfile.ErrBranchOverflow) ||
			errors.Is(err, classfile.ErrCodeTooLarge) ||
			errors.Is(err, classfile.ErrUnsupportedAttribute) {
			c.warnf(err, "%s left unchanged", where)
			return nil
		}
		return fmt.Errorf("%s: %w", where, err)
	}
	code.MaxStack = maxStack
	if err := c.cf.SetCode(m, code); err != nil {
		if errors.Is(err, classfile.ErrCodeTooLarge) {
			c.warnf(err, "%s left unchanged", where)
			return nil
		}
		return err
	}
	for _, p := range done {
		c.records = append(c.records, p.record)
		c.rewritten = append(c.rewritten, p.str)
	}
	return nil
}

// replacement is the code that loads an encrypted string.
type replacement struct {
	lit   literals.Literal
	code  []byte
	stack int // operand stack slots used, result included
}

func (r replacement) record(class, plain string) Record {
	return Record{Class: class, Plain: plain, Encoded: r.lit.String()}
}

// encrypt prepares the replacement for the CONSTANT_String at idx. ok is
// false when the string stays as it is.
func (c *classRewrite) encrypt(idx uint16, where string) (plain string, r replacement, ok bool, err error) {
	u, err := c.cf.Pool.StringUtf8(idx)
	if err != nil {
		return "", r, false, err
	}
	plain, err = c.cf.Pool.Text(u)
	if errors.Is(err, classfile.ErrUnpairedSurrogate) {
		c.warnf(ErrEncoding, "%s: constant %d has no UTF-8 form", where, idx)
		return "", r, false, nil
	}
	if err != nil {
		return "", r, false, err
	}
	if isBlank(plain) {
		return "", r, false, nil
	}
	if n := len(classfile.JavaChars(plain)); n >= maxPlainChars {
		c.warnf(ErrEncoding, "%s: %d character string too long", where, n)
		return "", r, false, nil
	}

	h := c.t.cfg.Helper
	ct, err := h.Cipher.Encrypt([]byte(plain), h.Key)
	if err != nil {
		return "", r, false, fmt.Errorf("%s cipher: %w", h.Cipher.Name(), err)
	}
	lit := literals.Encode(ct, h.Mode)
	if back, err := literals.Decode(lit, h.Mode); err != nil || string(back) != string(ct) {
		c.warnf(ErrEncoding, "%s: %s literal does not round trip", where, h.Mode)
		return "", r, false, nil
	}

	var code []byte
	switch h.Mode {
	case literals.ModeBase64:
		if len(lit.Text) > math.MaxUint16 {
			c.warnf(ErrEncoding, "%s: %d byte base64 literal too large", where, len(lit.Text))
			return "", r, false, nil
		}
		s, err := c.cf.Pool.AddString(lit.Text)
		if err != nil {
			return "", r, false, err
		}
		code = []byte{classfile.OpLdcW, byte(s >> 8), byte(s)}
		r.stack = 1
	case literals.ModeBytes:
		if len(ct) > maxArrayBytes {
			c.warnf(ErrEncoding, "%s: %d byte array literal too large", where, len(ct))
			return "", r, false, nil
		}
		code = byteArray(ct)
		r.stack = 1 + bytesExtraStack
	}
	if c.decrypt == 0 {
		if c.decrypt, err = c.cf.Pool.AddMemberRef(classfile.TagMethodref, c.t.owner, helper.MethodName, c.t.desc); err != nil {
			return "", r, false, err
		}
	}
	r.lit = lit
	r.code = append(code, classfile.OpInvokestatic, byte(c.decrypt>>8), byte(c.decrypt))
	return plain, r, true, nil
}

// isBlank reports whether Java's String.trim would return "".
func isBlank(s string) bool {
	return strings.TrimFunc(s, func(r rune) bool { return r <= ' ' }) == ""
}

// byteArray emits code leaving a new byte[] holding b on the stack.
func byteArray(b []byte) []byte {
	code := pushInt(nil, len(b))
	code = append(code, classfile.OpNewarray, classfile.TByte)
	for i, v := range b {
		code = append(code, classfile.OpDup)
		code = pushInt(code, i)
		code = pushInt(code, int(int8(v)))
		code = append(code, classfile.OpBastore)
	}
	return code
}

// pushInt emits the shortest push of a small int.
func pushInt(code []byte, v int) []byte {
	switch {
	case v >= -1 && v <= 5:
		return append(code, byte(classfile.OpIconst0+v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return append(code, classfile.OpBipush, byte(int8(v)))
	default:
		return append(code, classfile.OpSipush, byte(uint16(v)>>8), byte(v))
	}
}

// hoist moves static final String constants into <clinit>.
func (c *classRewrite) hoist() error {
	type constant struct {
		field *classfile.Member
		attr  int
		str   uint16
		plain string
		repl  replacement
	}
	var consts []constant
	for _, f := range c.cf.Fields {
		if f.Access&(classfile.AccStatic|classfile.AccFinal) != classfile.AccStatic|classfile.AccFinal {
			continue
		}
		name, desc, err := c.cf.MemberName(f)
		if err != nil {
			return err
		}
		a, i := c.cf.FindAttribute(f.Attributes, "ConstantValue")
		if desc != descString || a == nil || len(a.Info) != 2 {
			continue
		}
		idx := uint16(a.Info[0])<<8 | uint16(a.Info[1])
		plain, repl, ok, err := c.encrypt(idx, name)
		if err != nil {
			return err
		}
		if ok {
			consts = append(consts, constant{field: f, attr: i, str: idx, plain: plain, repl: repl})
		}
	}
	if len(consts) == 0 {
		return nil
	}

	var init []byte
	stack := 0
	for _, k := range consts {
		name, desc, err := c.cf.MemberName(k.field)
		if err != nil {
			return err
		}
		ref, err := c.cf.Pool.AddMemberRef(classfile.TagFieldref, c.internal, name, desc)
		if err != nil {
			return err
		}
		init = append(init, k.repl.code...)
		init = append(init, classfile.OpPutstatic, byte(ref>>8), byte(ref))
		stack = max(stack, k.repl.stack)
	}

	clinit := c.cf.FindMethod("<clinit>", "()V")
	if clinit == nil {
		nameIdx, err := c.cf.Pool.AddUtf8("<clinit>")
		if err != nil {
			return err
		}
		descIdx, err := c.cf.Pool.AddUtf8("()V")
		if err != nil {
			return err
		}
		code := &classfile.Code{MaxStack: uint16(stack), Bytecode: append(init, classfile.OpReturn)}
		m := &classfile.Member{Access: classfile.AccStatic, Name: nameIdx, Descriptor: descIdx}
		if err := c.cf.SetCode(m, code); err != nil {
			c.warnf(err, "<clinit> not created")
			return nil
		}
		c.cf.Methods = append(c.cf.Methods, m)
	} else {
		code, err := c.cf.Code(clinit)
		if err != nil {
			return err
		}
		if code == nil {
			return fmt.Errorf("%w: <clinit> without code", classfile.ErrMalformed)
		}
		if err := code.Apply(c.cf.Pool, []classfile.Patch{{Offset: 0, Insert: true, Code: init}}); err != nil {
			if errors.Is(err, classfile.ErrBranchOverflow) ||
				errors.Is(err, classfile.ErrCodeTooLarge) ||
				errors.Is(err, classfile.ErrUnsupportedAttribute) {
				c.warnf(err, "constants not hoisted")
				return nil
			}
			return err
		}
		code.MaxStack = max(code.MaxStack, uint16(stack))
		if err := c.cf.SetCode(clinit, code); err != nil {
			c.warnf(err, "constants not hoisted")
			return nil
		}
	}

	for _, k := range consts {
		k.field.Attributes = slices.Delete(k.field.Attributes, k.attr, k.attr+1)
		c.records = append(c.records, k.repl.record(c.name, k.plain))
		c.rewritten = append(c.rewritten, k.str)
	}
	return nil
}
