package jvmtest

import (
	"fmt"
	"slices"

	"github.com/AeonDave/stringfog/internal/classfile"
)

const (
	descString     = "Ljava/lang/String;"
	descGetter     = "()Ljava/lang/String;"
	descStringFunc = "(Ljava/lang/String;)Ljava/lang/String;"
)

// Class builds a class file. Builder methods panic on misuse; they are
// meant for tests only.
type Class struct {
	cf     *classfile.ClassFile
	clinit *Asm
}

// NewClass starts a public class with the given internal name, extending
// java/lang/Object.
func NewClass(name string) *Class {
	pool := classfile.NewPool()
	cf := &classfile.ClassFile{
		Major:  52,
		Pool:   pool,
		Access: classfile.AccPublic | 0x0020, // ACC_SUPER
	}
	cf.This = must(pool.AddClass(name))
	cf.Super = must(pool.AddClass("java/lang/Object"))
	return &Class{cf: cf}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("jvmtest: %v", err))
	}
	return v
}

// Pool returns the constant pool being built.
func (c *Class) Pool() *classfile.Pool { return c.cf.Pool }

// String returns the pool index of a CONSTANT_String for s.
func (c *Class) String(s string) uint16 { return must(c.cf.Pool.AddString(s)) }

// Methodref returns the pool index of a method reference.
func (c *Class) Methodref(owner, name, desc string) uint16 {
	return must(c.cf.Pool.AddMemberRef(classfile.TagMethodref, owner, name, desc))
}

// Fieldref returns the pool index of a field of this class.
func (c *Class) Fieldref(name, desc string) uint16 {
	owner := must(c.cf.ClassName())
	return must(c.cf.Pool.AddMemberRef(classfile.TagFieldref, owner, name, desc))
}

func (c *Class) attr(name string, info []byte) *classfile.Attribute {
	return &classfile.Attribute{Name: must(c.cf.Pool.AddUtf8(name)), Info: info}
}

// AddCode adds a method with the given body.
func (c *Class) AddCode(access uint16, name, desc string, code *classfile.Code) *Class {
	m := &classfile.Member{
		Access:     access,
		Name:       must(c.cf.Pool.AddUtf8(name)),
		Descriptor: must(c.cf.Pool.AddUtf8(desc)),
	}
	c.cf.Methods = append(c.cf.Methods, m)
	if err := c.cf.SetCode(m, code); err != nil {
		panic(fmt.Sprintf("jvmtest: %v", err))
	}
	return c
}

// Method adds a method assembled by a, with a stack map when a marked any
// frames.
func (c *Class) Method(access uint16, name, desc string, maxStack, maxLocals uint16, a *Asm) *Class {
	code := &classfile.Code{MaxStack: maxStack, MaxLocals: maxLocals, Bytecode: a.Bytes()}
	if frames := a.StackMap(); len(frames) > 0 {
		code.Attributes = append(code.Attributes, c.attr("StackMapTable", must(classfile.EncodeStackMap(frames))))
	}
	return c.AddCode(access, name, desc, code)
}

const publicStatic = classfile.AccPublic | classfile.AccStatic

// ReturnString adds static String method() { return literal; }.
func (c *Class) ReturnString(method, literal string) *Class {
	a := new(Asm).Ldc(c.String(literal)).Op(classfile.OpAreturn)
	return c.Method(publicStatic, method, descGetter, 1, 0, a)
}

// Choice adds static String method(int v) { return v != 0 ? yes : no; }.
func (c *Class) Choice(method, yes, no string) *Class {
	a := new(Asm).
		Op(classfile.OpIload0).
		Jump(classfile.OpIfeq, "no").
		Ldc(c.String(yes)).Op(classfile.OpAreturn).
		Frame("no").
		Ldc(c.String(no)).Op(classfile.OpAreturn)
	return c.Method(publicStatic, method, "(I)Ljava/lang/String;", 1, 1, a)
}

// Case is one arm of a switch on strings.
type Case struct {
	Label, Result string
}

// StringSwitch adds a method shaped like javac's switch on strings:
//
//	static String method(String s) {
//		switch (s) { case Label: return Result; ... default: return def; }
//	}
func (c *Class) StringSwitch(method string, cases []Case, def string) *Class {
	return c.stringSwitch(method, cases, def,
		c.Methodref("java/lang/String", "equals", "(Ljava/lang/Object;)Z"), classfile.OpInvokevirtual)
}

// KotlinStringSwitch is like StringSwitch, comparing labels with
// Intrinsics.areEqual the way kotlinc compiles a when on strings.
func (c *Class) KotlinStringSwitch(method string, cases []Case, def string) *Class {
	return c.stringSwitch(method, cases, def,
		c.Methodref("kotlin/jvm/internal/Intrinsics", "areEqual", "(Ljava/lang/Object;Ljava/lang/Object;)Z"), classfile.OpInvokestatic)
}

func (c *Class) stringSwitch(method string, cases []Case, def string, equals uint16, invoke byte) *Class {
	groups := make(map[int32][]int)
	for i, cs := range cases {
		h := HashCode(cs.Label)
		groups[h] = append(groups[h], i)
	}
	var keys []int32
	for h := range groups {
		keys = append(keys, h)
	}
	slices.Sort(keys)
	labels := make([]string, len(keys))
	for i := range keys {
		labels[i] = fmt.Sprintf("h%d", i)
	}

	hashCode := c.Methodref("java/lang/String", "hashCode", "()I")
	a := new(Asm).
		Op(classfile.OpAload0).
		Op(classfile.OpInvokevirtual).U2(hashCode).
		Lookupswitch("default", keys, labels)
	for i, h := range keys {
		a.Frame(labels[i])
		for j, ci := range groups[h] {
			next := "default"
			if j+1 < len(groups[h]) {
				next = fmt.Sprintf("h%d_%d", i, j+1)
			}
			a.Op(classfile.OpAload0).
				Ldc(c.String(cases[ci].Label)).
				Op(invoke).U2(equals).
				Jump(classfile.OpIfeq, next).
				Ldc(c.String(cases[ci].Result)).Op(classfile.OpAreturn)
			if next != "default" {
				a.Frame(next)
			}
		}
	}
	a.Frame("default").Ldc(c.String(def)).Op(classfile.OpAreturn)
	return c.Method(publicStatic, method, descStringFunc, 2, 1, a)
}

// StaticConstant adds public static final String field = value, stored as
// a ConstantValue attribute.
func (c *Class) StaticConstant(field, value string) *Class {
	cv := c.String(value)
	m := &classfile.Member{
		Access:     publicStatic | classfile.AccFinal,
		Name:       must(c.cf.Pool.AddUtf8(field)),
		Descriptor: must(c.cf.Pool.AddUtf8(descString)),
		Attributes: []*classfile.Attribute{c.attr("ConstantValue", []byte{byte(cv >> 8), byte(cv)})},
	}
	c.cf.Fields = append(c.cf.Fields, m)
	return c
}

// StaticInit adds a static String field assigned in the static
// initializer.
func (c *Class) StaticInit(field, value string) *Class {
	c.cf.Fields = append(c.cf.Fields, &classfile.Member{
		Access:     publicStatic,
		Name:       must(c.cf.Pool.AddUtf8(field)),
		Descriptor: must(c.cf.Pool.AddUtf8(descString)),
	})
	if c.clinit == nil {
		c.clinit = new(Asm)
	}
	c.clinit.Ldc(c.String(value)).Op(classfile.OpPutstatic).U2(c.Fieldref(field, descString))
	return c
}

// GetStatic adds static String method() { return field; }.
func (c *Class) GetStatic(method, field string) *Class {
	a := new(Asm).Op(classfile.OpGetstatic).U2(c.Fieldref(field, descString)).Op(classfile.OpAreturn)
	return c.Method(publicStatic, method, descGetter, 1, 0, a)
}

// Annotate adds a runtime visible class annotation of the given type
// descriptor, for example "Lcom/app/Keep;".
func (c *Class) Annotate(desc string) *Class {
	t := must(c.cf.Pool.AddUtf8(desc))
	info := []byte{0, 1, byte(t >> 8), byte(t), 0, 0}
	c.cf.Attributes = append(c.cf.Attributes, c.attr("RuntimeVisibleAnnotations", info))
	return c
}

// SourceFile adds a SourceFile attribute.
func (c *Class) SourceFile(name string) *Class {
	idx := must(c.cf.Pool.AddUtf8(name))
	c.cf.Attributes = append(c.cf.Attributes, c.attr("SourceFile", []byte{byte(idx >> 8), byte(idx)}))
	return c
}

// Attribute adds a raw class attribute.
func (c *Class) Attribute(name string, info []byte) *Class {
	c.cf.Attributes = append(c.cf.Attributes, c.attr(name, info))
	return c
}

// Bytes encodes the class.
func (c *Class) Bytes() []byte {
	if c.clinit != nil {
		a := c.clinit
		c.clinit = nil
		a.Op(classfile.OpReturn)
		c.Method(classfile.AccStatic, "<clinit>", "()V", 1, 0, a)
	}
	return must(c.cf.Encode())
}
