package jvmtest

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/AeonDave/stringfog/internal/classfile"
)

// Native implements a static method that lives outside the class being
// run. Values are int32, string, []int8 or nil.
type Native func(args []any) (any, error)

// Machine runs the static methods of a single class. It understands the
// instructions that straight-line string code, string switches and static
// initializers compile to, and nothing more.
type Machine struct {
	cf      *classfile.ClassFile
	name    string
	natives map[string]Native
	statics map[string]any
	inited  bool
}

const maxSteps = 1 << 20

// Load parses a class. Natives are keyed by "owner.name:descriptor", for
// example "com/app/StringFog.decrypt:(Ljava/lang/String;)Ljava/lang/String;".
func Load(class []byte, natives map[string]Native) (*Machine, error) {
	cf, err := classfile.Parse(class)
	if err != nil {
		return nil, err
	}
	name, err := cf.ClassName()
	if err != nil {
		return nil, err
	}
	return &Machine{cf: cf, name: name, natives: natives, statics: make(map[string]any)}, nil
}

// Call initializes the class when needed and invokes a static method.
func (m *Machine) Call(method, desc string, args ...any) (any, error) {
	if err := m.init(); err != nil {
		return nil, err
	}
	return m.invoke(method, desc, args)
}

// Run loads class and calls one of its static methods.
func Run(class []byte, method, desc string, natives map[string]Native, args ...any) (any, error) {
	m, err := Load(class, natives)
	if err != nil {
		return nil, err
	}
	return m.Call(method, desc, args...)
}

// HashCode computes java.lang.String.hashCode.
func HashCode(s string) int32 {
	var h int32
	for _, c := range classfile.JavaChars(s) {
		h = 31*h + int32(c)
	}
	return h
}

func (m *Machine) init() error {
	if m.inited {
		return nil
	}
	m.inited = true
	for _, f := range m.cf.Fields {
		name, _, err := m.cf.MemberName(f)
		if err != nil {
			return err
		}
		if a, _ := m.cf.FindAttribute(f.Attributes, "ConstantValue"); a != nil && len(a.Info) == 2 {
			v, err := m.constant(binary.BigEndian.Uint16(a.Info))
			if err != nil {
				return err
			}
			m.statics[name] = v
		}
	}
	if m.cf.FindMethod("<clinit>", "()V") != nil {
		if _, err := m.invoke("<clinit>", "()V", nil); err != nil {
			return fmt.Errorf("<clinit>: %w", err)
		}
	}
	return nil
}

func (m *Machine) constant(idx uint16) (any, error) {
	c, err := m.cf.Pool.Get(idx)
	if err != nil {
		return nil, err
	}
	switch c.Tag {
	case classfile.TagString:
		return m.cf.Pool.Utf8(c.A)
	case classfile.TagInteger:
		return int32(uint32(c.Bits)), nil
	}
	return nil, fmt.Errorf("unsupported constant tag %d", c.Tag)
}

// argCount counts the parameters of a method descriptor.
func argCount(desc string) int {
	n := 0
	params := desc[1:strings.IndexByte(desc, ')')]
	for i := 0; i < len(params); i++ {
		for params[i] == '[' {
			i++
		}
		if params[i] == 'L' {
			i += strings.IndexByte(params[i:], ';')
		}
		n++
	}
	return n
}

func (m *Machine) invoke(method, desc string, args []any) (any, error) {
	mm := m.cf.FindMethod(method, desc)
	if mm == nil {
		return nil, fmt.Errorf("no method %s.%s%s", m.name, method, desc)
	}
	code, err := m.cf.Code(mm)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, fmt.Errorf("method %s%s has no code", method, desc)
	}
	locals := make([]any, max(int(code.MaxLocals), len(args)))
	copy(locals, args)
	var stack []any
	push := func(v any) { stack = append(stack, v) }
	pop := func() any {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	popInt := func() (int32, error) {
		v, ok := pop().(int32)
		if !ok {
			return 0, fmt.Errorf("expected int on the stack")
		}
		return v, nil
	}

	bc := code.Bytecode
	u2 := func(at int) uint16 { return binary.BigEndian.Uint16(bc[at:]) }
	s4 := func(at int) int { return int(int32(binary.BigEndian.Uint32(bc[at:]))) }
	pc := 0
	for steps := 0; ; steps++ {
		if steps > maxSteps {
			return nil, fmt.Errorf("%s%s: step limit exceeded", method, desc)
		}
		if pc < 0 || pc >= len(bc) {
			return nil, fmt.Errorf("%s%s: pc %d out of range", method, desc, pc)
		}
		if len(stack) > int(code.MaxStack) {
			return nil, fmt.Errorf("%s%s: stack depth %d exceeds max_stack %d at pc %d", method, desc, len(stack), code.MaxStack, pc)
		}
		op := bc[pc]
		next := pc + 1
		switch {
		case op == 0x00: // nop
		case op == 0x01:
			push(nil)
		case op >= classfile.OpIconstM1 && op <= classfile.OpIconst5:
			push(int32(op) - classfile.OpIconst0)
		case op == classfile.OpBipush:
			push(int32(int8(bc[pc+1])))
			next = pc + 2
		case op == classfile.OpSipush:
			push(int32(int16(u2(pc + 1))))
			next = pc + 3
		case op == classfile.OpLdc || op == classfile.OpLdcW:
			idx := uint16(bc[pc+1])
			next = pc + 2
			if op == classfile.OpLdcW {
				idx = u2(pc + 1)
				next = pc + 3
			}
			v, err := m.constant(idx)
			if err != nil {
				return nil, err
			}
			push(v)
		case op == classfile.OpIload || op == classfile.OpAload:
			push(locals[bc[pc+1]])
			next = pc + 2
		case op >= classfile.OpIload0 && op <= classfile.OpIload3:
			push(locals[op-classfile.OpIload0])
		case op >= classfile.OpAload0 && op <= classfile.OpAload3:
			push(locals[op-classfile.OpAload0])
		case op == classfile.OpIstore || op == classfile.OpAstore:
			locals[bc[pc+1]] = pop()
			next = pc + 2
		case op >= classfile.OpIstore0 && op <= classfile.OpIstore3:
			locals[op-classfile.OpIstore0] = pop()
		case op >= classfile.OpAstore0 && op <= classfile.OpAstore3:
			locals[op-classfile.OpAstore0] = pop()
		case op == 0x33: // baload
			i, err := popInt()
			if err != nil {
				return nil, err
			}
			arr := pop().([]int8)
			push(int32(arr[i]))
		case op == classfile.OpBastore:
			v, err := popInt()
			if err != nil {
				return nil, err
			}
			i, err := popInt()
			if err != nil {
				return nil, err
			}
			arr, ok := pop().([]int8)
			if !ok || i < 0 || int(i) >= len(arr) {
				return nil, fmt.Errorf("bastore: bad array or index %d at pc %d", i, pc)
			}
			arr[i] = int8(v)
		case op == classfile.OpPop:
			pop()
		case op == classfile.OpDup:
			push(stack[len(stack)-1])
		case op >= classfile.OpIfeq && op <= classfile.OpIfle:
			v, err := popInt()
			if err != nil {
				return nil, err
			}
			if cmpZero(op-classfile.OpIfeq, v, 0) {
				next = pc + int(int16(u2(pc+1)))
			} else {
				next = pc + 3
			}
		case op >= classfile.OpIfIcmpeq && op <= classfile.OpIfIcmple:
			b, err := popInt()
			if err != nil {
				return nil, err
			}
			a, err := popInt()
			if err != nil {
				return nil, err
			}
			if cmpZero(op-classfile.OpIfIcmpeq, a, b) {
				next = pc + int(int16(u2(pc+1)))
			} else {
				next = pc + 3
			}
		case op == classfile.OpIfAcmpeq || op == classfile.OpIfAcmpne:
			b, a := pop(), pop()
			if (a == b) == (op == classfile.OpIfAcmpeq) {
				next = pc + int(int16(u2(pc+1)))
			} else {
				next = pc + 3
			}
		case op == classfile.OpIfnull || op == classfile.OpIfnonnull:
			v := pop()
			if (v == nil) == (op == classfile.OpIfnull) {
				next = pc + int(int16(u2(pc+1)))
			} else {
				next = pc + 3
			}
		case op == classfile.OpGoto:
			next = pc + int(int16(u2(pc+1)))
		case op == classfile.OpGotoW:
			next = pc + s4(pc+1)
		case op == classfile.OpTableswitch:
			base := pc + 1 + (4-(pc+1)%4)%4
			key, err := popInt()
			if err != nil {
				return nil, err
			}
			low, high := int32(s4(base+4)), int32(s4(base+8))
			if key < low || key > high {
				next = pc + s4(base)
			} else {
				next = pc + s4(base+12+4*int(key-low))
			}
		case op == classfile.OpLookupswitch:
			base := pc + 1 + (4-(pc+1)%4)%4
			key, err := popInt()
			if err != nil {
				return nil, err
			}
			next = pc + s4(base)
			for i, n := 0, s4(base+4); i < n; i++ {
				if int32(s4(base+8+8*i)) == key {
					next = pc + s4(base+12+8*i)
					break
				}
			}
		case op == classfile.OpIreturn || op == classfile.OpAreturn:
			return pop(), nil
		case op == classfile.OpReturn:
			return nil, nil
		case op == classfile.OpGetstatic || op == classfile.OpPutstatic:
			owner, name, _, err := m.cf.Pool.MemberRef(u2(pc + 1))
			if err != nil {
				return nil, err
			}
			if owner != m.name {
				return nil, fmt.Errorf("field %s.%s is outside the class", owner, name)
			}
			if op == classfile.OpGetstatic {
				push(m.statics[name])
			} else {
				m.statics[name] = pop()
			}
			next = pc + 3
		case op == classfile.OpInvokestatic || op == classfile.OpInvokevirtual:
			owner, name, mdesc, err := m.cf.Pool.MemberRef(u2(pc + 1))
			if err != nil {
				return nil, err
			}
			n := argCount(mdesc)
			if op == classfile.OpInvokevirtual {
				n++
			}
			callArgs := make([]any, n)
			for i := n - 1; i >= 0; i-- {
				callArgs[i] = pop()
			}
			var ret any
			if op == classfile.OpInvokestatic && owner == m.name {
				ret, err = m.invoke(name, mdesc, callArgs)
			} else {
				ret, err = m.callOut(owner, name, mdesc, callArgs)
			}
			if err != nil {
				return nil, err
			}
			if !strings.HasSuffix(mdesc, ")V") {
				push(ret)
			}
			next = pc + 3
		case op == classfile.OpNewarray:
			n, err := popInt()
			if err != nil {
				return nil, err
			}
			if bc[pc+1] != classfile.TByte || n < 0 {
				return nil, fmt.Errorf("newarray: unsupported type %d or size %d", bc[pc+1], n)
			}
			push(make([]int8, n))
			next = pc + 2
		case op == 0xbe: // arraylength
			push(int32(len(pop().([]int8))))
		default:
			return nil, fmt.Errorf("%s%s: unsupported opcode %#x at pc %d", method, desc, op, pc)
		}
		pc = next
	}
}

// cmpZero evaluates the condition of if<cond> and if_icmp<cond>; kind
// counts from eq.
func cmpZero(kind byte, a, b int32) bool {
	switch kind {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	default:
		return a <= b
	}
}

func (m *Machine) callOut(owner, name, desc string, args []any) (any, error) {
	key := owner + "." + name + ":" + desc
	if fn, ok := m.natives[key]; ok {
		return fn(args)
	}
	switch key {
	case "java/lang/String.hashCode:()I":
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("hashCode on %T", args[0])
		}
		return HashCode(s), nil
	case "java/lang/String.equals:(Ljava/lang/Object;)Z",
		"kotlin/jvm/internal/Intrinsics.areEqual:(Ljava/lang/Object;Ljava/lang/Object;)Z":
		if args[0] == nil || args[1] == nil {
			return boolInt(args[0] == nil && args[1] == nil), nil
		}
		a, aok := args[0].(string)
		b, bok := args[1].(string)
		return boolInt(aok && bok && a == b), nil
	case "java/lang/String.length:()I":
		return int32(len(classfile.JavaChars(args[0].(string)))), nil
	}
	return nil, fmt.Errorf("no native for %s", key)
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
