package transform

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"

	"github.com/AeonDave/stringfog/internal/cipher"
	"github.com/AeonDave/stringfog/internal/classfile"
	"github.com/AeonDave/stringfog/internal/helper"
	"github.com/AeonDave/stringfog/internal/jvmtest"
	"github.com/AeonDave/stringfog/internal/literals"
)

var testKey = []byte{1, 2, 3, 4, 5, 6, 7, 8}

const getter = "()Ljava/lang/String;"

func newTransformer(t *testing.T, mode literals.Mode, edit func(*Config)) *Transformer {
	t.Helper()
	c, err := cipher.Lookup("xor")
	qt.Assert(t, qt.IsNil(err))
	cfg := Config{
		Helper:  helper.Descriptor{Unit: "com.app", Key: testKey, Mode: mode, Cipher: c},
		Enabled: true,
	}
	if edit != nil {
		edit(&cfg)
	}
	tr, err := New(cfg)
	qt.Assert(t, qt.IsNil(err))
	return tr
}

// natives implements the helper's decrypt the way the generated Java does.
func natives(d helper.Descriptor) map[string]jvmtest.Native {
	key := d.InternalName() + "." + helper.MethodName + ":" + d.MethodDescriptor()
	return map[string]jvmtest.Native{key: func(args []any) (any, error) {
		var lit literals.Literal
		switch v := args[0].(type) {
		case string:
			lit = literals.Literal{Mode: literals.ModeBase64, Text: v}
		case []int8:
			b := make([]byte, len(v))
			for i, x := range v {
				b[i] = byte(x)
			}
			lit = literals.Literal{Mode: literals.ModeBytes, Bytes: b}
		default:
			return nil, fmt.Errorf("decrypt(%T)", v)
		}
		ct, err := literals.Decode(lit, d.Mode)
		if err != nil {
			return nil, err
		}
		plain, err := d.Cipher.Decrypt(ct, d.Key)
		if err != nil {
			return nil, err
		}
		return string(plain), nil
	}}
}

func plains(records []Record) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.Plain)
	}
	return out
}

func TestHelloWorld(t *testing.T) {
	tr := newTransformer(t, literals.ModeBase64, nil)
	in := jvmtest.NewClass("com/app/secret/Foo").ReturnString("greet", "hello world").Bytes()

	res, err := tr.Transform(in, "com/app/secret/Foo")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(res.Changed))
	qt.Assert(t, qt.HasLen(res.Warnings, 0))
	qt.Assert(t, qt.IsFalse(bytes.Contains(res.Class, []byte("hello world"))))

	ct := make([]byte, len("hello world"))
	for i, b := range []byte("hello world") {
		ct[i] = b ^ testKey[i%len(testKey)]
	}
	want := []Record{{Class: "com.app.secret.Foo", Plain: "hello world", Encoded: base64.StdEncoding.EncodeToString(ct)}}
	qt.Assert(t, qt.CmpEquals(res.Records, want))

	got, err := jvmtest.Run(res.Class, "greet", getter, natives(tr.cfg.Helper))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, any("hello world")))
}

func TestModes(t *testing.T) {
	for _, mode := range []literals.Mode{literals.ModeBase64, literals.ModeBytes} {
		t.Run(mode.String(), func(t *testing.T) {
			tr := newTransformer(t, mode, nil)
			in := jvmtest.NewClass("com/app/Modes").
				ReturnString("greet", "héllo wörld 😀").
				Choice("pick", "yes please", "no thanks").
				Bytes()
			res, err := tr.Transform(in, "")
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.DeepEquals(plains(res.Records), []string{"héllo wörld 😀", "yes please", "no thanks"}))

			m, err := jvmtest.Load(res.Class, natives(tr.cfg.Helper))
			qt.Assert(t, qt.IsNil(err))
			got, err := m.Call("greet", getter)
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.Equals(got, any("héllo wörld 😀")))
			got, err = m.Call("pick", "(I)Ljava/lang/String;", int32(1))
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.Equals(got, any("yes please")))
			got, err = m.Call("pick", "(I)Ljava/lang/String;", int32(0))
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.Equals(got, any("no thanks")))

			if mode == literals.ModeBytes {
				ct, err := literals.ParseSignedList(res.Records[1].Encoded)
				qt.Assert(t, qt.IsNil(err))
				plain, err := tr.cfg.Helper.Cipher.Decrypt(ct, testKey)
				qt.Assert(t, qt.IsNil(err))
				qt.Assert(t, qt.Equals(string(plain), "yes please"))
			}
		})
	}
}

func TestScopeFiltering(t *testing.T) {
	tr := newTransformer(t, literals.ModeBase64, func(c *Config) {
		c.Packages = []string{"com.app.secret"}
	})

	foo := jvmtest.NewClass("com/app/secret/Foo").ReturnString("get", "hello").Bytes()
	res, err := tr.Transform(foo, "com.app.secret.Foo")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(res.Changed))
	qt.Assert(t, qt.HasLen(res.Records, 1))

	bar := jvmtest.NewClass("com/app/other/Bar").ReturnString("get", "hello").Bytes()
	res, err = tr.Transform(bar, "com.app.other.Bar")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(res.Changed))
	qt.Assert(t, qt.HasLen(res.Records, 0))
	qt.Assert(t, qt.DeepEquals(res.Class, bar))

	// Without a name the class file's own name decides.
	res, err = tr.Transform(bar, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(res.Changed))
}

func TestSelfExclusion(t *testing.T) {
	tr := newTransformer(t, literals.ModeBase64, func(c *Config) {
		c.Packages = []string{"com.app"}
	})
	in := jvmtest.NewClass("com/app/StringFog").ReturnString("get", "hello").Bytes()
	for _, name := range []string{"com.app.StringFog", ""} {
		res, err := tr.Transform(in, name)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.HasLen(res.Records, 0))
		qt.Assert(t, qt.DeepEquals(res.Class, in))
	}
}

func TestIdempotent(t *testing.T) {
	tr := newTransformer(t, literals.ModeBase64, nil)
	in := jvmtest.NewClass("com/app/Twice").ReturnString("get", "hello").Bytes()
	first, err := tr.Transform(in, "com.app.Twice")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(first.Records, 1))

	second, err := tr.Transform(first.Class, "com.app.Twice")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(second.Changed))
	qt.Assert(t, qt.HasLen(second.Records, 0))
	qt.Assert(t, qt.DeepEquals(second.Class, first.Class))
}

func TestDeterministic(t *testing.T) {
	tr := newTransformer(t, literals.ModeBytes, nil)
	in := jvmtest.NewClass("com/app/Det").ReturnString("a", "one").Choice("b", "two", "three").Bytes()
	r1, err := tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	r2, err := tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(r1.Class, r2.Class))
	qt.Assert(t, qt.CmpEquals(r1.Records, r2.Records))
}

func TestSwitchLabelsStayLiteral(t *testing.T) {
	cases := []jvmtest.Case{
		{Label: "alpha", Result: "first"},
		{Label: "bravo", Result: "second"},
		// Equal hashes share a switch arm, which comes first in the method.
		{Label: "Aa", Result: "third"},
		{Label: "BB", Result: "fourth"},
	}
	build := map[string]func(*jvmtest.Class, string, []jvmtest.Case, string) *jvmtest.Class{
		"java":   (*jvmtest.Class).StringSwitch,
		"kotlin": (*jvmtest.Class).KotlinStringSwitch,
	}
	for name, fn := range build {
		t.Run(name, func(t *testing.T) {
			tr := newTransformer(t, literals.ModeBase64, nil)
			in := fn(jvmtest.NewClass("com/app/Switch"), "pick", cases, "other").Bytes()
			res, err := tr.Transform(in, "")
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.IsTrue(res.Changed))
			qt.Assert(t, qt.DeepEquals(plains(res.Records), []string{"third", "fourth", "first", "second", "other"}))
			for _, cs := range cases {
				qt.Check(t, qt.IsTrue(bytes.Contains(res.Class, []byte(cs.Label))), qt.Commentf("label %q", cs.Label))
				qt.Check(t, qt.IsFalse(bytes.Contains(res.Class, []byte(cs.Result))), qt.Commentf("result %q", cs.Result))
			}

			m, err := jvmtest.Load(res.Class, natives(tr.cfg.Helper))
			qt.Assert(t, qt.IsNil(err))
			for _, cs := range cases {
				got, err := m.Call("pick", "(Ljava/lang/String;)Ljava/lang/String;", cs.Label)
				qt.Assert(t, qt.IsNil(err))
				qt.Assert(t, qt.Equals(got, any(cs.Result)))
			}
			got, err := m.Call("pick", "(Ljava/lang/String;)Ljava/lang/String;", "zulu")
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.Equals(got, any("other")))
		})
	}
}

func TestComparisonsOutsideSwitchAreRewritten(t *testing.T) {
	// static String check(String s) {
	//	if (s.equals("hunter2")) return "granted";
	//	switch (s) { case "alpha": return "A"; default: return "denied"; }
	// }
	c := jvmtest.NewClass("com/app/Login")
	equals := c.Methodref("java/lang/String", "equals", "(Ljava/lang/Object;)Z")
	hashCode := c.Methodref("java/lang/String", "hashCode", "()I")
	a := new(jvmtest.Asm).
		Op(classfile.OpAload0).Ldc(c.String("hunter2")).Op(classfile.OpInvokevirtual).U2(equals).
		Jump(classfile.OpIfeq, "switch").
		Ldc(c.String("granted")).Op(classfile.OpAreturn).
		Frame("switch").
		Op(classfile.OpAload0).Op(classfile.OpInvokevirtual).U2(hashCode).
		Lookupswitch("default", []int32{jvmtest.HashCode("alpha")}, []string{"alpha"}).
		Frame("alpha").
		Op(classfile.OpAload0).Ldc(c.String("alpha")).Op(classfile.OpInvokevirtual).U2(equals).
		Jump(classfile.OpIfeq, "default").
		Ldc(c.String("A")).Op(classfile.OpAreturn).
		Frame("default").
		Ldc(c.String("denied")).Op(classfile.OpAreturn)
	in := c.Method(classfile.AccPublic|classfile.AccStatic, "check", "(Ljava/lang/String;)Ljava/lang/String;", 2, 1, a).Bytes()

	tr := newTransformer(t, literals.ModeBase64, nil)
	res, err := tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(plains(res.Records), []string{"hunter2", "granted", "A", "denied"}))
	qt.Assert(t, qt.IsFalse(bytes.Contains(res.Class, []byte("hunter2"))))
	qt.Assert(t, qt.IsTrue(bytes.Contains(res.Class, []byte("alpha"))))

	m, err := jvmtest.Load(res.Class, natives(tr.cfg.Helper))
	qt.Assert(t, qt.IsNil(err))
	for arg, want := range map[string]string{"hunter2": "granted", "alpha": "A", "zulu": "denied"} {
		got, err := m.Call("check", "(Ljava/lang/String;)Ljava/lang/String;", arg)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.Equals(got, any(want)), qt.Commentf("check(%q)", arg))
	}
}

func TestEmptyStringSwitchKeepsNoLabels(t *testing.T) {
	// A hash switch with no case arms leaves no labels, so the comparison
	// before it is rewritten.
	c := jvmtest.NewClass("com/app/Empty")
	equals := c.Methodref("java/lang/String", "equals", "(Ljava/lang/Object;)Z")
	hashCode := c.Methodref("java/lang/String", "hashCode", "()I")
	a := new(jvmtest.Asm).
		Op(classfile.OpAload0).Ldc(c.String("hunter2")).Op(classfile.OpInvokevirtual).U2(equals).
		Op(classfile.OpPop).
		Op(classfile.OpAload0).Op(classfile.OpInvokevirtual).U2(hashCode).
		Lookupswitch("end", nil, nil).
		Frame("end").
		Ldc(c.String("done")).Op(classfile.OpAreturn)
	in := c.Method(classfile.AccPublic|classfile.AccStatic, "f", "(Ljava/lang/String;)Ljava/lang/String;", 2, 1, a).Bytes()

	tr := newTransformer(t, literals.ModeBase64, nil)
	res, err := tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(plains(res.Records), []string{"hunter2", "done"}))
	qt.Assert(t, qt.IsFalse(bytes.Contains(res.Class, []byte("hunter2"))))
}

func TestSkippedStrings(t *testing.T) {
	in := jvmtest.NewClass("com/app/Skip").
		ReturnString("blank", " \t\n").
		ReturnString("lone", "XYZ").
		ReturnString("ok", "fine").
		Bytes()
	// Turn "XYZ" into the modified UTF-8 of a lone high surrogate.
	i := bytes.Index(in, []byte("XYZ"))
	qt.Assert(t, qt.Not(qt.Equals(i, -1)))
	copy(in[i:], []byte{0xed, 0xa0, 0x80})

	tr := newTransformer(t, literals.ModeBase64, nil)
	res, err := tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(plains(res.Records), []string{"fine"}))
	qt.Assert(t, qt.HasLen(res.Warnings, 1))
	qt.Assert(t, qt.ErrorIs(res.Warnings[0], ErrEncoding))

	got, err := jvmtest.Run(res.Class, "blank", getter, nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, any(" \t\n")))
}

func TestTooLarge(t *testing.T) {
	long := strings.Repeat("a", maxArrayBytes+1)
	in := jvmtest.NewClass("com/app/Big").ReturnString("get", long).Bytes()

	tr := newTransformer(t, literals.ModeBytes, nil)
	res, err := tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(res.Changed))
	qt.Assert(t, qt.HasLen(res.Warnings, 1))
	qt.Assert(t, qt.ErrorIs(res.Warnings[0], ErrEncoding))

	// Base64 has room for it.
	tr = newTransformer(t, literals.ModeBase64, nil)
	res, err = tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(res.Changed))

	huge := strings.Repeat("b", maxPlainChars)
	in = jvmtest.NewClass("com/app/Huge").ReturnString("get", huge).Bytes()
	res, err = tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(res.Changed))
	qt.Assert(t, qt.ErrorIs(res.Warnings[0], ErrEncoding))
}

func TestIgnoreAnnotation(t *testing.T) {
	tr := newTransformer(t, literals.ModeBase64, nil)
	in := jvmtest.NewClass("com/app/Kept").
		Annotate("Lcom/github/megatronking/stringfog/annotation/StringFogIgnore;").
		ReturnString("get", "hello").
		Bytes()
	res, err := tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(res.Changed))

	// Other annotations do not matter.
	in = jvmtest.NewClass("com/app/Kept").Annotate("Lcom/app/Keep;").ReturnString("get", "hello").Bytes()
	res, err = tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(res.Changed))
}

func TestDisabled(t *testing.T) {
	tr := newTransformer(t, literals.ModeBase64, func(c *Config) { c.Enabled = false })
	in := jvmtest.NewClass("com/app/Off").ReturnString("get", "hello").Bytes()
	for _, name := range []string{"com.app.Off", ""} {
		res, err := tr.Transform(in, name)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.IsFalse(res.Changed))
		qt.Assert(t, qt.HasLen(res.Records, 0))
	}
}

func TestHoistConstants(t *testing.T) {
	for _, mode := range []literals.Mode{literals.ModeBase64, literals.ModeBytes} {
		t.Run(mode.String(), func(t *testing.T) {
			tr := newTransformer(t, mode, func(c *Config) { c.HoistConstants = true })
			// One class gets a new <clinit>, the other extends its own.
			for _, withInit := range []bool{false, true} {
				cls := jvmtest.NewClass("com/app/Consts").
					StaticConstant("SECRET", "s3cret").
					GetStatic("secret", "SECRET")
				if withInit {
					cls.StaticInit("OTHER", "other value").GetStatic("other", "OTHER")
				}
				res, err := tr.Transform(cls.Bytes(), "")
				qt.Assert(t, qt.IsNil(err))
				qt.Assert(t, qt.SliceContains(plains(res.Records), "s3cret"))
				qt.Assert(t, qt.IsFalse(bytes.Contains(res.Class, []byte("s3cret"))))

				cf, err := classfile.Parse(res.Class)
				qt.Assert(t, qt.IsNil(err))
				for _, f := range cf.Fields {
					a, _ := cf.FindAttribute(f.Attributes, "ConstantValue")
					qt.Assert(t, qt.IsNil(a))
				}

				m, err := jvmtest.Load(res.Class, natives(tr.cfg.Helper))
				qt.Assert(t, qt.IsNil(err))
				got, err := m.Call("secret", getter)
				qt.Assert(t, qt.IsNil(err))
				qt.Assert(t, qt.Equals(got, any("s3cret")))
				if withInit {
					got, err := m.Call("other", getter)
					qt.Assert(t, qt.IsNil(err))
					qt.Assert(t, qt.Equals(got, any("other value")))
				}
			}
		})
	}

	// Without hoisting the constant stays where it was.
	tr := newTransformer(t, literals.ModeBase64, nil)
	in := jvmtest.NewClass("com/app/Consts").StaticConstant("SECRET", "s3cret").GetStatic("secret", "SECRET").Bytes()
	res, err := tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(res.Changed))
}

func TestUnsupportedCodeAttribute(t *testing.T) {
	cls := jvmtest.NewClass("com/app/Odd").ReturnString("plain", "rewritten")
	weird, err := cls.Pool().AddUtf8("WeirdTable")
	qt.Assert(t, qt.IsNil(err))
	body := new(jvmtest.Asm).Ldc(cls.String("kept")).Op(classfile.OpAreturn)
	cls.AddCode(classfile.AccPublic|classfile.AccStatic, "odd", getter, &classfile.Code{
		MaxStack:   1,
		Bytecode:   body.Bytes(),
		Attributes: []*classfile.Attribute{{Name: weird, Info: []byte{0, 0}}},
	})

	tr := newTransformer(t, literals.ModeBase64, nil)
	res, err := tr.Transform(cls.Bytes(), "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(plains(res.Records), []string{"rewritten"}))
	qt.Assert(t, qt.HasLen(res.Warnings, 1))
	qt.Assert(t, qt.ErrorIs(res.Warnings[0], classfile.ErrUnsupportedAttribute))

	// The odd method still runs, with its string in plain text.
	got, err := jvmtest.Run(res.Class, "odd", getter, natives(tr.cfg.Helper))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, any("kept")))
	qt.Assert(t, qt.IsTrue(bytes.Contains(res.Class, []byte("kept"))))
}

func TestKeepPool(t *testing.T) {
	tr := newTransformer(t, literals.ModeBase64, func(c *Config) { c.KeepPool = true })
	in := jvmtest.NewClass("com/app/Pool").ReturnString("get", "hello world").Bytes()
	res, err := tr.Transform(in, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(res.Changed))
	qt.Assert(t, qt.IsTrue(bytes.Contains(res.Class, []byte("hello world"))))
}

func TestMalformed(t *testing.T) {
	tr := newTransformer(t, literals.ModeBase64, nil)
	_, err := tr.Transform([]byte("nope"), "com.app.X")
	qt.Assert(t, qt.ErrorIs(err, classfile.ErrMalformed))

	in := jvmtest.NewClass("com/app/Cut").ReturnString("get", "hello").Bytes()
	_, err = tr.Transform(in[:len(in)-3], "")
	qt.Assert(t, qt.ErrorIs(err, classfile.ErrMalformed))
}

func TestNew(t *testing.T) {
	c, _ := cipher.Lookup("xor")
	_, err := New(Config{Helper: helper.Descriptor{Unit: "com.app", Cipher: c}})
	qt.Assert(t, qt.ErrorIs(err, ErrHelperResolution))
	_, err = New(Config{Helper: helper.Descriptor{Key: testKey, Cipher: c}})
	qt.Assert(t, qt.ErrorIs(err, ErrHelperResolution))
	_, err = New(Config{Helper: helper.Descriptor{Unit: "com.app", Key: testKey}})
	qt.Assert(t, qt.ErrorIs(err, ErrHelperResolution))
	_, err = New(Config{Helper: helper.Descriptor{Unit: "com.app", Key: testKey, Cipher: c, Mode: 7}})
	qt.Assert(t, qt.ErrorIs(err, ErrHelperResolution))
}

func TestEligible(t *testing.T) {
	tr := newTransformer(t, literals.ModeBase64, func(c *Config) {
		c.Packages = []string{"com.app", " org.lib. "}
		c.Ignore = []string{"com.app.vendor"}
	})
	tests := []struct {
		name string
		want bool
	}{
		{"com.app.Main", true},
		{"com/app/ui/Screen.class", true},
		{"com.app.ui.Screen$1", true},
		{"org.lib.sub.Thing", true},
		{"org.library.Thing", false},
		{"com.apple.Main", false},
		{"com.app", false},
		{"com.app.StringFog", false},
		{"com.app.BuildConfig", false},
		{"com.app.R", false},
		{"com.app.R$string", false},
		{"com.app.R2$id", false},
		{"com.app.vendor.Lib", false},
		{"", false},
	}
	for _, test := range tests {
		qt.Check(t, qt.Equals(tr.Eligible(test.name), test.want), qt.Commentf("%s", test.name))
	}
}

func TestPushInt(t *testing.T) {
	tests := []struct {
		v    int
		want []byte
	}{
		{-1, []byte{classfile.OpIconstM1}},
		{0, []byte{classfile.OpIconst0}},
		{5, []byte{classfile.OpIconst5}},
		{6, []byte{classfile.OpBipush, 6}},
		{-128, []byte{classfile.OpBipush, 0x80}},
		{127, []byte{classfile.OpBipush, 127}},
		{128, []byte{classfile.OpSipush, 0, 128}},
		{8192, []byte{classfile.OpSipush, 0x20, 0}},
	}
	for _, test := range tests {
		if diff := cmp.Diff(test.want, pushInt(nil, test.v)); diff != "" {
			t.Errorf("pushInt(%d) mismatch (-want +got):\n%s", test.v, diff)
		}
	}
}
