package helper

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-quicktest/qt"
	"golang.org/x/tools/txtar"

	"github.com/AeonDave/stringfog/internal/cipher"
	"github.com/AeonDave/stringfog/internal/literals"
)

func testDescriptor(t *testing.T, name string, mode literals.Mode) Descriptor {
	t.Helper()
	c, err := cipher.Lookup(name)
	qt.Assert(t, qt.IsNil(err))
	key := make([]byte, c.KeySize())
	for i := range key {
		key[i] = byte(i + 1)
	}
	key[7] = 0xff
	return Descriptor{Unit: "com.example.app", Key: key, Mode: mode, Cipher: c}
}

func TestGenerateFixtures(t *testing.T) {
	ar, err := txtar.ParseFile(filepath.Join("testdata", "generate.txtar"))
	qt.Assert(t, qt.IsNil(err))
	for _, f := range ar.Files {
		name, ok := strings.CutSuffix(f.Name, ".contains")
		qt.Assert(t, qt.IsTrue(ok))
		i := strings.LastIndexByte(name, '-')
		mode, err := literals.ParseMode(name[i+1:])
		qt.Assert(t, qt.IsNil(err))

		t.Run(name, func(t *testing.T) {
			src, err := Generate(testDescriptor(t, name[:i], mode))
			qt.Assert(t, qt.IsNil(err))
			for line := range strings.Lines(string(f.Data)) {
				line = strings.TrimRight(line, "\n")
				if line == "" {
					continue
				}
				qt.Check(t, qt.StringContains(string(src), line+"\n"))
			}
		})
	}
}

func TestGenerateDeterministic(t *testing.T) {
	d := testDescriptor(t, "aes-cbc", literals.ModeBase64)
	a, err := Generate(d)
	qt.Assert(t, qt.IsNil(err))
	b, err := Generate(d)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(bytes.Equal(a, b)))

	other := d
	other.Key = bytes.Repeat([]byte{9}, 16)
	c, err := Generate(other)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(bytes.Equal(a, c)))
}

func TestModeOnlyInBase64(t *testing.T) {
	src, err := Generate(testDescriptor(t, "xor", literals.ModeBytes))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Not(qt.StringContains(string(src), "base64Decode")))
	qt.Assert(t, qt.Not(qt.StringContains(string(src), "decrypt(String value)")))
}

func TestNames(t *testing.T) {
	d := testDescriptor(t, "xor", literals.ModeBase64)
	qt.Assert(t, qt.Equals(d.ClassName(), "com.example.app.StringFog"))
	qt.Assert(t, qt.Equals(d.InternalName(), "com/example/app/StringFog"))
	qt.Assert(t, qt.Equals(d.MethodDescriptor(), "(Ljava/lang/String;)Ljava/lang/String;"))
	d.Mode = literals.ModeBytes
	qt.Assert(t, qt.Equals(d.MethodDescriptor(), "([B)Ljava/lang/String;"))
}

func TestValidate(t *testing.T) {
	for _, unit := range []string{"", "com..app", "com.class", "1com", "com.app-x", "com.app."} {
		qt.Check(t, qt.ErrorIs(ValidateUnit(unit), ErrInvalidUnit), qt.Commentf("%q", unit))
	}
	for _, unit := range []string{"app", "com.example.app", "com.ex_ample.v2", "$x"} {
		qt.Check(t, qt.IsNil(ValidateUnit(unit)), qt.Commentf("%q", unit))
	}

	d := testDescriptor(t, "aes-cbc", literals.ModeBase64)
	d.Key = d.Key[:5]
	_, err := Generate(d)
	qt.Assert(t, qt.ErrorMatches(err, `helper: aes-cbc: invalid key length 5`))

	d.Cipher = nil
	qt.Assert(t, qt.IsNotNil(d.Validate()))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	d := testDescriptor(t, "xor", literals.ModeBase64)

	path, changed, err := WriteFile(dir, d)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(changed))
	qt.Assert(t, qt.Equals(path, filepath.Join(dir, "com", "example", "app", "StringFog.java")))

	info, err := os.Stat(path)
	qt.Assert(t, qt.IsNil(err))

	_, changed, err = WriteFile(dir, d)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(changed))
	again, err := os.Stat(path)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(again.ModTime().Equal(info.ModTime())))

	d.Mode = literals.ModeBytes
	_, changed, err = WriteFile(dir, d)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(changed))
}
