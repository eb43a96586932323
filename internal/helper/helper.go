// Package helper generates the Java source of the per-unit decrypt helper,
// the class every rewritten call site invokes.
package helper

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/AeonDave/stringfog/internal/cipher"
	"github.com/AeonDave/stringfog/internal/literals"
)

// SimpleName is the fixed simple name of the generated class.
const SimpleName = "StringFog"

// MethodName is the decrypt entry point.
const MethodName = "decrypt"

// ErrInvalidUnit is returned when a compilation unit identifier is not a
// valid Java package name.
var ErrInvalidUnit = errors.New("invalid compilation unit")

//go:embed StringFog.java.tmpl
var javaTemplate string

var tmpl = template.Must(template.New("StringFog.java").Parse(javaTemplate))

// Descriptor identifies the helper of one compilation unit. Source generation
// and class transformation must be given equal descriptors.
type Descriptor struct {
	Unit   string
	Key    []byte
	Mode   literals.Mode
	Cipher cipher.Cipher
}

// ClassName is the dotted name of the helper class.
func (d Descriptor) ClassName() string { return d.Unit + "." + SimpleName }

// InternalName is the slash separated name used in class files.
func (d Descriptor) InternalName() string {
	return strings.ReplaceAll(d.ClassName(), ".", "/")
}

// MethodDescriptor is the JVM descriptor of the decrypt method for the
// descriptor's mode.
func (d Descriptor) MethodDescriptor() string {
	if d.Mode == literals.ModeBytes {
		return "([B)Ljava/lang/String;"
	}
	return "(Ljava/lang/String;)Ljava/lang/String;"
}

// Validate reports whether the descriptor can produce a usable helper.
func (d Descriptor) Validate() error {
	if err := ValidateUnit(d.Unit); err != nil {
		return err
	}
	if d.Cipher == nil {
		return errors.New("helper: no cipher")
	}
	if len(d.Key) == 0 {
		return errors.New("helper: empty key")
	}
	if err := d.Cipher.CheckKey(d.Key); err != nil {
		return fmt.Errorf("helper: %w", err)
	}
	return nil
}

// ValidateUnit checks that unit is a dotted Java package name.
func ValidateUnit(unit string) error {
	if unit == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUnit)
	}
	for part := range strings.SplitSeq(unit, ".") {
		if !isJavaIdent(part) || javaKeywords[part] {
			return fmt.Errorf("%w %q: bad segment %q", ErrInvalidUnit, unit, part)
		}
	}
	return nil
}

func isJavaIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

var javaKeywords = map[string]bool{
	"abstract": true, "assert": true, "boolean": true, "break": true, "byte": true,
	"case": true, "catch": true, "char": true, "class": true, "const": true,
	"continue": true, "default": true, "do": true, "double": true, "else": true,
	"enum": true, "extends": true, "final": true, "finally": true, "float": true,
	"for": true, "goto": true, "if": true, "implements": true, "import": true,
	"instanceof": true, "int": true, "interface": true, "long": true, "native": true,
	"new": true, "package": true, "private": true, "protected": true, "public": true,
	"return": true, "short": true, "static": true, "strictfp": true, "super": true,
	"switch": true, "synchronized": true, "this": true, "throw": true, "throws": true,
	"transient": true, "try": true, "void": true, "volatile": true, "while": true,
	"true": true, "false": true, "null": true, "_": true,
}

// Generate renders the helper source. Equal descriptors give byte-identical
// output.
func Generate(d Descriptor) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	java := d.Cipher.Java()
	data := struct {
		Package  string
		Class    string
		Imports  []string
		Mode     string
		Cipher   string
		KeyLines []string
		Body     string
	}{
		Package:  d.Unit,
		Class:    SimpleName,
		Imports:  java.Imports,
		Mode:     d.Mode.String(),
		Cipher:   d.Cipher.Name(),
		KeyLines: keyLines(d.Key),
		Body:     indent(java.Body, "        "),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", d.ClassName(), err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes the helper below genDir at its package path. The file is
// left alone when its content is already current, which keeps the host's
// incremental Java compilation quiet.
func WriteFile(genDir string, d Descriptor) (path string, changed bool, err error) {
	src, err := Generate(d)
	if err != nil {
		return "", false, err
	}
	path = filepath.Join(genDir, filepath.FromSlash(strings.ReplaceAll(d.Unit, ".", "/")), SimpleName+".java")
	if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, src) {
		return path, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return "", false, err
	}
	if err := os.WriteFile(path, src, 0o666); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// keyLines renders the key as signed Java byte literals, sixteen per line.
func keyLines(key []byte) []string {
	var lines []string
	for len(key) > 0 {
		n := min(16, len(key))
		var sb strings.Builder
		for i, b := range key[:n] {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.Itoa(int(int8(b))))
			sb.WriteByte(',')
		}
		lines = append(lines, sb.String())
		key = key[n:]
	}
	return lines
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
