// Package transform rewrites the string constants of compiled classes into
// encrypted literals decoded at run time by the generated helper.
package transform

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/AeonDave/stringfog/internal/classfile"
	"github.com/AeonDave/stringfog/internal/helper"
	"github.com/AeonDave/stringfog/internal/literals"
)

var (
	// ErrEncoding marks a string constant that was left in plain text
	// because its encrypted form cannot be represented. It only ever
	// appears in Result.Warnings.
	ErrEncoding = errors.New("string constant not encodable")

	// ErrHelperResolution is returned by New when the decrypt helper that
	// call sites must target is not fully known.
	ErrHelperResolution = errors.New("decrypt helper unresolved")
)

// ignoreAnnotation marks classes that must be left alone. Any annotation
// type with this simple name matches.
const ignoreAnnotation = "StringFogIgnore;"

// generated lists the simple names of build generated classes which are
// never rewritten.
var generated = map[string]bool{
	"BuildConfig":     true,
	"R":               true,
	"R2":              true,
	helper.SimpleName: true,
}

// Config is the per-build configuration of a Transformer.
type Config struct {
	Helper helper.Descriptor

	// Enabled turns the whole pass on.
	Enabled bool

	// Packages restricts rewriting to classes in these packages and their
	// subpackages. Empty means every package.
	Packages []string

	// Ignore lists packages that are never rewritten, even when Packages
	// matches them.
	Ignore []string

	// HoistConstants moves static final String constants out of
	// ConstantValue attributes and into the static initializer, where
	// they are decrypted like any other literal.
	HoistConstants bool

	// KeepPool disables blanking of rewritten strings in the constant pool.
	KeepPool bool

	Debug bool
}

// Record is one rewritten string.
type Record struct {
	Class   string
	Plain   string
	Encoded string
}

// Result is the outcome of transforming one class.
type Result struct {
	// Class is the output class; the input itself when Changed is false.
	Class   []byte
	Changed bool
	Records []Record

	// Warnings lists the literals and methods that were left as they
	// were, each wrapping ErrEncoding or a classfile error.
	Warnings []error
}

// Transformer rewrites classes. It is immutable and safe for concurrent
// use.
type Transformer struct {
	cfg       Config
	owner     string
	desc      string
	className string
	packages  []string
	ignore    []string
}

// New validates cfg and returns a Transformer for it.
func New(cfg Config) (*Transformer, error) {
	if err := cfg.Helper.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHelperResolution, err)
	}
	switch cfg.Helper.Mode {
	case literals.ModeBase64, literals.ModeBytes:
	default:
		return nil, fmt.Errorf("%w: mode %d", ErrHelperResolution, cfg.Helper.Mode)
	}
	return &Transformer{
		cfg:       cfg,
		owner:     cfg.Helper.InternalName(),
		desc:      cfg.Helper.MethodDescriptor(),
		className: cfg.Helper.ClassName(),
		packages:  cleanPackages(cfg.Packages),
		ignore:    cleanPackages(cfg.Ignore),
	}, nil
}

func cleanPackages(list []string) []string {
	var out []string
	for _, p := range list {
		p = strings.TrimSpace(strings.ReplaceAll(p, "/", "."))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (t *Transformer) debugf(format string, args ...any) {
	if t.cfg.Debug {
		log.Printf(format, args...)
	}
}

// ClassName normalizes a class name given as a dotted name, an internal
// name or a class file path to the dotted form.
func ClassName(name string) string {
	name = strings.TrimSuffix(name, ".class")
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.ReplaceAll(name, "/", ".")
}

// Eligible reports whether the named class may be rewritten: obfuscation
// is enabled, the class is inside the package allowlist and outside the
// ignore list, and it is neither the decrypt helper nor another generated
// class.
func (t *Transformer) Eligible(className string) bool {
	if !t.cfg.Enabled {
		return false
	}
	name := ClassName(className)
	if name == "" || name == t.className {
		return false
	}
	simple := name[strings.LastIndexByte(name, '.')+1:]
	if generated[simple] || strings.HasPrefix(simple, "R$") || strings.HasPrefix(simple, "R2$") {
		return false
	}
	for _, p := range t.ignore {
		if inPackage(name, p) {
			return false
		}
	}
	if len(t.packages) == 0 {
		return true
	}
	for _, p := range t.packages {
		if inPackage(name, p) {
			return true
		}
	}
	return false
}

func inPackage(name, pkg string) bool {
	if strings.HasSuffix(pkg, ".") {
		return strings.HasPrefix(name, pkg)
	}
	return strings.HasPrefix(name, pkg+".")
}

// Transform rewrites the string constants of one class. className may be
// empty, in which case the name recorded in the class is used.
//
// Malformed input fails with an error wrapping classfile.ErrMalformed and
// no output. Literals and methods that cannot be rewritten are reported in
// Result.Warnings and left as they were.
func (t *Transformer) Transform(class []byte, className string) (Result, error) {
	unchanged := Result{Class: class}
	if className != "" && !t.Eligible(className) {
		t.debugf("ignore %s", ClassName(className))
		return unchanged, nil
	}
	cf, err := classfile.Parse(class)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", ClassName(className), err)
	}
	internal, err := cf.ClassName()
	if err != nil {
		return Result{}, err
	}
	name := ClassName(internal)
	if className == "" && !t.Eligible(name) {
		t.debugf("ignore %s", name)
		return unchanged, nil
	}
	if name == t.className {
		return unchanged, nil
	}
	types, err := cf.AnnotationTypes(cf.Attributes)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", name, err)
	}
	for _, typ := range types {
		if typ == "L"+ignoreAnnotation || strings.HasSuffix(typ, "/"+ignoreAnnotation) {
			t.debugf("ignore %s: annotated %s", name, typ)
			return unchanged, nil
		}
	}
	if cf.Pool.HasMemberRef(classfile.TagMethodref, t.owner, helper.MethodName, t.desc) {
		t.debugf("ignore %s: already calls %s", name, t.className)
		return unchanged, nil
	}

	c := &classRewrite{t: t, cf: cf, name: name, internal: internal}
	if err := c.methods(); err != nil {
		return Result{}, fmt.Errorf("%s: %w", name, err)
	}
	if t.cfg.HoistConstants {
		if err := c.hoist(); err != nil {
			return Result{}, fmt.Errorf("%s: %w", name, err)
		}
	}
	if len(c.records) == 0 {
		return Result{Class: class, Warnings: c.warnings}, nil
	}
	if !t.cfg.KeepPool {
		n, err := cf.ScrubStrings(c.rewritten)
		switch {
		case errors.Is(err, classfile.ErrUnsupportedAttribute):
			t.debugf("%s: constant pool left intact: %v", name, err)
		case err != nil:
			return Result{}, fmt.Errorf("%s: %w", name, err)
		default:
			t.debugf("%s: blanked %d pool strings", name, n)
		}
	}
	out, err := cf.Encode()
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", name, err)
	}
	t.debugf("%s: rewrote %d strings", name, len(c.records))
	return Result{Class: out, Changed: true, Records: c.records, Warnings: c.warnings}, nil
}
