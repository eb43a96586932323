// Package keygen produces the per-build key that every string in a
// compilation unit is encrypted with.
package keygen

import (
	"crypto/hkdf"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/mod/sumdb/dirhash"
)

// ErrUnknownGenerator is returned by Parse for an unknown generator name.
var ErrUnknownGenerator = errors.New("unknown key generator")

const keyInfo = "stringfog/key:v1"

// Generator produces keys of a requested size.
type Generator interface {
	Name() string
	Generate(size int) ([]byte, error)
	// Deterministic reports whether Generate returns the same key for the
	// same inputs, which makes transformed classes cacheable.
	Deterministic() bool
}

// Options carries what the deterministic generators derive keys from.
type Options struct {
	// Unit is the compilation unit identifier, used as HKDF salt.
	Unit string
	// Inputs are the class directories and jars the content generator
	// fingerprints.
	Inputs []string
}

// Parse resolves a generator specification:
//
//	random           crypto/rand bytes (the default)
//	hardcode:<hex>   a fixed key
//	seeded:<secret>  HKDF-SHA256 of secret, salted with the unit
//	content          HKDF-SHA256 of the dirhash of every input
func Parse(spec string, opts Options) (Generator, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(spec), ":")
	switch strings.ToLower(name) {
	case "", "random":
		return randomGen{}, nil
	case "hardcode", "hardcoded", "fixed":
		key, err := hex.DecodeString(arg)
		if err != nil || len(key) == 0 {
			return nil, fmt.Errorf("hardcode key generator wants a hex key, got %q", arg)
		}
		return fixedGen(key), nil
	case "seeded", "seed":
		if arg == "" {
			return nil, errors.New("seeded key generator wants a secret, as in seeded:<secret>")
		}
		return &derivedGen{name: "seeded", unit: opts.Unit, secret: func() ([]byte, error) { return []byte(arg), nil }}, nil
	case "content":
		if len(opts.Inputs) == 0 {
			return nil, errors.New("content key generator needs at least one input")
		}
		inputs := append([]string(nil), opts.Inputs...)
		return &derivedGen{name: "content", unit: opts.Unit, secret: func() ([]byte, error) { return fingerprint(inputs) }}, nil
	}
	return nil, fmt.Errorf("%w %q (want random, hardcode:<hex>, seeded:<secret> or content)", ErrUnknownGenerator, spec)
}

type randomGen struct{}

func (randomGen) Name() string        { return "random" }
func (randomGen) Deterministic() bool { return false }

func (randomGen) Generate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid key size %d", size)
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("reading random key: %w", err)
	}
	return key, nil
}

type fixedGen []byte

func (fixedGen) Name() string        { return "hardcode" }
func (fixedGen) Deterministic() bool { return true }

func (g fixedGen) Generate(size int) ([]byte, error) {
	if len(g) != size {
		return nil, fmt.Errorf("hardcoded key is %d bytes, cipher wants %d", len(g), size)
	}
	return append([]byte(nil), g...), nil
}

type derivedGen struct {
	name   string
	unit   string
	secret func() ([]byte, error)
}

func (g *derivedGen) Name() string        { return g.name }
func (g *derivedGen) Deterministic() bool { return true }

func (g *derivedGen) Generate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid key size %d", size)
	}
	secret, err := g.secret()
	if err != nil {
		return nil, err
	}
	key, err := hkdf.Key(sha256.New, secret, []byte(g.unit), keyInfo, size)
	if err != nil {
		return nil, fmt.Errorf("%s key derivation failed: %w", g.name, err)
	}
	return key, nil
}

// fingerprint hashes every input with dirhash.Hash1, directories through
// HashDir and jars through HashZip.
func fingerprint(inputs []string) ([]byte, error) {
	var sb strings.Builder
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return nil, err
		}
		var h string
		if info.IsDir() {
			h, err = dirhash.HashDir(in, "", dirhash.Hash1)
		} else {
			h, err = dirhash.HashZip(in, dirhash.Hash1)
		}
		if err != nil {
			return nil, fmt.Errorf("fingerprinting %s: %w", in, err)
		}
		sb.WriteString(h)
		sb.WriteByte('\n')
	}
	return []byte(sb.String()), nil
}
