// Package literals turns ciphertext into a constant that can be embedded in
// a class file, and back.
package literals

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how ciphertext is represented in the rewritten class.
type Mode int

const (
	// ModeBase64 embeds ciphertext as a standard, padded base64 string
	// constant loaded with ldc_w.
	ModeBase64 Mode = iota
	// ModeBytes builds the ciphertext as a byte[] in the method body.
	ModeBytes
)

// ErrModeMismatch is returned when a literal is decoded with a mode other
// than the one it was encoded with.
var ErrModeMismatch = errors.New("literal mode mismatch")

// ParseMode accepts "base64" or "encoded-text" and "bytes" or "raw-bytes".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base64", "encoded-text", "":
		return ModeBase64, nil
	case "bytes", "raw-bytes":
		return ModeBytes, nil
	}
	return 0, fmt.Errorf("unknown mode %q (want base64 or bytes)", s)
}

func (m Mode) String() string {
	switch m {
	case ModeBase64:
		return "base64"
	case ModeBytes:
		return "bytes"
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

// Literal is encoded ciphertext. Text is set in base64 mode, Bytes in bytes
// mode.
type Literal struct {
	Mode  Mode
	Text  string
	Bytes []byte
}

// Encode represents ciphertext in the given mode.
func Encode(ciphertext []byte, mode Mode) Literal {
	if mode == ModeBytes {
		return Literal{Mode: ModeBytes, Bytes: append([]byte{}, ciphertext...)}
	}
	return Literal{Mode: ModeBase64, Text: base64.StdEncoding.EncodeToString(ciphertext)}
}

// Decode is the inverse of Encode.
func Decode(lit Literal, mode Mode) ([]byte, error) {
	if lit.Mode != mode {
		return nil, fmt.Errorf("%w: literal is %s, want %s", ErrModeMismatch, lit.Mode, mode)
	}
	switch mode {
	case ModeBase64:
		b, err := base64.StdEncoding.DecodeString(lit.Text)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 literal: %w", err)
		}
		return b, nil
	case ModeBytes:
		return append([]byte{}, lit.Bytes...), nil
	}
	return nil, fmt.Errorf("unknown mode %d", mode)
}

// String renders the literal the way the mapping file shows it: the base64
// text, or the bytes as a signed Java array such as [1, -2].
func (l Literal) String() string {
	if l.Mode == ModeBytes {
		return "[" + SignedList(l.Bytes) + "]"
	}
	return l.Text
}

// SignedList formats b as comma separated Java byte values.
func SignedList(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(int(int8(v))))
	}
	return sb.String()
}

// ParseSignedList is the inverse of SignedList; surrounding brackets are
// optional.
func ParseSignedList(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return []byte{}, nil
	}
	var out []byte
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("bad byte value %q: %w", f, err)
		}
		out = append(out, byte(v))
	}
	return out, nil
}
