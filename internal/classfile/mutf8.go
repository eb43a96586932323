package classfile

import (
	"errors"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrUnpairedSurrogate is returned when a Java string holds a UTF-16
// surrogate without its pair, which has no UTF-8 representation.
var ErrUnpairedSurrogate = errors.New("unpaired UTF-16 surrogate")

// decodeModifiedUTF8 decodes the JVM's modified UTF-8 into UTF-16 code units.
func decodeModifiedUTF8(b []byte) ([]uint16, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c != 0 && c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return nil, fmt.Errorf("%w: bad modified UTF-8 at byte %d", ErrMalformed, i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return nil, fmt.Errorf("%w: bad modified UTF-8 at byte %d", ErrMalformed, i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return nil, fmt.Errorf("%w: bad modified UTF-8 at byte %d", ErrMalformed, i)
		}
	}
	return units, nil
}

// utf16ToString converts UTF-16 code units to UTF-8. The boolean is false
// when an unpaired surrogate had to be replaced by U+FFFD.
func utf16ToString(units []uint16) (string, bool) {
	ok := true
	buf := make([]byte, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		switch {
		case utf16.IsSurrogate(u) && u < 0xDC00 && i+1 < len(units):
			if r := utf16.DecodeRune(u, rune(units[i+1])); r != utf8.RuneError {
				buf = utf8.AppendRune(buf, r)
				i++
				continue
			}
			ok = false
			buf = utf8.AppendRune(buf, utf8.RuneError)
		case utf16.IsSurrogate(u):
			ok = false
			buf = utf8.AppendRune(buf, utf8.RuneError)
		default:
			buf = utf8.AppendRune(buf, u)
		}
	}
	return string(buf), ok
}

// EncodeModifiedUTF8 encodes s the way the JVM stores CONSTANT_Utf8 entries:
// NUL takes two bytes and supplementary characters become surrogate pairs.
func EncodeModifiedUTF8(s string) []byte {
	buf := make([]byte, 0, len(s))
	put := func(u rune) {
		switch {
		case u != 0 && u < 0x80:
			buf = append(buf, byte(u))
		case u < 0x800:
			buf = append(buf, 0xC0|byte(u>>6), 0x80|byte(u&0x3F))
		default:
			buf = append(buf, 0xE0|byte(u>>12), 0x80|byte(u>>6&0x3F), 0x80|byte(u&0x3F))
		}
	}
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			put(hi)
			put(lo)
			continue
		}
		put(r)
	}
	return buf
}

// JavaChars returns the UTF-16 code units of s, the char sequence a
// java.lang.String holding s would contain.
func JavaChars(s string) []uint16 {
	return utf16.Encode([]rune(s))
}
