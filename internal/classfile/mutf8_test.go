package classfile

import (
	"testing"

	"github.com/go-quicktest/qt"
)

func TestModifiedUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []byte
	}{
		{"ascii", "hello", []byte("hello")},
		{"nul", "a\x00b", []byte{'a', 0xC0, 0x80, 'b'}},
		{"two byte", "é", []byte{0xC3, 0xA9}},
		{"three byte", "€", []byte{0xE2, 0x82, 0xAC}},
		{"supplementary", "😀", []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := EncodeModifiedUTF8(test.in)
			qt.Assert(t, qt.DeepEquals(got, test.want))

			units, err := decodeModifiedUTF8(got)
			qt.Assert(t, qt.IsNil(err))
			s, ok := utf16ToString(units)
			qt.Assert(t, qt.IsTrue(ok))
			qt.Assert(t, qt.Equals(s, test.in))
		})
	}
}

func TestUnpairedSurrogate(t *testing.T) {
	p := NewPool()
	// A lone high surrogate, as javac emits for "\uD800".
	idx, err := p.add(Constant{Tag: TagUtf8, Bytes: []byte{'x', 0xED, 0xA0, 0x80}})
	qt.Assert(t, qt.IsNil(err))

	_, err = p.Text(idx)
	qt.Assert(t, qt.ErrorIs(err, ErrUnpairedSurrogate))

	s, err := p.Utf8(idx)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(s, "x�"))
}

func TestBadModifiedUTF8(t *testing.T) {
	for _, b := range [][]byte{
		{0x00},
		{0xC3},
		{0xE2, 0x82},
		{0xF0, 0x9F, 0x98, 0x80}, // standard 4-byte UTF-8 is not allowed
	} {
		_, err := decodeModifiedUTF8(b)
		qt.Check(t, qt.ErrorIs(err, ErrMalformed), qt.Commentf("input % x", b))
	}
}
