package literals

import (
	"bytes"
	"testing"

	"github.com/go-quicktest/qt"
)

func TestEncodeDecode(t *testing.T) {
	for _, n := range []int{0, 1, 16, 257} {
		ct := make([]byte, n)
		for i := range ct {
			ct[i] = byte(i * 31)
		}
		for _, mode := range []Mode{ModeBase64, ModeBytes} {
			lit := Encode(ct, mode)
			qt.Assert(t, qt.Equals(lit.Mode, mode))
			got, err := Decode(lit, mode)
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.IsTrue(bytes.Equal(got, ct)), qt.Commentf("mode %s, %d bytes", mode, n))
		}
	}
}

func TestBase64Form(t *testing.T) {
	lit := Encode([]byte("hello world, this is long enough to wrap if anyone wrapped base64 text at 76 columns"), ModeBase64)
	qt.Assert(t, qt.Not(qt.StringContains(lit.Text, "\n")))
	qt.Assert(t, qt.Equals(Encode([]byte{0xff}, ModeBase64).Text, "/w=="))
	qt.Assert(t, qt.Equals(Encode(nil, ModeBase64).String(), ""))
}

func TestModeMismatch(t *testing.T) {
	_, err := Decode(Encode([]byte{1}, ModeBytes), ModeBase64)
	qt.Assert(t, qt.ErrorIs(err, ErrModeMismatch))

	_, err = Decode(Literal{Mode: ModeBase64, Text: "not base64!"}, ModeBase64)
	qt.Assert(t, qt.IsNotNil(err))
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"base64":       ModeBase64,
		"encoded-text": ModeBase64,
		"":             ModeBase64,
		"bytes":        ModeBytes,
		"RAW-BYTES":    ModeBytes,
	} {
		got, err := ParseMode(in)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.Equals(got, want))
	}
	_, err := ParseMode("hex")
	qt.Assert(t, qt.IsNotNil(err))
	qt.Assert(t, qt.Equals(ModeBytes.String(), "bytes"))
}

func TestSignedList(t *testing.T) {
	b := []byte{1, 0x80, 0xff, 0x7f, 0}
	qt.Assert(t, qt.Equals(Encode(b, ModeBytes).String(), "[1, -128, -1, 127, 0]"))

	got, err := ParseSignedList("[1, -128, -1, 127, 0]")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(got, b))

	got, err = ParseSignedList("[]")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(got, 0))

	_, err = ParseSignedList("[1, 300]")
	qt.Assert(t, qt.IsNotNil(err))
}
