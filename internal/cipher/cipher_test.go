package cipher

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-quicktest/qt"
)

func testKey(c Cipher) []byte {
	key := make([]byte, c.KeySize())
	for i := range key {
		key[i] = byte(i*7 + 3)
	}
	return key
}

var plaintexts = []string{
	"",
	"a",
	"hello world",
	"héllo 世界 😀",
	string(bytes.Repeat([]byte("0123456789abcdef"), 64)),
}

func TestRoundTrip(t *testing.T) {
	for _, name := range Names() {
		c, err := Lookup(name)
		qt.Assert(t, qt.IsNil(err))
		key := testKey(c)
		t.Run(name, func(t *testing.T) {
			for _, p := range plaintexts {
				ct, err := c.Encrypt([]byte(p), key)
				qt.Assert(t, qt.IsNil(err))
				if len(p) >= 4 && bytes.Contains(ct, []byte(p)) {
					t.Fatalf("ciphertext of %q contains the plaintext", p)
				}

				again, err := c.Encrypt([]byte(p), key)
				qt.Assert(t, qt.IsNil(err))
				qt.Assert(t, qt.DeepEquals(again, ct), qt.Commentf("encryption must be deterministic"))

				got, err := c.Decrypt(ct, key)
				qt.Assert(t, qt.IsNil(err))
				qt.Assert(t, qt.Equals(string(got), p))
			}
		})
	}
}

func TestXorKnownAnswer(t *testing.T) {
	ct, err := xorCipher{}.Encrypt([]byte("abc"), []byte{1, 2})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(ct, []byte{0x60, 0x60, 0x62}))
}

func TestIVDependsOnPlaintext(t *testing.T) {
	for _, c := range []Cipher{aesCBC{}, chacha{}} {
		key := testKey(c)
		a, err := c.Encrypt([]byte("alpha"), key)
		qt.Assert(t, qt.IsNil(err))
		b, err := c.Encrypt([]byte("bravo"), key)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.IsFalse(bytes.Equal(a[:12], b[:12])), qt.Commentf("%s reused its IV", c.Name()))
	}
}

func TestBadInput(t *testing.T) {
	_, err := xorCipher{}.Encrypt([]byte("x"), nil)
	qt.Assert(t, qt.IsNotNil(err))

	_, err = aesCBC{}.Encrypt([]byte("x"), make([]byte, 15))
	qt.Assert(t, qt.IsNotNil(err))
	_, err = aesCBC{}.Decrypt(make([]byte, 20), make([]byte, 16))
	qt.Assert(t, qt.IsNotNil(err))

	_, err = chacha{}.Encrypt([]byte("x"), make([]byte, 16))
	qt.Assert(t, qt.IsNotNil(err))
	_, err = chacha{}.Decrypt(make([]byte, 5), make([]byte, 32))
	qt.Assert(t, qt.IsNotNil(err))
}

func TestPKCS7(t *testing.T) {
	for n := range 40 {
		data := bytes.Repeat([]byte{0xAB}, n)
		padded := pkcs7Pad(data, 16)
		qt.Assert(t, qt.Equals(len(padded)%16, 0))
		qt.Assert(t, qt.IsTrue(len(padded) > n))
		got, err := pkcs7Unpad(padded, 16)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.DeepEquals(got, data))
	}
	bad := bytes.Repeat([]byte{3}, 16)
	bad[14] = 2
	_, err := pkcs7Unpad(bad, 16)
	qt.Assert(t, qt.IsNotNil(err))
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name, want string
	}{
		{"xor", "xor"},
		{"XOR", "xor"},
		{"com.github.megatronking.stringfog.xor.StringFogImpl", "xor"},
		{"aes", "aes-cbc"},
		{" aes-cbc ", "aes-cbc"},
		{"chacha20", "chacha20"},
	}
	for _, test := range tests {
		c, err := Lookup(test.name)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.Equals(c.Name(), test.want))
	}

	_, err := Lookup("rot13")
	qt.Assert(t, qt.IsTrue(errors.Is(err, ErrUnknownCipher)))
	qt.Assert(t, qt.ErrorMatches(err, `unknown cipher "rot13" \(available: aes-cbc, chacha20, xor\)`))
}

func TestJavaBodies(t *testing.T) {
	for _, name := range Names() {
		c, _ := Lookup(name)
		j := c.Java()
		qt.Assert(t, qt.StringContains(j.Body, "return"), qt.Commentf("%s", name))
		qt.Assert(t, qt.StringContains(j.Body, "KEY"), qt.Commentf("%s", name))
	}
}

// FuzzRoundTrip checks the decrypt(encrypt(p)) == p law for arbitrary
// plaintexts and every cipher.
func FuzzRoundTrip(f *testing.F) {
	for _, p := range plaintexts {
		f.Add([]byte(p), byte(1))
	}
	f.Fuzz(func(t *testing.T, plain []byte, seed byte) {
		for _, name := range Names() {
			c, _ := Lookup(name)
			key := bytes.Repeat([]byte{seed}, c.KeySize())
			ct, err := c.Encrypt(plain, key)
			if err != nil {
				t.Fatalf("%s: encrypt: %v", name, err)
			}
			got, err := c.Decrypt(ct, key)
			if err != nil {
				t.Fatalf("%s: decrypt: %v", name, err)
			}
			if !bytes.Equal(got, plain) {
				t.Fatalf("%s: round trip mismatch: got %x want %x", name, got, plain)
			}
		}
	})
}
