// Package cipher holds the closed set of string ciphers. Every cipher has a
// Go implementation used at build time and a Java decrypt body that the
// generated helper runs on device.
package cipher

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownCipher is returned by Lookup for names outside the closed set.
var ErrUnknownCipher = errors.New("unknown cipher")

// Cipher encrypts string bytes at build time. Encrypt must be deterministic
// and Decrypt(Encrypt(p, k), k) must return p for every p, empty included.
type Cipher interface {
	Name() string
	// KeySize is the key length generated for this cipher.
	KeySize() int
	CheckKey(key []byte) error
	Encrypt(plain, key []byte) ([]byte, error)
	Decrypt(ciphertext, key []byte) ([]byte, error)
	// Java returns the body of the helper's decryptBytes(byte[] data),
	// which may refer to the KEY constant.
	Java() Java
}

// Java is cipher specific code spliced into the generated helper.
type Java struct {
	Imports []string
	Body    string
}

var (
	ciphers = make(map[string]Cipher)
	aliases = make(map[string]string)
)

func register(c Cipher, alias ...string) {
	if _, exists := ciphers[c.Name()]; exists {
		panic(fmt.Sprintf("duplicate cipher: %s", c.Name()))
	}
	ciphers[c.Name()] = c
	for _, a := range alias {
		aliases[strings.ToLower(a)] = c.Name()
	}
}

func init() {
	register(xorCipher{}, "com.github.megatronking.stringfog.xor.StringFogImpl")
	register(aesCBC{}, "aes", "aes-cbc-pkcs7")
	register(chacha{}, "chacha", "chacha20-ietf")
}

// Lookup returns the cipher called name. Matching ignores case and accepts
// a few historical aliases.
func Lookup(name string) (Cipher, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if c, ok := ciphers[n]; ok {
		return c, nil
	}
	if canon, ok := aliases[n]; ok {
		return ciphers[canon], nil
	}
	return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownCipher, name, strings.Join(Names(), ", "))
}

// Names lists the canonical cipher names, sorted.
func Names() []string {
	names := make([]string, 0, len(ciphers))
	for n := range ciphers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// syntheticIV derives an IV or nonce from the key and the plaintext.
func syntheticIV(key, plain []byte, size int) []byte {
	h := sha256.New()
	h.Write(key)
	h.Write(plain)
	return h.Sum(nil)[:size]
}
