package cipher

import "errors"

// xorCipher XORs data with the key repeated. It hides strings from a casual
// look at the binary and nothing more.
type xorCipher struct{}

func (xorCipher) Name() string { return "xor" }
func (xorCipher) KeySize() int { return 8 }

func (xorCipher) CheckKey(key []byte) error {
	if len(key) == 0 {
		return errors.New("xor: empty key")
	}
	return nil
}

func (c xorCipher) Encrypt(plain, key []byte) ([]byte, error) {
	if err := c.CheckKey(key); err != nil {
		return nil, err
	}
	out := make([]byte, len(plain))
	for i, b := range plain {
		out[i] = b ^ key[i%len(key)]
	}
	return out, nil
}

func (c xorCipher) Decrypt(ciphertext, key []byte) ([]byte, error) {
	return c.Encrypt(ciphertext, key)
}

func (xorCipher) Java() Java {
	return Java{Body: `byte[] out = new byte[data.length];
for (int i = 0; i < data.length; i++) {
    out[i] = (byte) (data[i] ^ KEY[i % KEY.length]);
}
return out;`}
}
