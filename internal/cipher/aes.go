package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"errors"
	"fmt"
)

// aesCBC is AES in CBC mode with PKCS#7 padding. The 16 byte IV is derived
// from key and plaintext and travels in front of the ciphertext.
type aesCBC struct{}

func (aesCBC) Name() string { return "aes-cbc" }
func (aesCBC) KeySize() int { return 16 }

func (aesCBC) CheckKey(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	}
	return fmt.Errorf("aes-cbc: invalid key length %d", len(key))
}

func (c aesCBC) Encrypt(plain, key []byte) ([]byte, error) {
	if err := c.CheckKey(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes-cbc: %w", err)
	}
	iv := syntheticIV(key, plain, aes.BlockSize)
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	stdcipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func (c aesCBC) Decrypt(ciphertext, key []byte) ([]byte, error) {
	if err := c.CheckKey(key); err != nil {
		return nil, err
	}
	if len(ciphertext) < 2*aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("aes-cbc: bad ciphertext length %d", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes-cbc: %w", err)
	}
	iv, body := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
	plain := make([]byte, len(body))
	stdcipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	return pkcs7Unpad(plain, aes.BlockSize)
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, errors.New("aes-cbc: bad padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, errors.New("aes-cbc: bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("aes-cbc: bad padding")
		}
	}
	return data[:len(data)-n], nil
}

func (aesCBC) Java() Java {
	return Java{
		Imports: []string{
			"java.security.GeneralSecurityException",
			"javax.crypto.Cipher",
			"javax.crypto.spec.IvParameterSpec",
			"javax.crypto.spec.SecretKeySpec",
		},
		Body: `try {
    Cipher cipher = Cipher.getInstance("AES/CBC/PKCS5Padding");
    cipher.init(Cipher.DECRYPT_MODE, new SecretKeySpec(KEY, "AES"), new IvParameterSpec(data, 0, 16));
    return cipher.doFinal(data, 16, data.length - 16);
} catch (GeneralSecurityException e) {
    throw new IllegalStateException(e);
}`,
	}
}
