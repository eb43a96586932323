package cipher

import (
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// chacha is the ChaCha20 stream cipher (RFC 8439 layout, block counter
// starting at 1) with a derived 12 byte nonce in front of the ciphertext.
type chacha struct{}

func (chacha) Name() string { return "chacha20" }
func (chacha) KeySize() int { return chacha20.KeySize }

func (chacha) CheckKey(key []byte) error {
	if len(key) != chacha20.KeySize {
		return fmt.Errorf("chacha20: invalid key length %d", len(key))
	}
	return nil
}

func (c chacha) xor(dst, src, key, nonce []byte) error {
	s, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return fmt.Errorf("chacha20: %w", err)
	}
	s.SetCounter(1)
	s.XORKeyStream(dst, src)
	return nil
}

func (c chacha) Encrypt(plain, key []byte) ([]byte, error) {
	if err := c.CheckKey(key); err != nil {
		return nil, err
	}
	nonce := syntheticIV(key, plain, chacha20.NonceSize)
	out := make([]byte, chacha20.NonceSize+len(plain))
	copy(out, nonce)
	if err := c.xor(out[chacha20.NonceSize:], plain, key, nonce); err != nil {
		return nil, err
	}
	return out, nil
}

func (c chacha) Decrypt(ciphertext, key []byte) ([]byte, error) {
	if err := c.CheckKey(key); err != nil {
		return nil, err
	}
	if len(ciphertext) < chacha20.NonceSize {
		return nil, fmt.Errorf("chacha20: ciphertext too short (%d bytes)", len(ciphertext))
	}
	nonce, body := ciphertext[:chacha20.NonceSize], ciphertext[chacha20.NonceSize:]
	plain := make([]byte, len(body))
	if err := c.xor(plain, body, key, nonce); err != nil {
		return nil, err
	}
	return plain, nil
}

// Java decrypts through the JCA ChaCha20 cipher of Java 11. Android has no
// ChaCha20ParameterSpec, so the helper only runs on a desktop or server JVM.
func (chacha) Java() Java {
	return Java{
		Imports: []string{
			"java.security.GeneralSecurityException",
			"java.util.Arrays",
			"javax.crypto.Cipher",
			"javax.crypto.spec.ChaCha20ParameterSpec",
			"javax.crypto.spec.SecretKeySpec",
		},
		Body: `try {
    Cipher cipher = Cipher.getInstance("ChaCha20");
    cipher.init(Cipher.DECRYPT_MODE, new SecretKeySpec(KEY, "ChaCha20"),
            new ChaCha20ParameterSpec(Arrays.copyOf(data, 12), 1));
    return cipher.doFinal(data, 12, data.length - 12);
} catch (GeneralSecurityException e) {
    throw new IllegalStateException(e);
}`,
	}
}
