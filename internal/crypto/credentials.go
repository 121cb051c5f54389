// Package crypto implements the symmetric cipher used for provider
// credential columns. Values are stored as "<hex-iv>:<hex-ciphertext>"
// (AES-256-CBC, 16-byte IV, PKCS#7 padding).
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const ivSize = aes.BlockSize

// CredentialError reports a structural problem with an encrypted credential
// or the configured key. It never carries key material or plaintext.
type CredentialError struct {
	Op     string
	Reason string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s: %s", e.Op, e.Reason)
}

type Cipher struct {
	key []byte
}

// NewCipher builds a Cipher from a 256-bit key. Callers load the key once at
// process start; a wrong-sized key is a startup failure, not a per-call one.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, &CredentialError{
			Op:     "init",
			Reason: fmt.Sprintf("key must be 32 bytes, got %d", len(key)),
		}
	}
	return &Cipher{key: key}, nil
}

// Encrypt returns "<hex-iv>:<hex-ciphertext>" for the given plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", &CredentialError{Op: "encrypt", Reason: err.Error()}
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", &CredentialError{Op: "encrypt", Reason: "failed to generate iv"}
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. It fails with a CredentialError when the input
// does not have at least two colon-delimited segments, the IV is not 16
// bytes, or the ciphertext is malformed. Diagnostics are structural only.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) < 2 {
		return "", &CredentialError{Op: "decrypt", Reason: "expected iv:ciphertext format"}
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", &CredentialError{Op: "decrypt", Reason: "iv is not valid hex"}
	}
	if len(iv) != ivSize {
		return "", &CredentialError{
			Op:     "decrypt",
			Reason: fmt.Sprintf("iv must be %d bytes, got %d", ivSize, len(iv)),
		}
	}

	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", &CredentialError{Op: "decrypt", Reason: "ciphertext is not valid hex"}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &CredentialError{
			Op:     "decrypt",
			Reason: fmt.Sprintf("ciphertext length must be a positive multiple of %d, got %d", aes.BlockSize, len(ciphertext)),
		}
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", &CredentialError{Op: "decrypt", Reason: err.Error()}
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", &CredentialError{Op: "decrypt", Reason: "invalid padding"}
	}

	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("invalid padding byte")
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}

	return data[:len(data)-padding], nil
}
