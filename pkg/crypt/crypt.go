// Package crypt hides credential blobs inside saved-workflow files using
// AES-CFB with a process-wide salt as the IV. Identical plaintexts
// produce identical ciphertexts; the only cleartext handled here is a
// credential object used at submit time, so the fixed IV is accepted.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// SaltLength is the cipher block size the salt is adjusted to
	SaltLength = aes.BlockSize

	saltPad     = "-"
	passcodePad = "."
)

// KeySizes are the AES key lengths accepted by the cipher, ascending
var KeySizes = []int{16, 24, 32}

var (
	// ErrEncrypt is returned when plaintext cannot be encrypted
	ErrEncrypt = errors.New("encryption error")
	// ErrDecrypt is returned when ciphertext cannot be decrypted
	ErrDecrypt = errors.New("decryption error")
)

// Crypt performs symmetric encryption with a fixed, adjusted salt
type Crypt struct {
	salt []byte
}

// New creates a Crypt instance; the salt is adjusted to SaltLength
func New(salt string) (*Crypt, error) {
	adjusted, err := AdjustSalt(salt)
	if err != nil {
		return nil, err
	}
	return &Crypt{salt: []byte(adjusted)}, nil
}

// AdjustSalt returns a salt of exactly SaltLength bytes, truncating or
// right-padding with '-'. Only valid text strings are accepted.
func AdjustSalt(salt string) (string, error) {
	if !utf8.ValidString(salt) {
		return "", fmt.Errorf("salt is not a valid text string")
	}

	if len(salt) > SaltLength {
		return salt[:SaltLength], nil
	}
	if len(salt) < SaltLength {
		return salt + strings.Repeat(saltPad, SaltLength-len(salt)), nil
	}
	return salt, nil
}

// AdjustPasscode returns a passcode whose length is one of KeySizes,
// padding with '.' up to the next accepted size or truncating to the
// maximum. Only valid text strings are accepted.
func AdjustPasscode(passcode string) (string, error) {
	if !utf8.ValidString(passcode) {
		return "", fmt.Errorf("passcode is not a valid text string")
	}

	maxSize := KeySizes[len(KeySizes)-1]
	if len(passcode) > maxSize {
		return passcode[:maxSize], nil
	}

	for _, size := range KeySizes {
		if len(passcode) == size {
			return passcode, nil
		}
		if len(passcode) < size {
			return passcode + strings.Repeat(passcodePad, size-len(passcode)), nil
		}
	}

	return passcode, nil
}

// Encrypt encrypts plaintext with the passcode and returns base64 text
func (c *Crypt) Encrypt(plaintext, passcode string) (string, error) {
	adjusted, err := AdjustPasscode(passcode)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	block, err := aes.NewCipher([]byte(adjusted))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	src := []byte(plaintext)
	dst := make([]byte, len(src))
	cipher.NewCFBEncrypter(block, c.salt).XORKeyStream(dst, src)

	return base64.StdEncoding.EncodeToString(dst), nil
}

// Decrypt is the inverse of Encrypt; malformed input yields ErrDecrypt
func (c *Crypt) Decrypt(ciphertext, passcode string) (string, error) {
	adjusted, err := AdjustPasscode(passcode)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	block, err := aes.NewCipher([]byte(adjusted))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	dst := make([]byte, len(raw))
	cipher.NewCFBDecrypter(block, c.salt).XORKeyStream(dst, raw)

	if !utf8.Valid(dst) {
		return "", fmt.Errorf("%w: plaintext is not valid text", ErrDecrypt)
	}

	return string(dst), nil
}
