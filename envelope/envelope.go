// Package envelope implements the password-keyed container every secret in
// the vault is stored in: a random salt and nonce followed by an AES-256-GCM
// ciphertext. Envelopes are self-contained; the salt travels with the data
// so decryption needs only the password.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltLen and NonceLen fix the envelope layout: salt, then nonce,
	// then ciphertext with the GCM tag appended.
	SaltLen  = 16
	NonceLen = 12
	KeyLen   = 32

	// Iterations is part of the on-disk format. Changing it orphans
	// every existing envelope.
	Iterations = 100_000
)

// ErrDecryptFailed covers every way an envelope can fail to open: wrong
// password, tampered ciphertext, or a buffer too short to be an envelope.
// Callers must not be able to tell these apart.
var ErrDecryptFailed = errors.New("envelope: decrypt failed")

// Zero wipes a byte slice in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// RandBytes returns n bytes from the system CSPRNG.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeriveKey stretches a password into a 32-byte envelope key with
// PBKDF2-HMAC-SHA-256. This is the derivation used for every stored
// envelope.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeyLen, sha256.New)
}

// DeriveKeySHA512 is the SHA-512 counterpart of DeriveKey, reserved for
// payloads keyed by the master secret. It is a distinct derivation, not an
// alias; the two must never be interchanged for the same envelope.
func DeriveKeySHA512(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeyLen, sha512.New)
}

// Seal encrypts plaintext under the password with a fresh salt and nonce
// and returns the raw envelope bytes. Two calls with identical input
// produce different envelopes.
func Seal(plaintext []byte, password string) ([]byte, error) {
	salt, err := RandBytes(SaltLen)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(NonceLen)
	if err != nil {
		return nil, err
	}

	key := DeriveKey(password, salt)
	defer Zero(key)
	block, _ := aes.NewCipher(key)
	aead, _ := cipher.NewGCM(block)

	out := make([]byte, 0, SaltLen+NonceLen+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts an envelope produced by Seal. Any failure is
// ErrDecryptFailed.
func Open(data []byte, password string) ([]byte, error) {
	if len(data) < SaltLen+NonceLen {
		return nil, ErrDecryptFailed
	}
	salt := data[:SaltLen]
	nonce := data[SaltLen : SaltLen+NonceLen]
	ciphertext := data[SaltLen+NonceLen:]

	key := DeriveKey(password, salt)
	defer Zero(key)
	block, _ := aes.NewCipher(key)
	aead, _ := cipher.NewGCM(block)

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// SealText is Seal with the envelope base64-encoded for text-mode files.
func SealText(plaintext []byte, password string) (string, error) {
	raw, err := Seal(plaintext, password)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// OpenText decodes a base64 envelope and opens it. Undecodable text is
// indistinguishable from any other decryption failure.
func OpenText(encoded, password string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return Open(raw, password)
}
