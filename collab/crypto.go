// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package collab

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Crypto is the cryptographic primitives collaborator (spec.md §6.1):
// opaque byte-in/byte-out AEAD encrypt/decrypt plus key derivation.
// The core never assumes anything about the implementation beyond this
// contract — Kyber/Falcon/Shamir live entirely behind it in a real
// deployment. Keys are 32 bytes, nonces 12 bytes, matching AES-256-GCM.
type Crypto interface {
	Encrypt(key, nonce, plaintext []byte) (ciphertext []byte, err error)
	Decrypt(key, nonce, ciphertext []byte) (plaintext []byte, err error)
	DeriveKey(secret, salt, info []byte, length int) ([]byte, error)
}

// DefaultCrypto is the Go fallback implementation spec.md §6.1 calls
// out explicitly ("a Python fallback with correct AES-GCM is
// acceptable") — AES-256-GCM via the standard library plus HKDF-SHA256
// via golang.org/x/crypto/hkdf, the same dependency the teacher and
// three other pack repos pull in for this exact concern.
type DefaultCrypto struct{}

func (DefaultCrypto) Encrypt(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func (DefaultCrypto) Decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (DefaultCrypto) DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RandomNonce returns a fresh 12-byte GCM nonce.
func RandomNonce() ([]byte, error) {
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

var _ Crypto = DefaultCrypto{}
