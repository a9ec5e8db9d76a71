package session

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Sealed document layout: magic, 16-byte scrypt salt, 24-byte nonce,
// secretbox ciphertext.
var sealMagic = []byte("GWSEAL1\n")

const (
	saltSize  = 16
	nonceSize = 24

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealMagic)
}

func deriveKey(pass, salt []byte) (*[32]byte, error) {
	raw, err := scrypt.Key(pass, salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func seal(plain, pass []byte) ([]byte, error) {
	var salt [saltSize]byte
	var nonce [nonceSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	key, err := deriveKey(pass, salt[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(sealMagic)+saltSize+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, sealMagic...)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plain, &nonce, key), nil
}

func open(sealed, pass []byte) ([]byte, error) {
	body := sealed[len(sealMagic):]
	if len(body) < saltSize+nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("sealed document truncated")
	}

	var nonce [nonceSize]byte
	salt := body[:saltSize]
	copy(nonce[:], body[saltSize:saltSize+nonceSize])

	key, err := deriveKey(pass, salt)
	if err != nil {
		return nil, err
	}

	plain, ok := secretbox.Open(nil, body[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("sealed document failed authentication")
	}
	return plain, nil
}
