package cryptutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"github.com/negyio/negy/internal/negyerr"
)

var errInvalidPadding = errors.New("invalid PKCS7 padding")

// SessionCipher is the AES-256-CBC session cipher shared between the
// gateway and one relay. The IV is fixed for the lifetime of the session:
// every Encrypt and Decrypt call reuses the same IV rather than chaining
// across calls. This is a deliberate, documented simplification — it leaks
// equality of plaintext prefixes across messages encrypted under the same
// session — not an oversight.
type SessionCipher struct {
	key [32]byte
	iv  [16]byte
}

// NewSessionCipher builds a SessionCipher from sk.
func NewSessionCipher(sk SessionKey) *SessionCipher {
	return &SessionCipher{key: sk.Key, iv: sk.IV}
}

// Encrypt PKCS7-pads plain to a multiple of the AES block size and encrypts
// it under CBC mode with this session's fixed IV. Output length is always
// ((len(plain)+1+15)/16)*16 bytes.
func (c *SessionCipher) Encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, negyerr.Crypto("cryptutil.Encrypt", err)
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv[:]).CryptBlocks(ct, padded)
	return ct, nil
}

// Decrypt reverses Encrypt. It fails with a crypto error if ct is not a
// positive multiple of the block size or its PKCS7 padding is malformed.
func (c *SessionCipher) Decrypt(ct []byte) ([]byte, error) {
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, negyerr.Crypto("cryptutil.Decrypt", nil)
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, negyerr.Crypto("cryptutil.Decrypt", err)
	}
	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, c.iv[:]).CryptBlocks(padded, ct)
	plain, err := pkcs7Unpad(padded)
	if err != nil {
		return nil, negyerr.Crypto("cryptutil.Decrypt", err)
	}
	return plain, nil
}

// pkcs7Pad and pkcs7Unpad implement PKCS#7 padding. The standard library has
// no built-in support for it.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errInvalidPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errInvalidPadding
	}
	if !bytes.Equal(data[len(data)-padLen:], bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return nil, errInvalidPadding
	}
	return data[:len(data)-padLen], nil
}
