package cryptutil

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/negyio/negy/internal/negyerr"
)

// RSAOverhead is the number of bytes PKCS1 v1.5 padding consumes from the
// modulus size, per RFC 2313: a plaintext of at most K-11 bytes fits in a
// K-byte RSA block.
const RSAOverhead = 11

// WrapRSA encrypts plain under pub using PKCS1 v1.5 padding. plain must be
// at most pub.Size()-RSAOverhead bytes; the delimiter (16 bytes), the
// session key and IV (48 bytes), and destination strings under ~245 bytes
// (for a 2048-bit key) all fit.
func WrapRSA(pub *rsa.PublicKey, plain []byte) ([]byte, error) {
	if max := pub.Size() - RSAOverhead; len(plain) > max {
		return nil, negyerr.Crypto("cryptutil.WrapRSA", fmt.Errorf("plaintext of %d bytes exceeds max %d for a %d-byte modulus", len(plain), max, pub.Size()))
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plain)
	if err != nil {
		return nil, negyerr.Crypto("cryptutil.WrapRSA", err)
	}
	return ct, nil
}

// UnwrapRSA decrypts a PKCS1 v1.5-wrapped block.
func UnwrapRSA(priv *rsa.PrivateKey, ct []byte) ([]byte, error) {
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ct)
	if err != nil {
		return nil, negyerr.Crypto("cryptutil.UnwrapRSA", err)
	}
	return plain, nil
}

// ModulusSize returns K, the RSA modulus size in bytes, for pub.
func ModulusSize(pub *rsa.PublicKey) int {
	return pub.Size()
}
