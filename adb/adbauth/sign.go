package adbauth

import (
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"math/big"
)

// sha1DigestInfo is the DER-encoded DigestInfo prefix for SHA-1 in an
// EMSA-PKCS1-v1_5 encoded message (RFC 8017 §9.2).
var sha1DigestInfo = []byte{
	0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e,
	0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14,
}

// SignToken signs an AUTH token with PKCS#1 v1.5 SHA-1 padding. The device
// sends a 20-byte token which is signed as-is; any other length is hashed
// with SHA-1 first.
func SignToken(key *rsa.PrivateKey, token []byte) ([]byte, error) {
	if len(token) != sha1.Size {
		sum := sha1.Sum(token)
		token = sum[:]
	}
	em, err := encodePKCS1v15SHA1(token, key.Size())
	if err != nil {
		return nil, err
	}
	sig := modExp(new(big.Int).SetBytes(em), key.D, key.N)
	return sig.FillBytes(make([]byte, key.Size())), nil
}

// encodePKCS1v15SHA1 builds the EMSA-PKCS1-v1_5 encoded message for a SHA-1
// digest: 0x00 0x01 FF..FF 0x00 DigestInfo digest.
func encodePKCS1v15SHA1(digest []byte, emLen int) ([]byte, error) {
	tLen := len(sha1DigestInfo) + len(digest)
	if emLen < tLen+11 {
		return nil, fmt.Errorf("modulus too short for pkcs1 v1.5 sha1 signature")
	}
	em := make([]byte, emLen)
	em[0] = 0x00
	em[1] = 0x01
	for i := 2; i < emLen-tLen-1; i++ {
		em[i] = 0xff
	}
	em[emLen-tLen-1] = 0x00
	copy(em[emLen-tLen:], sha1DigestInfo)
	copy(em[emLen-len(digest):], digest)
	return em, nil
}

// modExp computes base^exp mod n by left-to-right square-and-multiply. The
// key is our own and the device is trusted, so this does not need to be
// constant-time.
func modExp(base, exp, n *big.Int) *big.Int {
	r := big.NewInt(1)
	base = new(big.Int).Mod(base, n)
	for i := exp.BitLen() - 1; i >= 0; i-- {
		r.Mod(r.Mul(r, r), n)
		if exp.Bit(i) == 1 {
			r.Mod(r.Mul(r, base), n)
		}
	}
	return r
}
