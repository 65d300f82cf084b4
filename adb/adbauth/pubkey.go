// Package adbauth implements the RSA authentication used by the ADB
// transport: the persistent host key pair, the Android public-key binary
// format, and AUTH token signing.
package adbauth

import (
	"bytes"
	"crypto/md5"
	"crypto/rsa"
	"encoding"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"slices"
	"strings"
)

// The blob layout matches AOSP's libcrypto_utils android_pubkey.cpp: a word
// count, the montgomery parameters the device needs to avoid doing division,
// the modulus, and the exponent, everything little-endian.

const (
	// PublicKeyModulusSize is the RSA modulus size in bytes. Only 2048-bit
	// keys are supported.
	PublicKeyModulusSize = 2048 / 8
	// PublicKeyEncodedSize is the size of the encoded blob: len, n0inv, n,
	// rr, e.
	PublicKeyEncodedSize = 3*4 + 2*PublicKeyModulusSize
)

// KeyName is the identifier appended to the encoded public key sent in
// AUTH_RSAPUBLICKEY payloads.
const KeyName = "adb@webusb"

// Blob field offsets.
const (
	offN0Inv    = 4
	offModulus  = 8
	offRR       = offModulus + PublicKeyModulusSize
	offExponent = offRR + PublicKeyModulusSize
)

// PublicKey is the device-side representation of an RSA public key.
type PublicKey struct {
	// ModulusSizeWords must be PublicKeyModulusSize / 4.
	ModulusSizeWords uint32
	// N0Inv satisfies n[0] * N0Inv ≡ -1 (mod 2^32).
	N0Inv uint32
	// Modulus holds n, least significant byte first.
	Modulus [PublicKeyModulusSize]byte
	// RR holds R^2 mod n where R = 2^2048, least significant byte first.
	RR [PublicKeyModulusSize]byte
	// Exponent is e, typically 65537.
	Exponent uint32
}

var (
	_ encoding.BinaryUnmarshaler = (*PublicKey)(nil)
	_ encoding.BinaryAppender    = (*PublicKey)(nil)
	_ encoding.BinaryMarshaler   = (*PublicKey)(nil)
)

// leWords renders v as a fixed-size little-endian byte array.
func leWords(v *big.Int) (out [PublicKeyModulusSize]byte) {
	v.FillBytes(out[:])
	slices.Reverse(out[:])
	return out
}

// negInverseU32 computes -(n^-1) mod 2^32 for odd n by lifting the inverse
// one doubling of precision per Newton step (5 steps cover 32 bits).
func negInverseU32(n uint32) uint32 {
	inv := n
	for range 5 {
		inv *= 2 - n*inv
	}
	return -inv
}

// NewPublicKey derives the device-side key, including the montgomery
// parameters, from a Go RSA public key.
func NewPublicKey(pub *rsa.PublicKey) (*PublicKey, error) {
	if pub.Size() != PublicKeyModulusSize {
		return nil, fmt.Errorf("unsupported modulus size %d", pub.Size())
	}
	if pub.N.Bit(0) == 0 {
		return nil, fmt.Errorf("modulus is even")
	}

	k := &PublicKey{
		ModulusSizeWords: PublicKeyModulusSize / 4,
		Modulus:          leWords(pub.N),
		Exponent:         uint32(pub.E),
	}
	k.N0Inv = negInverseU32(binary.LittleEndian.Uint32(k.Modulus[:4]))

	rr := new(big.Int).Lsh(big.NewInt(1), 2*PublicKeyModulusSize*8)
	k.RR = leWords(rr.Mod(rr, pub.N))

	return k, nil
}

// GoPublicKey is the inverse of [NewPublicKey]; the montgomery parameters
// are not consulted.
func GoPublicKey(k *PublicKey) *rsa.PublicKey {
	be := bytes.Clone(k.Modulus[:])
	slices.Reverse(be)
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(be),
		E: int(k.Exponent),
	}
}

// UnmarshalBinary decodes a blob. The montgomery parameters are taken at
// face value.
func (k *PublicKey) UnmarshalBinary(buf []byte) error {
	if len(buf) != PublicKeyEncodedSize {
		return fmt.Errorf("pubkey blob must be %d bytes, have %d", PublicKeyEncodedSize, len(buf))
	}
	k.ModulusSizeWords = binary.LittleEndian.Uint32(buf)
	k.N0Inv = binary.LittleEndian.Uint32(buf[offN0Inv:])
	copy(k.Modulus[:], buf[offModulus:])
	copy(k.RR[:], buf[offRR:])
	k.Exponent = binary.LittleEndian.Uint32(buf[offExponent:])
	return nil
}

// AppendBinary encodes the blob. This is the inverse of UnmarshalBinary.
func (k *PublicKey) AppendBinary(b []byte) ([]byte, error) {
	b = slices.Grow(b, PublicKeyEncodedSize)
	b = binary.LittleEndian.AppendUint32(b, k.ModulusSizeWords)
	b = binary.LittleEndian.AppendUint32(b, k.N0Inv)
	b = append(b, k.Modulus[:]...)
	b = append(b, k.RR[:]...)
	b = binary.LittleEndian.AppendUint32(b, k.Exponent)
	return b, nil
}

// MarshalBinary is like AppendBinary.
func (k *PublicKey) MarshalBinary() ([]byte, error) {
	return k.AppendBinary(nil)
}

// AppendAuthPayload formats the pubkey the way it is transmitted in an
// AUTH_RSAPUBLICKEY payload: standard base64 with padding, a space, the key
// identifier, and a single NUL terminator.
func (k *PublicKey) AppendAuthPayload(b []byte, name string) []byte {
	raw, _ := k.AppendBinary(nil) // will never error
	b = base64.StdEncoding.AppendEncode(b, raw)
	if name != "" {
		b = append(b, ' ')
		b = append(b, name...)
	}
	return append(b, 0)
}

// ParsePublicKey parses the transmitted form back into a key and its
// identifier. The NUL terminator must already be stripped.
func ParsePublicKey(buf []byte) (key *PublicKey, name string, err error) {
	if i := bytes.IndexAny(buf, " \t"); i >= 0 {
		buf, name = buf[:i], string(buf[i+1:])
	}

	if exp := base64.StdEncoding.EncodedLen(PublicKeyEncodedSize); len(buf) != exp {
		return nil, name, fmt.Errorf("pubkey is %d base64 chars, expected %d", len(buf), exp)
	}
	raw := make([]byte, PublicKeyEncodedSize)
	if _, err := base64.StdEncoding.Decode(raw, buf); err != nil {
		return nil, name, fmt.Errorf("decode pubkey: %w", err)
	}

	key = new(PublicKey)
	if err := key.UnmarshalBinary(raw); err != nil {
		return nil, name, err
	}
	return key, name, nil
}

// Fingerprint renders the MD5 of the encoded blob as colon-separated hex,
// the same form adb shows for host keys.
func (k *PublicKey) Fingerprint() string {
	enc, _ := k.AppendBinary(nil)
	sum := md5.Sum(enc)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
