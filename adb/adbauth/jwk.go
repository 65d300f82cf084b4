package adbauth

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

// JWK is a JSON Web Key (RFC 7517). Only the RSA key members are modelled;
// other members are not retained when a JWK is decoded.
type JWK struct {
	Kty string `json:"kty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	D   string `json:"d,omitempty"`
	P   string `json:"p,omitempty"`
	Q   string `json:"q,omitempty"`
	DP  string `json:"dp,omitempty"`
	DQ  string `json:"dq,omitempty"`
	QI  string `json:"qi,omitempty"`
}

func jwkUint(b *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(b.Bytes())
}

func jwkParseUint(s, member string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("jwk: missing %q member", member)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("jwk: decode %q: %w", member, err)
	}
	return new(big.Int).SetBytes(b), nil
}

// EncodeJWKPair encodes an RSA key pair as a (private, public) JWK pair.
func EncodeJWKPair(key *rsa.PrivateKey) (private, public JWK) {
	public = JWK{
		Kty: "RSA",
		N:   jwkUint(key.N),
		E:   jwkUint(big.NewInt(int64(key.E))),
	}
	private = public
	private.D = jwkUint(key.D)
	if len(key.Primes) == 2 {
		private.P = jwkUint(key.Primes[0])
		private.Q = jwkUint(key.Primes[1])
		if key.Precomputed.Dp != nil {
			private.DP = jwkUint(key.Precomputed.Dp)
			private.DQ = jwkUint(key.Precomputed.Dq)
			private.QI = jwkUint(key.Precomputed.Qinv)
		}
	}
	return private, public
}

// DecodeJWK extracts the raw modulus, private exponent, and public exponent
// from a private JWK. The prime factors, if present, are ignored; manual
// signing only needs n and d.
func DecodeJWK(private JWK) (*rsa.PrivateKey, error) {
	if private.Kty != "RSA" {
		return nil, fmt.Errorf("jwk: unsupported key type %q", private.Kty)
	}
	n, err := jwkParseUint(private.N, "n")
	if err != nil {
		return nil, err
	}
	e, err := jwkParseUint(private.E, "e")
	if err != nil {
		return nil, err
	}
	d, err := jwkParseUint(private.D, "d")
	if err != nil {
		return nil, err
	}
	return &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: n, E: int(e.Int64())},
		D:         d,
	}, nil
}
