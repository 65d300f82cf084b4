package adbauth

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"math/big"
	"testing"
)

func TestSignToken(t *testing.T) {
	key := testKey(t)

	token := make([]byte, 20)
	if _, err := rand.Read(token); err != nil {
		t.Fatal(err)
	}

	sig, err := SignToken(key, token)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != key.Size() {
		t.Fatalf("signature size %d, expected %d", len(sig), key.Size())
	}

	// the stdlib verifier accepts it
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA1, token, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// sig^e mod n recovers the encoded message
	em, err := encodePKCS1v15SHA1(token, key.Size())
	if err != nil {
		t.Fatal(err)
	}
	rec := new(big.Int).Exp(new(big.Int).SetBytes(sig), big.NewInt(int64(key.E)), key.N)
	if !bytes.Equal(rec.FillBytes(make([]byte, key.Size())), em) {
		t.Errorf("sig^e mod n does not recover the encoded message")
	}
}

func TestSignTokenHashesOddSizes(t *testing.T) {
	key := testKey(t)

	token := []byte("this token is not twenty bytes long at all")
	sig, err := SignToken(key, token)
	if err != nil {
		t.Fatal(err)
	}

	sum := sha1.Sum(token)
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA1, sum[:], sig); err != nil {
		t.Fatalf("verify of hashed token: %v", err)
	}
}

func TestEncodePKCS1v15SHA1(t *testing.T) {
	digest := bytes.Repeat([]byte{0xAB}, 20)
	em, err := encodePKCS1v15SHA1(digest, 256)
	if err != nil {
		t.Fatal(err)
	}
	if len(em) != 256 {
		t.Fatalf("em size %d", len(em))
	}
	if em[0] != 0x00 || em[1] != 0x01 {
		t.Errorf("bad prefix % X", em[:2])
	}
	sep := 256 - len(sha1DigestInfo) - len(digest) - 1
	for i := 2; i < sep; i++ {
		if em[i] != 0xFF {
			t.Fatalf("padding byte %d is %02X", i, em[i])
		}
	}
	if em[sep] != 0x00 {
		t.Errorf("missing separator")
	}
	if !bytes.Equal(em[sep+1:sep+1+len(sha1DigestInfo)], sha1DigestInfo) {
		t.Errorf("bad digest info")
	}
	if !bytes.Equal(em[256-20:], digest) {
		t.Errorf("bad digest")
	}

	if _, err := encodePKCS1v15SHA1(digest, 40); err == nil {
		t.Errorf("expected error for tiny modulus")
	}
}

func TestModExp(t *testing.T) {
	for _, tc := range [][3]int64{
		{2, 10, 1000},
		{3, 0, 7},
		{12345, 67, 99991},
		{7, 128, 13},
	} {
		base, exp, mod := big.NewInt(tc[0]), big.NewInt(tc[1]), big.NewInt(tc[2])
		act := modExp(base, exp, mod)
		want := new(big.Int).Exp(base, exp, mod)
		if act.Cmp(want) != 0 {
			t.Errorf("modExp(%d,%d,%d) = %v, expected %v", tc[0], tc[1], tc[2], act, want)
		}
	}
}
