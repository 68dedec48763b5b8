package verify

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
)

func genVerifier(t *testing.T) (*Verifier, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	nHex := hex.EncodeToString(priv.PublicKey.N.Bytes())
	eBytes := big.NewInt(int64(priv.PublicKey.E)).Bytes()
	eHex := hex.EncodeToString(eBytes)

	v, err := NewVerifier(nHex, eHex)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v, priv
}

func sign(t *testing.T, priv *rsa.PrivateKey, image []byte) []byte {
	t.Helper()
	sum := sha256.Sum256(image)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, sum[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}
	return sig
}

func TestVerifySuccess(t *testing.T) {
	v, priv := genVerifier(t)
	image := []byte("a firmware image")
	sig := sign(t, priv, image)
	if err := v.Verify(image, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyBadSignature(t *testing.T) {
	v, priv := genVerifier(t)
	image := []byte("a firmware image")
	sig := sign(t, priv, image)
	tampered := append([]byte(nil), image...)
	tampered[0] ^= 0xFF
	err := v.Verify(tampered, sig)
	if !errors.Is(err, ErrRSAVerFail) {
		t.Fatalf("err = %v, want ErrRSAVerFail", err)
	}
}

func TestNewVerifierRejectsWrongKeySize(t *testing.T) {
	_, err := NewVerifier(hex.EncodeToString(make([]byte, 128)), "010001")
	if !errors.Is(err, ErrInvalidRSASignFormat) {
		t.Fatalf("err = %v, want ErrInvalidRSASignFormat", err)
	}
}

func TestVerifyRejectsWrongSignatureLength(t *testing.T) {
	v, _ := genVerifier(t)
	err := v.Verify([]byte("x"), make([]byte, 10))
	if !errors.Is(err, ErrInvalidRSASignFormat) {
		t.Fatalf("err = %v, want ErrInvalidRSASignFormat", err)
	}
}
