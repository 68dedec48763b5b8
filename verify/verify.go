// Package verify checks a firmware image's RSA-2048/SHA-256 PKCS#1 v1.5
// signature against a pinned public key before the boot controller is
// permitted to jump to it.
package verify

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/SPlatform/SPBootloader/firmware"
)

var (
	// ErrBadInput is returned when the pinned key material itself cannot
	// be parsed.
	ErrBadInput = errors.New("verify: bad input")
	// ErrInvalidRSASignFormat is returned when the pinned key is not a
	// 2048-bit RSA key (256-byte modulus).
	ErrInvalidRSASignFormat = errors.New("verify: invalid RSA signature format")
	// ErrMDVerFail names a failure to hash the image. Verify never returns
	// it: the stdlib sha256 implementation cannot fail on a byte slice. The
	// value is kept for parity with the design's error taxonomy.
	ErrMDVerFail = errors.New("verify: message digest verification failed")
	// ErrRSAVerFail is returned when the signature does not verify
	// against the image hash.
	ErrRSAVerFail = errors.New("verify: RSA signature verification failed")
)

// Verifier holds the pinned public key for the lifetime of the bootloader.
type Verifier struct {
	pub *rsa.PublicKey
}

// NewVerifier imports a pinned RSA public key from hex-encoded modulus (N)
// and exponent (E) and requires it to be exactly 2048 bits (a 256-byte
// modulus), matching FIRMWARE_SIGNATURE_LENGTH.
func NewVerifier(nHex, eHex string) (*Verifier, error) {
	nBytes, err := hex.DecodeString(nHex)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding N: %v", ErrBadInput, err)
	}
	eBytes, err := hex.DecodeString(eHex)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding E: %v", ErrBadInput, err)
	}
	if len(nBytes) != firmware.SignatureLength {
		return nil, fmt.Errorf("%w: modulus is %d bytes, want %d", ErrInvalidRSASignFormat, len(nBytes), firmware.SignatureLength)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() {
		return nil, fmt.Errorf("%w: exponent too large", ErrInvalidRSASignFormat)
	}

	return &Verifier{pub: &rsa.PublicKey{N: n, E: int(e.Int64())}}, nil
}

// Verify hashes image with SHA-256 and checks signature against the
// pinned key using PKCS#1 v1.5. signature must be exactly
// firmware.SignatureLength bytes.
func (v *Verifier) Verify(image, signature []byte) error {
	if len(signature) != firmware.SignatureLength {
		return fmt.Errorf("%w: signature is %d bytes, want %d", ErrInvalidRSASignFormat, len(signature), firmware.SignatureLength)
	}

	sum := sha256.Sum256(image)

	if err := rsa.VerifyPKCS1v15(v.pub, crypto.SHA256, sum[:], signature); err != nil {
		return fmt.Errorf("%w: %v", ErrRSAVerFail, err)
	}
	return nil
}
