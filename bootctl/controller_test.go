package bootctl

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/SPlatform/SPBootloader/firmware"
	"github.com/SPlatform/SPBootloader/internal/fakehw"
	"github.com/SPlatform/SPBootloader/verify"
)

const flashSize = 512 * 1024
const firmwareStart = 0x10000

func testLayout() firmware.Layout {
	return firmware.Layout{Start: firmwareStart, FlashSize: flashSize}
}

// writeValidImage programs a signed image directly into dev's backing
// memory, bypassing the upgrade engine, so controller tests can exercise
// "verify succeeds on first loop iteration without an upgrade" in
// isolation from upgrade.Engine.
func writeValidImage(t *testing.T, dev *fakehw.Flash, image []byte) *verify.Verifier {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sum := sha256.Sum256(image)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, sum[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}

	layout := testLayout()
	header := firmware.Header{ImageSize: uint32(len(image)), ImageOffset: layout.ExpectedImageOffset()}
	header.Encode(dev.Mem[firmwareStart:])
	copy(dev.Mem[layout.SignatureOffset():], sig)
	copy(dev.Mem[firmwareStart+firmware.MetadataLength:], image)

	v, err := verify.NewVerifier(hex.EncodeToString(priv.PublicKey.N.Bytes()), hex.EncodeToString(bigE(priv.PublicKey.E)))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func bigE(n int) []byte {
	if n <= 0xFF {
		return []byte{byte(n)}
	}
	if n <= 0xFFFF {
		return []byte{byte(n >> 8), byte(n)}
	}
	return []byte{byte(n >> 16), byte(n >> 8), byte(n)}
}

func TestControllerJumpsOnPreVerifiedImage(t *testing.T) {
	dev, err := fakehw.NewFlash(flashSize)
	if err != nil {
		t.Fatalf("NewFlash: %v", err)
	}
	image := []byte("a verified firmware image")
	v := writeValidImage(t, dev, image)

	u := fakehw.NewUART()
	tmr := fakehw.NewTimer()
	c := fakehw.NewCPU(48_000_000)

	calls := 0
	checkUpgrade := func(ctx context.Context) bool {
		calls++
		return false
	}

	ctrl := New(u, dev, dev.Map, tmr, c, testLayout(), v, checkUpgrade)

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run")
	}

	if !c.Jumped {
		t.Fatalf("expected JumpToImage to be called")
	}
	if c.JumpAddress != testLayout().ExpectedImageOffset() {
		t.Fatalf("jump address = 0x%x, want 0x%x", c.JumpAddress, testLayout().ExpectedImageOffset())
	}
	if calls != 1 {
		t.Fatalf("checkUpgrade called %d times, want 1", calls)
	}
}

func TestControllerNeverJumpsWithoutVerify(t *testing.T) {
	dev, err := fakehw.NewFlash(flashSize)
	if err != nil {
		t.Fatalf("NewFlash: %v", err)
	}
	// Program a signed image so the header validates; the tampering below
	// makes the signature check fail on every iteration.
	v := writeValidImage(t, dev, []byte("unrelated image"))
	// Corrupt the stored image so its hash no longer matches the signature.
	copy(dev.Mem[firmwareStart+firmware.MetadataLength:], []byte("TAMPERED!!"))

	u := fakehw.NewUART()
	tmr := fakehw.NewTimer()
	c := fakehw.NewCPU(48_000_000)

	attempts := 0
	checkUpgrade := func(ctx context.Context) bool {
		attempts++
		if attempts >= 3 {
			cancel, ok := ctx.Value(cancelKey{}).(context.CancelFunc)
			if ok {
				cancel()
			}
		}
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = context.WithValue(ctx, cancelKey{}, cancel)

	ctrl := New(u, dev, dev.Map, tmr, c, testLayout(), v, checkUpgrade)

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to observe cancellation")
	}

	if c.Jumped {
		t.Fatalf("JumpToImage must not be called when verification never succeeds")
	}
	if attempts < 3 {
		t.Fatalf("expected at least 3 verify attempts, got %d", attempts)
	}
}

type cancelKey struct{}
