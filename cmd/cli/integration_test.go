package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SPlatform/SPBootloader/firmware"
	"github.com/SPlatform/SPBootloader/internal/fakehw"
	"github.com/SPlatform/SPBootloader/upgrade"
	"github.com/SPlatform/SPBootloader/verify"
)

// TestBuildOutputDrivesUpgradeEngine builds a firmware image through the
// real cmd/cli build path and feeds the resulting Intel HEX file through
// upgrade.Engine exactly as a device would receive it over UART, checking
// that the engine writes pages at the device's real flash offset rather
// than double-counting the firmware start address.
func TestBuildOutputDrivesUpgradeEngine(t *testing.T) {
	const firmwareStart = 0x10000
	const flashSize = 512 * 1024

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "image.bin")
	keyPath := filepath.Join(dir, "key.pem")
	hexPath := filepath.Join(dir, "firmware.hex")

	image := bytes.Repeat([]byte{0x5a}, 1500)
	if err := os.WriteFile(imagePath, image, 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	if err := runBuild([]string{
		"-image", imagePath,
		"-key", keyPath,
		"-start", "65536",
		"-out", hexPath,
	}); err != nil {
		t.Fatalf("runBuild: %v", err)
	}

	stream, err := os.ReadFile(hexPath)
	if err != nil {
		t.Fatalf("read built hex: %v", err)
	}

	dev, err := fakehw.NewFlash(flashSize)
	if err != nil {
		t.Fatalf("NewFlash: %v", err)
	}
	u := fakehw.NewUART()
	tmr := fakehw.NewTimer()
	layout := firmware.Layout{Start: firmwareStart, FlashSize: flashSize}
	engine := upgrade.New(u, dev, dev.Map, tmr, layout, upgrade.WithTimeoutMs(1000))

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(context.Background()) }()

	u.Deliver(stream)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("engine.Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for engine.Run to finish")
	}

	if len(dev.WriteLog) == 0 {
		t.Fatal("expected at least one page write")
	}
	if dev.WriteLog[0].Address != firmwareStart {
		t.Fatalf("first page written at 0x%x, want 0x%x (not 2x firmwareStart)", dev.WriteLog[0].Address, firmwareStart)
	}

	region := make([]byte, firmware.MetadataLength+len(image))
	if err := dev.ReadAt(firmwareStart, region); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	header, err := firmware.DecodeHeader(region)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if err := layout.ValidateHeader(header); err != nil {
		t.Fatalf("ValidateHeader: %v", err)
	}

	sigOffset := layout.SignatureOffset() - layout.Start
	signature := region[sigOffset : sigOffset+firmware.SignatureLength]
	gotImage := region[firmware.MetadataLength:]

	verifier, err := verify.NewVerifier(
		hexEncodeForTest(priv.PublicKey.N.Bytes()),
		hexEncodeForTest(bigEForTest(priv.PublicKey.E)),
	)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := verifier.Verify(gotImage, signature); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func hexEncodeForTest(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[2*i] = digits[v>>4]
		out[2*i+1] = digits[v&0xf]
	}
	return string(out)
}

func bigEForTest(n int) []byte {
	if n <= 0xFF {
		return []byte{byte(n)}
	}
	if n <= 0xFFFF {
		return []byte{byte(n >> 8), byte(n)}
	}
	return []byte{byte(n >> 16), byte(n >> 8), byte(n)}
}
