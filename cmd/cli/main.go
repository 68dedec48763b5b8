package main

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	goserial "github.com/cesanta/go-serial/serial"
	"golang.org/x/term"

	"github.com/SPlatform/SPBootloader/firmware"
	"github.com/SPlatform/SPBootloader/intelhex"
)

const (
	defaultBaudRate = 115200
	pushChunkSize   = 4096
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(os.Args[2:])
	case "push":
		err = runPush(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "monitor":
		err = runMonitor(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: bootctl-cli <build|push|info|monitor> [flags]")
}

// runBuild signs a raw firmware image and emits the header+signature+image
// region as an Intel HEX stream, ready for push.
func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	imagePath := fs.String("image", "", "path to the raw firmware image")
	keyPath := fs.String("key", "", "path to the PEM-encoded RSA private key")
	firmwareStart := fs.Uint("start", 0x10000, "firmware region start offset")
	out := fs.String("out", "firmware.hex", "output Intel HEX file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *imagePath == "" || *keyPath == "" {
		return fmt.Errorf("build: -image and -key are required")
	}

	image, err := os.ReadFile(*imagePath)
	if err != nil {
		return fmt.Errorf("build: read image: %w", err)
	}

	key, err := loadPrivateKey(*keyPath)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	layout := firmware.Layout{Start: uint32(*firmwareStart)}
	header := firmware.Header{
		ImageSize:   uint32(len(image)),
		ImageOffset: layout.ExpectedImageOffset(),
	}

	digest := sha256.Sum256(image)
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return fmt.Errorf("build: sign image: %w", err)
	}

	sigOffset := layout.SignatureOffset() - layout.Start

	region := make([]byte, firmware.MetadataLength+len(image))
	header.Encode(region[:firmware.MetadataLength])
	copy(region[sigOffset:sigOffset+firmware.SignatureLength], signature)
	copy(region[firmware.MetadataLength:], image)

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("build: create output: %w", err)
	}
	defer f.Close()

	// Record addresses are region-relative (base 0), not absolute flash
	// offsets: upgrade.Engine adds its own layout.Start when it flushes a
	// page, so the wire stream must start at 0 or every write would land
	// at 2*layout.Start+offset instead of layout.Start+offset.
	if err := intelhex.Encode(f, 0, region); err != nil {
		return fmt.Errorf("build: encode Intel HEX: %w", err)
	}

	fmt.Printf("wrote %s: %d byte image, %d byte region\n", *out, len(image), len(region))
	return nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	generic, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key in %s is not RSA", path)
	}
	return key, nil
}

// runPush streams a pre-built Intel HEX file to the device over a real
// serial port.
func runPush(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	port := fs.String("port", "", "serial device path, e.g. /dev/ttyUSB0")
	baud := fs.Uint("baud", defaultBaudRate, "baud rate")
	hexPath := fs.String("file", "", "Intel HEX file produced by build")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == "" || *hexPath == "" {
		return fmt.Errorf("push: -port and -file are required")
	}

	data, err := os.ReadFile(*hexPath)
	if err != nil {
		return fmt.Errorf("push: read %s: %w", *hexPath, err)
	}

	s, err := openSerial(*port, uint(*baud))
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	defer s.Close()

	for len(data) > 0 {
		n := len(data)
		if n > pushChunkSize {
			n = pushChunkSize
		}
		if _, err := s.Write(data[:n]); err != nil {
			return fmt.Errorf("push: write: %w", err)
		}
		data = data[n:]
	}

	fmt.Println("push complete")
	return nil
}

func openSerial(portName string, baud uint) (goserial.Serial, error) {
	s, err := goserial.Open(goserial.OpenOptions{
		PortName:        portName,
		BaudRate:        baud,
		DataBits:        8,
		ParityMode:      goserial.PARITY_NONE,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	return s, nil
}

// runInfo decodes and prints the header of a built Intel HEX image
// without pushing it.
func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	hexPath := fs.String("file", "", "Intel HEX file produced by build")
	firmwareStart := fs.Uint("start", 0x10000, "firmware region start offset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *hexPath == "" {
		return fmt.Errorf("info: -file is required")
	}

	data, err := os.ReadFile(*hexPath)
	if err != nil {
		return fmt.Errorf("info: read %s: %w", *hexPath, err)
	}

	// build emits region-relative (base 0) addresses; see the comment in
	// runBuild.
	region, err := decodeRegion(data, 0)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	if len(region) < firmware.MetadataLength {
		return fmt.Errorf("info: decoded region shorter than metadata (%d bytes)", len(region))
	}

	header, err := firmware.DecodeHeader(region)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	layout := firmware.Layout{Start: uint32(*firmwareStart)}
	sigOffset := layout.SignatureOffset() - layout.Start
	signature := region[sigOffset : sigOffset+firmware.SignatureLength]

	fmt.Printf("imageSize:   %d\n", header.ImageSize)
	fmt.Printf("imageOffset: 0x%x\n", header.ImageOffset)
	fmt.Printf("signature:   %s\n", hex.EncodeToString(signature))
	return nil
}

// decodeRegion replays an Intel HEX stream into a flat byte slice relative
// to base.
func decodeRegion(stream []byte, base uint32) ([]byte, error) {
	var segment uint32
	var out []byte

	for len(stream) > 0 {
		status, consumed, rec := intelhex.Parse(stream)
		if status != intelhex.Success {
			return nil, fmt.Errorf("malformed record (status %v)", status)
		}
		switch rec.Type {
		case intelhex.ExtLinearAddress:
			segment = uint32(rec.Data[0])<<24 | uint32(rec.Data[1])<<16
		case intelhex.Data:
			abs := segment + uint32(rec.Address)
			if abs < base {
				return nil, fmt.Errorf("data record below base offset 0x%x", base)
			}
			offset := int(abs - base)
			for offset+len(rec.Data) > len(out) {
				out = append(out, 0)
			}
			copy(out[offset:], rec.Data)
		case intelhex.EndOfFile:
			return out, nil
		}
		stream = stream[consumed:]
	}
	return out, nil
}

// runMonitor opens the serial port in raw mode and echoes device output to
// stdout until interrupted.
func runMonitor(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	port := fs.String("port", "", "serial device path")
	baud := fs.Uint("baud", defaultBaudRate, "baud rate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == "" {
		return fmt.Errorf("monitor: -port is required")
	}

	s, err := openSerial(*port, uint(*baud))
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	defer s.Close()

	if term.IsTerminal(int(os.Stdin.Fd())) {
		prev, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("monitor: enter raw mode: %w", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), prev)
		go func() {
			b := make([]byte, 1)
			for {
				n, err := os.Stdin.Read(b)
				if err != nil {
					return
				}
				if n == 1 && b[0] == 0x1d { // ctrl-]
					term.Restore(int(os.Stdin.Fd()), prev)
					s.Close()
					os.Exit(0)
				}
			}
		}()
	}

	fmt.Fprintln(os.Stderr, "monitoring, ctrl-] to exit")
	buf := make([]byte, 256)
	for {
		n, err := s.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("monitor: read: %w", err)
		}
		time.Sleep(time.Millisecond)
	}
}
