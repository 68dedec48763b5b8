package intelhex

import (
	"fmt"
	"io"
)

// Encode writes data as a stream of Intel HEX records starting at the
// given 32-bit absolute address, emitting Extended Linear Address records
// as needed whenever address crosses a 64 KiB segment boundary, followed
// by a terminating end-of-file record.
func Encode(w io.Writer, address uint32, data []byte) error {
	currentSegment := uint32(0xffffffff)

	for len(data) > 0 {
		segment := address >> 16
		if segment != currentSegment {
			if err := writeExtLinearAddress(w, segment); err != nil {
				return err
			}
			currentSegment = segment
		}

		n := len(data)
		if n > MaxDataLength {
			n = MaxDataLength
		}
		// Do not let a record straddle a segment boundary.
		if remaining := 0x10000 - (address & 0xffff); uint32(n) > remaining {
			n = int(remaining)
		}

		if err := writeDataRecord(w, uint16(address&0xffff), data[:n]); err != nil {
			return err
		}

		data = data[n:]
		address += uint32(n)
	}

	return writeEOFRecord(w)
}

func writeExtLinearAddress(w io.Writer, segment uint32) error {
	payload := []byte{byte(segment >> 8), byte(segment)}
	return writeRecord(w, 0, ExtLinearAddress, payload)
}

func writeDataRecord(w io.Writer, offset uint16, data []byte) error {
	return writeRecord(w, offset, Data, data)
}

func writeEOFRecord(w io.Writer) error {
	return writeRecord(w, 0, EndOfFile, nil)
}

func writeRecord(w io.Writer, address uint16, typ RecordType, data []byte) error {
	line := make([]byte, 0, headerLength+len(data)*2+2+1)
	line = append(line, ':')

	sum := byte(len(data))
	line = appendHex2(line, byte(len(data)))

	line = appendHex2(line, byte(address>>8))
	line = appendHex2(line, byte(address))
	sum += byte(address >> 8)
	sum += byte(address)

	line = appendHex2(line, byte(typ))
	sum += byte(typ)

	for _, b := range data {
		line = appendHex2(line, b)
		sum += b
	}

	line = appendHex2(line, byte(-int8(sum)))

	_, err := w.Write(line)
	if err != nil {
		return fmt.Errorf("intelhex: write record: %w", err)
	}
	return nil
}

const hexDigits = "0123456789ABCDEF"

func appendHex2(dst []byte, b byte) []byte {
	return append(dst, hexDigits[b>>4], hexDigits[b&0x0f])
}
