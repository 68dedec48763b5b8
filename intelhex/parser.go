package intelhex

// Parse reads one Intel HEX record starting at buf[0]. It never allocates,
// never retains state between calls, and never reads past buf[len(buf)-1].
//
// consumed is always <= len(buf). On MissingLine, consumed == len(buf) (the
// caller should wait for more bytes and retry from the same offset). On
// IncompleteLine or CRCError, consumed is the number of bytes the caller
// should skip before retrying. On Success, consumed is the full length of
// the record just parsed and rec describes it.
func Parse(buf []byte) (status ParseStatus, consumed int, rec *Record) {
	n := len(buf)
	if n < headerLength {
		return MissingLine, n, nil
	}

	ll, ok := hex2(buf[1], buf[2])
	if !ok {
		k := findNextColon(buf[1:], n-1)
		if k < 0 {
			return IncompleteLine, n, nil
		}
		return IncompleteLine, k + 1, nil
	}
	if ll > MaxDataLength {
		return DataLengthExceedsAllowed, 0, nil
	}

	expectedLen := headerLength + 2*int(ll) + 2

	if k := findNextColon(buf[1:], n-1); k >= 0 {
		k++ // offset relative to buf[0]
		if k < expectedLen {
			return IncompleteLine, k, nil
		}
	}

	if n < expectedLen {
		return MissingLine, n, nil
	}

	addrHi, ok1 := hex2(buf[3], buf[4])
	addrLo, ok2 := hex2(buf[5], buf[6])
	typ, ok3 := hex2(buf[7], buf[8])
	if !ok1 || !ok2 || !ok3 {
		return IncompleteLine, expectedLen, nil
	}

	sum := ll + addrHi + addrLo + typ

	// Decode the LL payload bytes in place: byte i is written at
	// buf[headerLength+i], always at or behind its source nibble pair
	// buf[headerLength+2i : headerLength+2i+2], so the write never
	// clobbers a pair not yet read. This keeps Data an alias of the
	// caller's buffer instead of a freshly allocated array.
	base := headerLength
	for i := 0; i < int(ll); i++ {
		b, ok := hex2(buf[base+2*i], buf[base+2*i+1])
		if !ok {
			return IncompleteLine, expectedLen, nil
		}
		buf[base+i] = b
		sum += b
	}

	cc, ok := hex2(buf[expectedLen-2], buf[expectedLen-1])
	if !ok {
		return IncompleteLine, expectedLen, nil
	}

	checksum := byte(-int8(sum))
	if checksum != cc {
		return CRCError, expectedLen, nil
	}

	return Success, expectedLen, &Record{
		Length:   ll,
		Address:  uint16(addrHi)<<8 | uint16(addrLo),
		Type:     RecordType(typ),
		Data:     buf[base : base+int(ll) : base+int(ll)],
		Checksum: cc,
	}
}

// findNextColon returns the offset of the next ':' within buf[0:n], or -1 if
// none is present.
func findNextColon(buf []byte, n int) int {
	for i := 0; i < n; i++ {
		if buf[i] == ':' {
			return i
		}
	}
	return -1
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

func hex2(hi, lo byte) (byte, bool) {
	h, ok1 := hexNibble(hi)
	l, ok2 := hexNibble(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}
