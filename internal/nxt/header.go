package nxt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// NXTLOG file header, 16 bytes, never encrypted:
//
//	offset 0  6B  magic "NXTLOG"
//	offset 6  1B  version (1)
//	offset 7  1B  header size (16)
//	offset 8  4B  nonce, little-endian
//	offset 12 4B  reserved, zero
//
// Everything after the header is one continuous keystream: the CSV column
// header line first, then one line per record.
const (
	Magic      = "NXTLOG"
	Version    = 1
	HeaderSize = 16
)

var (
	ErrShortHeader = errors.New("nxt: header too short")
	ErrBadMagic    = errors.New("nxt: invalid log signature")
)

// EncodeHeader builds the 16-byte file header for a nonce.
func EncodeHeader(nonce uint32) [HeaderSize]byte {
	var h [HeaderSize]byte
	copy(h[:], Magic)
	h[6] = Version
	h[7] = HeaderSize
	binary.LittleEndian.PutUint32(h[8:12], nonce)
	return h
}

// ParseHeader validates a file header and extracts the nonce.
func ParseHeader(b []byte) (nonce uint32, err error) {
	if len(b) < HeaderSize {
		return 0, ErrShortHeader
	}
	if string(b[:len(Magic)]) != Magic {
		return 0, ErrBadMagic
	}
	if b[6] != Version {
		return 0, fmt.Errorf("nxt: unsupported version %d", b[6])
	}
	if b[7] != HeaderSize {
		return 0, fmt.Errorf("nxt: unexpected header size %d", b[7])
	}
	return binary.LittleEndian.Uint32(b[8:12]), nil
}
