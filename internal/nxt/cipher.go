package nxt

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// Keystream generator constants. These are the standard linear-congruential
// parameters; together with the nonce whitener they define the on-disk
// format shared with externally shipped decoder tools. Changing any of them
// breaks every existing log file.
const (
	lcgMul        = 1664525
	lcgAdd        = 1013904223
	nonceWhitener = 0xA5A5A5A5
)

// Cipher produces the NXTLOG keystream from a per-file nonce and a 16-byte
// static key. XOR with the keystream both encrypts and decrypts. This is a
// lightweight obfuscation layer, not cryptographically secure; treat the
// output as tamper-evident at best.
//
// State advances exactly one step per payload byte and is not seekable:
// decrypting mid-file requires replaying the keystream from byte 0.
type Cipher struct {
	state uint32
	key   Key
}

// NewCipher seeds the keystream. Same nonce and key always yield the same
// byte sequence.
func NewCipher(nonce uint32, key Key) *Cipher {
	s := nonce ^ nonceWhitener
	for _, kb := range key {
		s = s*lcgMul + lcgAdd + uint32(kb)
	}
	return &Cipher{state: s, key: key}
}

// NextByte advances the state and returns the next keystream byte.
func (c *Cipher) NextByte() byte {
	c.state = c.state*lcgMul + lcgAdd
	return byte(c.state>>24) ^ c.key[c.state&0x0F]
}

// XORKeyStream obfuscates (or restores) buf in place, consuming one
// keystream byte per buffer byte.
func (c *Cipher) XORKeyStream(buf []byte) {
	for i := range buf {
		buf[i] ^= c.NextByte()
	}
}

// NewNonce picks a per-file nonce from the system random source mixed with
// the current clock. Nonce reuse under the same key leaks plaintext XOR, so
// the mix keeps collisions improbable even on platforms with a weak
// entropy pool at boot.
func NewNonce() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint32(b[:]) ^ uint32(time.Now().UnixNano())
}
