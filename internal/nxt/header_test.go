package nxt

import (
	"errors"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := EncodeHeader(0x01020304)
	nonce, err := ParseHeader(h[:])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if nonce != 0x01020304 {
		t.Fatalf("nonce mismatch: got %08X", nonce)
	}
	if string(h[:6]) != Magic || h[6] != Version || h[7] != HeaderSize {
		t.Fatalf("unexpected header bytes: % X", h)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	if _, err := ParseHeader([]byte("NXT")); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("short header: got %v", err)
	}
	h := EncodeHeader(1)
	h[0] = 'X'
	if _, err := ParseHeader(h[:]); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("bad magic: got %v", err)
	}
	h = EncodeHeader(1)
	h[6] = 9
	if _, err := ParseHeader(h[:]); err == nil {
		t.Fatal("expected version error")
	}
	h = EncodeHeader(1)
	h[7] = 32
	if _, err := ParseHeader(h[:]); err == nil {
		t.Fatal("expected header size error")
	}
}
