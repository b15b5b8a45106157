package nxt

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// KeySize is the static cipher key length in bytes.
const KeySize = 16

// Key is the static cipher key shared between logger and decoder tools.
type Key [KeySize]byte

// DefaultKey is the key baked into the shipped decoder tools. Deployments
// that need a private key override it via CANLOG_KEY or a key file, and
// must ship a matching decoder.
var DefaultKey = Key{
	0x3A, 0x7C, 0xB5, 0x19,
	0xE4, 0x58, 0xC1, 0x0D,
	0x92, 0xAF, 0x63, 0x27,
	0xFE, 0x34, 0x88, 0x4B,
}

// LoadKey resolves the cipher key: the CANLOG_KEY environment variable
// (hex) wins, then the key file at path (hex, whitespace-trimmed), then
// DefaultKey. An empty path skips the file lookup.
func LoadKey(path string) (Key, error) {
	if env := strings.TrimSpace(os.Getenv("CANLOG_KEY")); env != "" {
		return parseKeyHex(env, "CANLOG_KEY")
	}
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return parseKeyHex(strings.TrimSpace(string(data)), path)
		} else if !os.IsNotExist(err) {
			return Key{}, fmt.Errorf("read key file %s: %w", path, err)
		}
	}
	return DefaultKey, nil
}

func parseKeyHex(s, source string) (Key, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("decode key from %s: %w", source, err)
	}
	if len(raw) != KeySize {
		return Key{}, fmt.Errorf("key from %s: got %d bytes, want %d", source, len(raw), KeySize)
	}
	var k Key
	copy(k[:], raw)
	return k, nil
}
