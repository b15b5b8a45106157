package nxt

import (
	"fmt"
	"io"
	"os"
)

// Reader streams the decrypted payload of an NXTLOG file. The 16-byte
// header is consumed and validated on construction; every byte read after
// that advances the keystream, so reads must be sequential from the start.
type Reader struct {
	src   io.Reader
	ciph  *Cipher
	nonce uint32
}

// NewReader validates the header on src and seeds the keystream from its
// nonce.
func NewReader(src io.Reader, key Key) (*Reader, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(src, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrShortHeader
		}
		return nil, fmt.Errorf("nxt: read header: %w", err)
	}
	nonce, err := ParseHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	return &Reader{src: src, ciph: NewCipher(nonce, key), nonce: nonce}, nil
}

// Nonce returns the per-file nonce from the header.
func (r *Reader) Nonce() uint32 { return r.nonce }

// Read yields decrypted payload bytes.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.ciph.XORKeyStream(p[:n])
	}
	return n, err
}

// DecodeFile streams the decrypted CSV payload of path to w.
func DecodeFile(path string, key Key, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("nxt: open %s: %w", path, err)
	}
	defer f.Close()
	r, err := NewReader(f, key)
	if err != nil {
		return fmt.Errorf("nxt: %s: %w", path, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("nxt: decode %s: %w", path, err)
	}
	return nil
}
