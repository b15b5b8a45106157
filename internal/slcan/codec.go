package slcan

import (
	"bytes"
	"strconv"

	"github.com/nxtlog/canlogd/internal/can"
	"github.com/nxtlog/canlogd/internal/metrics"
)

// Codec implements the Lawicel SLCAN ASCII framing used by USB-serial CAN
// adapters:
//
//	tIIIL[DD..]\r  standard data frame (3 hex id digits, 1 length digit)
//	TIIIIIIIIL[DD..]\r  extended data frame (8 hex id digits)
//	rIIIL\r / RIIIIIIIIL\r  remote request frames
//
// Adapter status replies ('\r', '\a', 'z', 'Z') are skipped silently.
type Codec struct{}

// maxLine bounds resync scans: the longest legal frame is
// 'T' + 8 id + 1 len + 16 data + '\r' = 27 bytes.
const maxLine = 32

const upperHex = "0123456789ABCDEF"

// Encode renders one frame in SLCAN ASCII including the CR terminator.
func (Codec) Encode(f can.Frame) []byte {
	out := make([]byte, 0, maxLine)
	var kind byte
	var idDigits int
	switch {
	case f.RTR && f.Extended:
		kind, idDigits = 'R', 8
	case f.RTR:
		kind, idDigits = 'r', 3
	case f.Extended:
		kind, idDigits = 'T', 8
	default:
		kind, idDigits = 't', 3
	}
	out = append(out, kind)
	for shift := (idDigits - 1) * 4; shift >= 0; shift -= 4 {
		out = append(out, upperHex[(f.ID>>shift)&0x0F])
	}
	out = append(out, upperHex[f.DLC&0x0F])
	if !f.RTR {
		for _, b := range f.Data[:f.DLC] {
			out = append(out, upperHex[b>>4], upperHex[b&0x0F])
		}
	}
	return append(out, '\r')
}

// DecodeStream drains complete frames from in and emits them via out.
// Partial frames stay buffered for the next read; malformed input advances
// one byte at a time to resync. Returns nil unless out is never satisfiable.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		data := in.Bytes()
		if len(data) == 0 {
			return nil
		}
		// Drop adapter chatter and garbage before a frame start byte.
		i := bytes.IndexAny(data, "tTrR")
		if i < 0 {
			in.Reset()
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}
		end := bytes.IndexByte(data, '\r')
		if end < 0 {
			if len(data) > maxLine {
				// No terminator within a legal frame length; resync.
				metrics.IncError(metrics.ErrSlcanDecode)
				in.Next(1)
				continue
			}
			return nil // wait for more bytes
		}
		fr, ok := parseFrame(data[:end])
		in.Next(end + 1)
		if !ok {
			metrics.IncError(metrics.ErrSlcanDecode)
			continue
		}
		out(fr)
	}
}

func parseFrame(line []byte) (can.Frame, bool) {
	var f can.Frame
	if len(line) < 1 {
		return f, false
	}
	var idDigits int
	switch line[0] {
	case 't':
		idDigits = 3
	case 'T':
		idDigits, f.Extended = 8, true
	case 'r':
		idDigits, f.RTR = 3, true
	case 'R':
		idDigits, f.Extended, f.RTR = 8, true, true
	default:
		return f, false
	}
	if len(line) < 1+idDigits+1 {
		return f, false
	}
	id, err := strconv.ParseUint(string(line[1:1+idDigits]), 16, 32)
	if err != nil {
		return f, false
	}
	f.ID = uint32(id)
	dlc, err := strconv.ParseUint(string(line[1+idDigits:1+idDigits+1]), 16, 8)
	if err != nil || dlc > can.MaxDataLen {
		return f, false
	}
	f.DLC = uint8(dlc)
	if f.RTR {
		if len(line) != 1+idDigits+1 {
			return f, false
		}
	} else {
		if len(line) != 1+idDigits+1+2*int(dlc) {
			return f, false
		}
		for i := 0; i < int(dlc); i++ {
			b, err := strconv.ParseUint(string(line[1+idDigits+1+2*i:1+idDigits+3+2*i]), 16, 8)
			if err != nil {
				return f, false
			}
			f.Data[i] = byte(b)
		}
	}
	if f.Validate() != nil {
		return f, false
	}
	return f, true
}
