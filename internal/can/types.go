package can

import "fmt"

// SocketCAN flag bits for can_id (same values as <linux/can.h>).
// Used by the socketcan backend when mapping raw can_id words.
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDataLen is the classic CAN payload limit. Logger records always carry
// 8 data columns; bytes beyond DLC stay zero.
const MaxDataLen = 8

// Frame is one observed CAN bus message. Flags are explicit booleans rather
// than bits folded into the identifier; backends map their wire form into
// this shape. Data always has 8 slots, zero-filled beyond DLC — that layout
// is load-bearing for the log format.
type Frame struct {
	ID       uint32
	Extended bool
	RTR      bool
	DLC      uint8
	Data     [MaxDataLen]byte
}

// Validate checks identifier range against the addressing mode and the DLC
// bound. Backends call this before handing frames to the pipeline.
func (f Frame) Validate() error {
	if f.Extended {
		if f.ID > CAN_EFF_MASK {
			return fmt.Errorf("extended id 0x%X exceeds 29 bits", f.ID)
		}
	} else if f.ID > CAN_SFF_MASK {
		return fmt.Errorf("standard id 0x%X exceeds 11 bits", f.ID)
	}
	if f.DLC > MaxDataLen {
		return fmt.Errorf("dlc %d exceeds %d", f.DLC, MaxDataLen)
	}
	return nil
}

// FromRaw builds a Frame from a SocketCAN-style can_id word and payload.
// Bytes beyond dlc are left zero.
func FromRaw(canID uint32, dlc uint8, data []byte) Frame {
	var f Frame
	f.Extended = canID&CAN_EFF_FLAG != 0
	f.RTR = canID&CAN_RTR_FLAG != 0
	if f.Extended {
		f.ID = canID & CAN_EFF_MASK
	} else {
		f.ID = canID & CAN_SFF_MASK
	}
	if dlc > MaxDataLen {
		dlc = MaxDataLen
	}
	f.DLC = dlc
	copy(f.Data[:dlc], data)
	return f
}

// RawID folds flags back into a SocketCAN can_id word.
func (f Frame) RawID() uint32 {
	id := f.ID
	if f.Extended {
		id = (id & CAN_EFF_MASK) | CAN_EFF_FLAG
	} else {
		id &= CAN_SFF_MASK
	}
	if f.RTR {
		id |= CAN_RTR_FLAG
	}
	return id
}
