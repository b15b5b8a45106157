package slcan

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// SetupChannel puts the adapter into a known state: close any stale
// channel, set the CAN bitrate (Sn code, 0..8 per Lawicel; 6 = 500k) and
// open the channel.
func SetupChannel(p Port, bitrateCode int) error {
	if bitrateCode < 0 || bitrateCode > 8 {
		return fmt.Errorf("slcan: bitrate code %d out of range", bitrateCode)
	}
	for _, cmd := range []string{"C\r", fmt.Sprintf("S%d\r", bitrateCode), "O\r"} {
		if _, err := p.Write([]byte(cmd)); err != nil {
			return fmt.Errorf("slcan: setup %q: %w", cmd, err)
		}
	}
	return nil
}

// TeardownChannel closes the adapter channel, best effort.
func TeardownChannel(p Port) {
	_, _ = p.Write([]byte("C\r"))
}
