package sensors

import (
	"sync/atomic"

	"github.com/nxtlog/canlogd/internal/record"
)

// IMUProvider yields the most recent inertial sample, or Valid=false when
// the sensor has no data. Implementations must be O(1) and non-blocking:
// the logger calls them on the frame ingest path.
type IMUProvider interface {
	Sample() record.IMUSample
}

// GPSProvider yields the most recent fix, or Valid=false without one.
// Same non-blocking requirement as IMUProvider.
type GPSProvider interface {
	Fix() record.GPSFix
}

// NoIMU is the provider used when the sensor is absent or disabled.
type NoIMU struct{}

func (NoIMU) Sample() record.IMUSample { return record.IMUSample{} }

// NoGPS is the provider used when the receiver is absent or disabled.
type NoGPS struct{}

func (NoGPS) Fix() record.GPSFix { return record.GPSFix{} }

// CachedIMU holds the last sample published by a driver goroutine; Sample
// is a single atomic load.
type CachedIMU struct {
	v atomic.Pointer[record.IMUSample]
}

func (c *CachedIMU) Update(s record.IMUSample) { c.v.Store(&s) }

func (c *CachedIMU) Sample() record.IMUSample {
	if p := c.v.Load(); p != nil {
		return *p
	}
	return record.IMUSample{}
}

// CachedGPS holds the last fix published by the NMEA reader goroutine.
type CachedGPS struct {
	v atomic.Pointer[record.GPSFix]
}

func (c *CachedGPS) Update(f record.GPSFix) { c.v.Store(&f) }

func (c *CachedGPS) Fix() record.GPSFix {
	if p := c.v.Load(); p != nil {
		return *p
	}
	return record.GPSFix{}
}

// Invalidate marks the fix lost without discarding position fields; the
// encoder's zero-fallback applies while Valid is false.
func (c *CachedGPS) Invalidate() {
	if p := c.v.Load(); p != nil {
		f := *p
		f.Valid = false
		c.v.Store(&f)
	}
}
