package record

import (
	"time"

	"github.com/nxtlog/canlogd/internal/can"
)

// IMUSample is one inertial reading attached to a record at encode time.
// Valid=false means the sensor had no data; the encoder emits the defined
// zero sentinels instead of blanks.
type IMUSample struct {
	LinearAccelX float64
	LinearAccelY float64
	LinearAccelZ float64
	Gravity      float64
	Valid        bool
}

// GPSFix is one GPS observation. Valid=false (no fix) makes the encoder
// emit "0" for all eight GPS columns.
type GPSFix struct {
	Lat    float64
	Lon    float64
	Alt    float64
	Speed  float64
	Course float64
	Sats   int
	HDOP   float64
	Time   string
	Valid  bool
}

// Record is the unit written to one encrypted CSV line. Wall carries both
// the formatted timestamp and the UnixTime/Microseconds columns.
type Record struct {
	Wall  time.Time
	Frame can.Frame
	IMU   IMUSample
	GPS   GPSFix
}
