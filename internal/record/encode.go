package record

import (
	"strconv"
	"strings"
)

// columns is the fixed CSV schema. Order and spelling are shared with the
// externally shipped decoder tools; the header line and AppendLine must
// stay in lockstep (enforced by test).
var columns = []string{
	"Timestamp", "UnixTime", "Microseconds",
	"ID", "Extended", "RTR", "DLC",
	"Data0", "Data1", "Data2", "Data3", "Data4", "Data5", "Data6", "Data7",
	"LinearAccelX", "LinearAccelY", "LinearAccelZ", "Gravity",
	"GPS_Lat", "GPS_Lon", "GPS_Alt", "GPS_Speed", "GPS_Course",
	"GPS_Sats", "GPS_HDOP", "GPS_Time",
}

// Columns returns the schema column names in encode order.
func Columns() []string {
	out := make([]string, len(columns))
	copy(out, columns)
	return out
}

// HeaderLine is the plaintext CSV header line (no newline).
func HeaderLine() string { return strings.Join(columns, ",") }

const upperHex = "0123456789ABCDEF"

// AppendLine appends the CSV encoding of r to dst and returns the extended
// slice. No trailing newline; the file writer appends and encrypts the
// terminator. Downstream decoders parse by position, so decimal place
// counts are fixed per field, the identifier is uppercase hex without a
// prefix, and all 8 data columns are always present ("00" beyond DLC).
func (r *Record) AppendLine(dst []byte) []byte {
	dst = r.Wall.AppendFormat(dst, "2006-01-02 15:04:05")
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, r.Wall.Unix(), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(r.Wall.Nanosecond()/1000), 10)
	dst = append(dst, ',')
	dst = appendUpperHex(dst, r.Frame.ID)
	dst = append(dst, ',')
	dst = appendBool01(dst, r.Frame.Extended)
	dst = append(dst, ',')
	dst = appendBool01(dst, r.Frame.RTR)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(r.Frame.DLC), 10)
	for _, b := range r.Frame.Data {
		dst = append(dst, ',', upperHex[b>>4], upperHex[b&0x0F])
	}

	if r.IMU.Valid {
		dst = appendFixed(dst, r.IMU.LinearAccelX, 4)
		dst = appendFixed(dst, r.IMU.LinearAccelY, 4)
		dst = appendFixed(dst, r.IMU.LinearAccelZ, 4)
		dst = appendFixed(dst, r.IMU.Gravity, 4)
	} else {
		for i := 0; i < 4; i++ {
			dst = append(dst, ",0.0000"...)
		}
	}

	if r.GPS.Valid {
		dst = appendFixed(dst, r.GPS.Lat, 6)
		dst = appendFixed(dst, r.GPS.Lon, 6)
		dst = appendFixed(dst, r.GPS.Alt, 2)
		dst = appendFixed(dst, r.GPS.Speed, 2)
		dst = appendFixed(dst, r.GPS.Course, 2)
		dst = append(dst, ',')
		dst = strconv.AppendInt(dst, int64(r.GPS.Sats), 10)
		dst = appendFixed(dst, r.GPS.HDOP, 2)
		dst = append(dst, ',')
		dst = append(dst, sanitizeField(r.GPS.Time)...)
	} else {
		for i := 0; i < 8; i++ {
			dst = append(dst, ",0"...)
		}
	}
	return dst
}

// EncodeLine is the allocation-per-call convenience form of AppendLine.
func (r *Record) EncodeLine() []byte { return r.AppendLine(nil) }

func appendBool01(dst []byte, v bool) []byte {
	if v {
		return append(dst, '1')
	}
	return append(dst, '0')
}

func appendFixed(dst []byte, v float64, prec int) []byte {
	dst = append(dst, ',')
	return strconv.AppendFloat(dst, v, 'f', prec, 64)
}

// sanitizeField strips CSV structure characters from free-text sensor
// fields (GPS time text) so one record always stays one line with a fixed
// column count.
func sanitizeField(s string) string {
	if s == "" {
		return "0"
	}
	if !strings.ContainsAny(s, ",\r\n") {
		return s
	}
	r := strings.NewReplacer(",", ";", "\r", " ", "\n", " ")
	return r.Replace(s)
}

// appendUpperHex writes v as minimal-width uppercase hex, no 0x prefix.
func appendUpperHex(dst []byte, v uint32) []byte {
	var tmp [8]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = upperHex[v&0x0F]
		v >>= 4
		if v == 0 {
			break
		}
	}
	return append(dst, tmp[i:]...)
}
