package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/nxtlog/canlogd/internal/logging"
	"github.com/nxtlog/canlogd/internal/metrics"
	"github.com/nxtlog/canlogd/internal/record"
)

// knotsToKmh converts RMC ground speed to the km/h unit of the GPS_Speed
// column.
const knotsToKmh = 1.852

// GPSReader drains NMEA sentences from a serial receiver and publishes the
// merged fix into a CachedGPS. RMC supplies position, speed, course and
// time; GGA supplies altitude, satellite count and HDOP.
type GPSReader struct {
	cache *CachedGPS
	src   io.ReadCloser

	// fix accumulates across sentences; only the reader goroutine touches it.
	fix record.GPSFix
}

// OpenGPS opens the serial receiver and returns a reader ready to Run.
func OpenGPS(device string, baud int, cache *CachedGPS) (*GPSReader, error) {
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud, ReadTimeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("gps open %s: %w", device, err)
	}
	return &GPSReader{cache: cache, src: port}, nil
}

// NewGPSReader wraps an arbitrary sentence source (tests).
func NewGPSReader(src io.ReadCloser, cache *CachedGPS) *GPSReader {
	return &GPSReader{cache: cache, src: src}
}

// Run consumes sentences until ctx is cancelled or the port dies. The fix
// is invalidated on exit so records fall back to zero sentinels.
func (g *GPSReader) Run(ctx context.Context) {
	defer g.cache.Invalidate()
	defer g.src.Close()
	sc := bufio.NewScanner(g.src)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := g.handleSentence(line); err != nil {
			metrics.IncError(metrics.ErrSensorRead)
			logging.L().Debug("gps_sentence_rejected", "error", err)
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		metrics.IncError(metrics.ErrSensorRead)
		logging.L().Warn("gps_read_error", "error", err)
	}
}

func (g *GPSReader) handleSentence(line string) error {
	body, err := checkSentence(line)
	if err != nil {
		return err
	}
	fields := strings.Split(body, ",")
	if len(fields) == 0 {
		return fmt.Errorf("empty sentence")
	}
	talker := fields[0]
	switch {
	case strings.HasSuffix(talker, "RMC"):
		err = g.applyRMC(fields)
	case strings.HasSuffix(talker, "GGA"):
		err = g.applyGGA(fields)
	default:
		return nil // other sentence types carry nothing we log
	}
	if err != nil {
		return err
	}
	g.cache.Update(g.fix)
	return nil
}

// checkSentence strips "$...*hh" framing and verifies the XOR checksum.
func checkSentence(line string) (string, error) {
	if !strings.HasPrefix(line, "$") {
		return "", fmt.Errorf("missing $ prefix")
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 || star+3 > len(line) {
		return "", fmt.Errorf("missing checksum")
	}
	body := line[1:star]
	want, err := strconv.ParseUint(line[star+1:star+3], 16, 8)
	if err != nil {
		return "", fmt.Errorf("bad checksum field: %w", err)
	}
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	if sum != byte(want) {
		return "", fmt.Errorf("checksum mismatch: got %02X want %02X", sum, want)
	}
	return body, nil
}

// applyRMC handles xxRMC: time, status, lat, NS, lon, EW, speed(knots),
// course, date, ...
func (g *GPSReader) applyRMC(f []string) error {
	if len(f) < 10 {
		return fmt.Errorf("short RMC")
	}
	if f[2] != "A" { // V = void, no fix
		g.fix.Valid = false
		return nil
	}
	lat, err := parseCoord(f[3], f[4])
	if err != nil {
		return err
	}
	lon, err := parseCoord(f[5], f[6])
	if err != nil {
		return err
	}
	g.fix.Lat = lat
	g.fix.Lon = lon
	if f[7] != "" {
		if kn, err := strconv.ParseFloat(f[7], 64); err == nil {
			g.fix.Speed = kn * knotsToKmh
		}
	}
	if f[8] != "" {
		if crs, err := strconv.ParseFloat(f[8], 64); err == nil {
			g.fix.Course = crs
		}
	}
	g.fix.Time = formatNMEATime(f[1])
	g.fix.Valid = true
	return nil
}

// applyGGA handles xxGGA: time, lat, NS, lon, EW, quality, sats, hdop,
// alt, ...
func (g *GPSReader) applyGGA(f []string) error {
	if len(f) < 10 {
		return fmt.Errorf("short GGA")
	}
	if f[7] != "" {
		if n, err := strconv.Atoi(f[7]); err == nil {
			g.fix.Sats = n
		}
	}
	if f[8] != "" {
		if v, err := strconv.ParseFloat(f[8], 64); err == nil {
			g.fix.HDOP = v
		}
	}
	if f[9] != "" {
		if v, err := strconv.ParseFloat(f[9], 64); err == nil {
			g.fix.Alt = v
		}
	}
	return nil
}

// parseCoord converts ddmm.mmmm / dddmm.mmmm plus hemisphere to signed
// decimal degrees.
func parseCoord(val, hemi string) (float64, error) {
	if val == "" || hemi == "" {
		return 0, fmt.Errorf("empty coordinate")
	}
	dot := strings.IndexByte(val, '.')
	if dot < 3 {
		return 0, fmt.Errorf("malformed coordinate %q", val)
	}
	deg, err := strconv.ParseFloat(val[:dot-2], 64)
	if err != nil {
		return 0, fmt.Errorf("coordinate degrees %q: %w", val, err)
	}
	mins, err := strconv.ParseFloat(val[dot-2:], 64)
	if err != nil {
		return 0, fmt.Errorf("coordinate minutes %q: %w", val, err)
	}
	out := deg + mins/60
	switch hemi {
	case "S", "W":
		out = -out
	case "N", "E":
	default:
		return 0, fmt.Errorf("hemisphere %q", hemi)
	}
	return out, nil
}

// formatNMEATime turns hhmmss(.sss) into hh:mm:ss for the GPS_Time column.
func formatNMEATime(t string) string {
	if len(t) < 6 {
		return t
	}
	return t[0:2] + ":" + t[2:4] + ":" + t[4:6]
}
