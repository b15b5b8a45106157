package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	logDir          string
	keyFile         string
	maxFileBytes    int64
	flushEvery      int
	forceFlushFirst int
	liveCapacity    int
	queueSize       int
	hubBuffer       int
	hubPolicy       string
	activityTimeout time.Duration
	probeInterval   time.Duration
	busRetry        time.Duration
	listenAddr      string
	metricsAddr     string
	logMetricsEvery time.Duration
	backend         string
	canIf           string
	serialDev       string
	baud            int
	slcanBitrate    int
	serialReadTO    time.Duration
	sensorsFile     string
	mdnsEnable      bool
	mdnsName        string
	logFormat       string
	logLevel        string
	decodeFile      string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	logDir := flag.String("log-dir", "/mnt/sd/logs", "Log directory on the removable medium")
	keyFile := flag.String("key-file", "", "Cipher key file (hex, 16 bytes); empty uses CANLOG_KEY or the built-in key")
	maxFileSize := flag.Int64("max-file-size", 10*1024*1024, "Rollover threshold in bytes (0 = unlimited)")
	flushEvery := flag.Int("flush-every", 20, "Records per durable flush")
	forceFlushFirst := flag.Int("force-flush-first", 5, "First N records flushed individually after file create")
	liveCapacity := flag.Int("live-capacity", 200, "Live ring buffer capacity (frames)")
	queueSize := flag.Int("queue-size", 256, "Ingest-to-persist record queue depth")
	hubBuf := flag.Int("hub-buffer", 512, "Per-consumer hub buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	activityTO := flag.Duration("activity-timeout", 2*time.Second, "Quiet period before leaving the actively-logging state")
	probeEvery := flag.Duration("probe-interval", 2*time.Second, "Storage presence re-probe interval")
	busRetry := flag.Duration("bus-retry", 5*time.Second, "Bus reinitialization retry interval")
	listen := flag.String("listen", ":8080", "HTTP listen address (live view + file browser)")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	backend := flag.String("backend", "socketcan", "CAN backend: socketcan|slcan|none")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "SLCAN serial device path")
	baud := flag.Int("baud", 115200, "SLCAN serial baud rate")
	slcanBitrate := flag.Int("slcan-bitrate", 6, "SLCAN bus bitrate code Sn (0..8; 6 = 500k)")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "SLCAN serial read timeout")
	sensorsFile := flag.String("sensors-config", "", "Sensors YAML file (GPS/IMU collaborators)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the HTTP endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default canlogd-<hostname>)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	decodeFile := flag.String("decode", "", "Decrypt the given .nxt file to stdout and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.logDir = *logDir
	cfg.keyFile = *keyFile
	cfg.maxFileBytes = *maxFileSize
	cfg.flushEvery = *flushEvery
	cfg.forceFlushFirst = *forceFlushFirst
	cfg.liveCapacity = *liveCapacity
	cfg.queueSize = *queueSize
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.activityTimeout = *activityTO
	cfg.probeInterval = *probeEvery
	cfg.busRetry = *busRetry
	cfg.listenAddr = *listen
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.slcanBitrate = *slcanBitrate
	cfg.serialReadTO = *serialReadTO
	cfg.sensorsFile = *sensorsFile
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.decodeFile = *decodeFile

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or directories – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan", "slcan", "none":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.logDir == "" {
		return errors.New("log-dir must not be empty")
	}
	if c.maxFileBytes < 0 {
		return fmt.Errorf("max-file-size must be >= 0 (got %d)", c.maxFileBytes)
	}
	if c.flushEvery <= 0 {
		return fmt.Errorf("flush-every must be > 0 (got %d)", c.flushEvery)
	}
	if c.forceFlushFirst < 0 {
		return fmt.Errorf("force-flush-first must be >= 0 (got %d)", c.forceFlushFirst)
	}
	if c.liveCapacity <= 0 {
		return fmt.Errorf("live-capacity must be > 0 (got %d)", c.liveCapacity)
	}
	if c.queueSize <= 0 {
		return fmt.Errorf("queue-size must be > 0 (got %d)", c.queueSize)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.activityTimeout <= 0 {
		return errors.New("activity-timeout must be > 0")
	}
	if c.probeInterval <= 0 {
		return errors.New("probe-interval must be > 0")
	}
	if c.busRetry <= 0 {
		return errors.New("bus-retry must be > 0")
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.slcanBitrate < 0 || c.slcanBitrate > 8 {
		return fmt.Errorf("slcan-bitrate must be in 0..8 (got %d)", c.slcanBitrate)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	return nil
}

// applyEnvOverrides maps CANLOG_* environment variables to config fields
// unless a corresponding flag was explicitly set. Boolean & numeric parsing is lax:
// empty values ignored. Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, dst *int, minOK int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= minOK {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}

	str("log-dir", "CANLOG_DIR", &c.logDir)
	str("key-file", "CANLOG_KEY_FILE", &c.keyFile)
	if _, ok := set["max-file-size"]; !ok {
		if v, ok := get("CANLOG_MAX_FILE_SIZE"); ok && v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				c.maxFileBytes = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANLOG_MAX_FILE_SIZE: %w", err)
			}
		}
	}
	num("flush-every", "CANLOG_FLUSH_EVERY", &c.flushEvery, 1)
	num("force-flush-first", "CANLOG_FORCE_FLUSH_FIRST", &c.forceFlushFirst, 0)
	num("live-capacity", "CANLOG_LIVE_CAPACITY", &c.liveCapacity, 1)
	num("queue-size", "CANLOG_QUEUE_SIZE", &c.queueSize, 1)
	num("hub-buffer", "CANLOG_HUB_BUFFER", &c.hubBuffer, 1)
	str("hub-policy", "CANLOG_HUB_POLICY", &c.hubPolicy)
	dur("activity-timeout", "CANLOG_ACTIVITY_TIMEOUT", &c.activityTimeout)
	dur("probe-interval", "CANLOG_PROBE_INTERVAL", &c.probeInterval)
	dur("bus-retry", "CANLOG_BUS_RETRY", &c.busRetry)
	str("listen", "CANLOG_LISTEN", &c.listenAddr)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CANLOG_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	dur("log-metrics-interval", "CANLOG_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	str("backend", "CANLOG_BACKEND", &c.backend)
	str("can-if", "CANLOG_IF", &c.canIf)
	str("serial", "CANLOG_SERIAL", &c.serialDev)
	num("baud", "CANLOG_BAUD", &c.baud, 1)
	num("slcan-bitrate", "CANLOG_SLCAN_BITRATE", &c.slcanBitrate, 0)
	dur("serial-read-timeout", "CANLOG_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("sensors-config", "CANLOG_SENSORS_CONFIG", &c.sensorsFile)
	str("log-format", "CANLOG_LOG_FORMAT", &c.logFormat)
	str("log-level", "CANLOG_LOG_LEVEL", &c.logLevel)
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CANLOG_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	str("mdns-name", "CANLOG_MDNS_NAME", &c.mdnsName)
	return firstErr
}
