package sensors

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GPSConfig configures the NMEA serial receiver.
type GPSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
}

// IMUConfig configures the inertial unit. The driver publishing into
// CachedIMU is deployment-specific; when disabled the NoIMU provider is
// wired instead.
type IMUConfig struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"`
}

// Config is the top-level structure of the sensors YAML file.
type Config struct {
	GPS GPSConfig `yaml:"gps"`
	IMU IMUConfig `yaml:"imu"`
}

// DefaultConfig has every sensor disabled; records then carry the defined
// zero sentinels.
func DefaultConfig() Config {
	return Config{
		GPS: GPSConfig{SerialPort: "/dev/ttyAMA0", BaudRate: 9600},
	}
}

// LoadConfig reads the sensors YAML file. A missing path returns defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("sensors config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("sensors config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("sensors config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.GPS.Enabled {
		if c.GPS.SerialPort == "" {
			return fmt.Errorf("gps enabled without serial_port")
		}
		if c.GPS.BaudRate <= 0 {
			return fmt.Errorf("gps baud_rate must be > 0 (got %d)", c.GPS.BaudRate)
		}
	}
	return nil
}
