package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nxtlog/canlogd/internal/metrics"
	"github.com/nxtlog/canlogd/internal/sensors"
)

// initSensors loads the sensors YAML and wires the providers. Missing or
// disabled sensors get the no-op providers; records then carry the defined
// zero sentinels.
func initSensors(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (sensors.IMUProvider, sensors.GPSProvider) {
	sc, err := sensors.LoadConfig(cfg.sensorsFile)
	if err != nil {
		metrics.IncError(metrics.ErrSensorRead)
		l.Warn("sensors_config_error", "error", err)
		return sensors.NoIMU{}, sensors.NoGPS{}
	}

	var imu sensors.IMUProvider = sensors.NoIMU{}
	if sc.IMU.Enabled {
		// The inertial driver is deployment-specific; the cache is wired so
		// an external publisher (or a future in-tree driver) feeds records.
		imu = &sensors.CachedIMU{}
		l.Info("imu_enabled", "device", sc.IMU.Device)
	}

	var gps sensors.GPSProvider = sensors.NoGPS{}
	if sc.GPS.Enabled {
		cache := &sensors.CachedGPS{}
		rd, err := sensors.OpenGPS(sc.GPS.SerialPort, sc.GPS.BaudRate, cache)
		if err != nil {
			metrics.IncError(metrics.ErrSensorRead)
			l.Warn("gps_open_error", "device", sc.GPS.SerialPort, "error", err)
		} else {
			l.Info("gps_open", "device", sc.GPS.SerialPort, "baud", sc.GPS.BaudRate)
			gps = cache
			wg.Add(1)
			go func() { defer wg.Done(); rd.Run(ctx) }()
		}
	}
	return imu, gps
}
