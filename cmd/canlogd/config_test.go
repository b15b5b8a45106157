package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		logDir:          "/tmp/logs",
		maxFileBytes:    10 * 1024 * 1024,
		flushEvery:      20,
		forceFlushFirst: 5,
		liveCapacity:    200,
		queueSize:       256,
		hubBuffer:       512,
		hubPolicy:       "drop",
		activityTimeout: 2 * time.Second,
		probeInterval:   2 * time.Second,
		busRetry:        5 * time.Second,
		listenAddr:      ":8080",
		backend:         "socketcan",
		canIf:           "can0",
		serialDev:       "/dev/null",
		baud:            115200,
		slcanBitrate:    6,
		serialReadTO:    50 * time.Millisecond,
		logFormat:       "text",
		logLevel:        "info",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"emptyLogDir", func(c *appConfig) { c.logDir = "" }},
		{"negMaxFileSize", func(c *appConfig) { c.maxFileBytes = -1 }},
		{"badFlushEvery", func(c *appConfig) { c.flushEvery = 0 }},
		{"negForceFlush", func(c *appConfig) { c.forceFlushFirst = -1 }},
		{"badLiveCap", func(c *appConfig) { c.liveCapacity = 0 }},
		{"badQueue", func(c *appConfig) { c.queueSize = 0 }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badActivityTO", func(c *appConfig) { c.activityTimeout = 0 }},
		{"badProbe", func(c *appConfig) { c.probeInterval = 0 }},
		{"badBusRetry", func(c *appConfig) { c.busRetry = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badBitrate", func(c *appConfig) { c.slcanBitrate = 9 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
	}
	for _, tc := range tests {
		base := validConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
