package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/nxtlog/canlogd/internal/logger"
)

// mDNS advertisement so dashboards on the vehicle WiFi find the logger
// without a fixed address.
const mdnsServiceType = "_canlog._tcp"

func startMDNS(ctx context.Context, cfg *appConfig, ctl *logger.Logger, port int) (func(), error) {
	instance := cfg.mdnsName
	if instance == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "logger"
		}
		instance = "canlogd-" + host
	}
	// The boot identifier lets a poller that rediscovers the service tell a
	// restart (live sequence reset) from a network blip.
	txt := []string{
		"backend=" + cfg.backend,
		"version=" + version,
		fmt.Sprintf("boot=%d", ctl.Boot()),
		"live=/live",
		"files=/files",
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	var once sync.Once
	stop := func() {
		once.Do(func() {
			svc.Shutdown()
			time.Sleep(50 * time.Millisecond)
		})
	}
	go func() { <-ctx.Done(); stop() }()
	return stop, nil
}
