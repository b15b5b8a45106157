package main

import (
	"log/slog"
	"os"

	"github.com/nxtlog/canlogd/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.Setup(format, level, os.Stderr).With("app", "canlogd")
	logging.Set(l)
	return l
}
