//go:build !linux

package socketcan

// SocketCAN requires linux; cmd/canlogd falls back to an error at backend
// selection on other platforms.
