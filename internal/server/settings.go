package server

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/bedtime/internal/config"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort matches the original sync server.
	DefaultPort = 3001
	// DefaultMaxBodyBytes limits request payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	// DefaultReadHeaderTimeout guards hung clients.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
	// DefaultHeartbeat is the SSE comment interval.
	DefaultHeartbeat = 30 * time.Second
	// DefaultWriteWait bounds a single push-channel write.
	DefaultWriteWait = 10 * time.Second
)

// Settings captures runtime configuration for the store's HTTP server.
// Push channels stay open indefinitely, so there is no whole-response
// write timeout; WriteWait bounds each push message instead.
type Settings struct {
	Host              string
	Port              int
	MaxBodyBytes      int64
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	Heartbeat         time.Duration
	WriteWait         time.Duration
}

// SettingsFromConfig builds Settings from the loaded configuration, which
// already carries the BEDTIME_HOST and BEDTIME_PORT overrides.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		Host: DefaultHost,
		Port: DefaultPort,
	}
	if cfg != nil {
		if host := strings.TrimSpace(cfg.Server.Host); host != "" {
			settings.Host = host
		}
		if isValidPort(cfg.Server.Port) {
			settings.Port = cfg.Server.Port
		}
		settings.MaxBodyBytes = cfg.Server.MaxBodyBytes
	}
	settings.normalize()
	return settings
}

// normalize fills zero values. Port 0 is kept so tests can bind any free port.
func (s *Settings) normalize() {
	if s == nil {
		return
	}
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadHeaderTimeout <= 0 {
		s.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.Heartbeat <= 0 {
		s.Heartbeat = DefaultHeartbeat
	}
	if s.WriteWait <= 0 {
		s.WriteWait = DefaultWriteWait
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
