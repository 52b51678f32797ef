package api

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/ruteri/mpc-helper/metrics"
)

// HTTPServerConfig contains all configuration parameters for the HTTP server.
type HTTPServerConfig struct {
	// ListenAddr is the address and port the HTTP server will listen on.
	ListenAddr string

	// Metrics is served on MetricsAddr by the server owning it. Several servers
	// of one process share the same instance; only one of them sets MetricsAddr.
	Metrics     *metrics.MetricsServer
	MetricsAddr string

	// EnablePprof enables the pprof debugging API when true.
	EnablePprof bool

	// TLS enables HTTPS. Without it the server speaks HTTP/1.1 and cleartext HTTP/2.
	TLS *tls.Config

	// Log is the structured logger for server operations.
	Log *slog.Logger

	// DrainDuration is the time to wait after marking server not ready
	// before shutting down, allowing load balancers to detect the change.
	DrainDuration time.Duration

	// GracefulShutdownDuration is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	GracefulShutdownDuration time.Duration

	// ReadHeaderTimeout bounds reading request headers. Bodies are streams of
	// unbounded duration and have no read timeout.
	ReadHeaderTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of
	// the response. Zero means no timeout.
	WriteTimeout time.Duration
}
