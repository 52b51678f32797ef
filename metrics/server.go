// Package metrics exposes the Prometheus collectors of a helper and the HTTP
// server that serves them.
package metrics

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var invalidNamespaceChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// MetricsServer owns a dedicated Prometheus registry and serves it on /metrics.
type MetricsServer struct {
	registry   *prometheus.Registry
	registerer prometheus.Registerer
	srv        *http.Server
}

// New creates a metrics server listening on addr. Collectors registered through
// Registerer are prefixed with namespace.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	prefix := invalidNamespaceChars.ReplaceAllString(namespace, "_")
	m := &MetricsServer{
		registry:   registry,
		registerer: prometheus.WrapRegistererWithPrefix(prefix+"_", registry),
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	m.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m, nil
}

// Registerer returns the namespaced registerer for application collectors.
func (m *MetricsServer) Registerer() prometheus.Registerer {
	return m.registerer
}

// Gatherer exposes the underlying registry, mainly for tests.
func (m *MetricsServer) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
