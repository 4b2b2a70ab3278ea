package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// Keyspace is the part of the store the registry reports on
type Keyspace interface {
	Len() int
	Expired() uint64
}

// Registry collects server metrics. Prometheus series live in a private set, so
// several registries (one per engine in tests) never collide
type Registry struct {
	set         *vm.Set
	connections *vm.Counter
	unknown     *vm.Counter
	ops         gometrics.Meter
	clients     atomic.Int64
	started     time.Time
}

// New creates a registry with the connection series registered
func New() *Registry {
	r := &Registry{
		set:     vm.NewSet(),
		ops:     gometrics.NewMeter(),
		started: time.Now(),
	}

	r.connections = r.set.GetOrCreateCounter("moonkv_connections_total")
	r.unknown = r.set.GetOrCreateCounter("moonkv_unknown_commands_total")
	r.set.NewGauge("moonkv_connected_clients", func() float64 {
		return float64(r.clients.Load())
	})

	return r
}

// RegisterKeyspace exposes the size of the keyspace and the expired keys counter.
// It must be called at most once per registry
func (r *Registry) RegisterKeyspace(k Keyspace) {
	r.set.NewGauge("moonkv_keys", func() float64 {
		return float64(k.Len())
	})
	r.set.NewGauge("moonkv_expired_keys_total", func() float64 {
		return float64(k.Expired())
	})
}

// Command records one executed command. name must be a registered command
func (r *Registry) Command(name string) {
	r.set.GetOrCreateCounter(series("moonkv_commands_total", name)).Inc()
	r.ops.Mark(1)
}

// CommandError records a command that replied with an error
func (r *Registry) CommandError(name string) {
	r.set.GetOrCreateCounter(series("moonkv_command_errors_total", name)).Inc()
}

// UnknownCommand records a request for a command that does not exist.
// Names are not used as labels to keep the series count bounded
func (r *Registry) UnknownCommand() {
	r.unknown.Inc()
	r.ops.Mark(1)
}

func (r *Registry) ClientConnected() {
	r.connections.Inc()
	r.clients.Add(1)
}

func (r *Registry) ClientDisconnected() {
	r.clients.Add(-1)
}

// ConnectedClients returns the number of open connections
func (r *Registry) ConnectedClients() int64 {
	return r.clients.Load()
}

// TotalConnections returns the number of accepted connections since start
func (r *Registry) TotalConnections() uint64 {
	return r.connections.Get()
}

// TotalCommands returns the number of processed commands since start
func (r *Registry) TotalCommands() int64 {
	return r.ops.Count()
}

// OpsPerSec returns the one-minute moving rate of processed commands
func (r *Registry) OpsPerSec() float64 {
	return r.ops.Rate1()
}

// Uptime returns the time since the registry was created
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.started)
}

// WritePrometheus writes the registry series followed by go runtime and process metrics
func (r *Registry) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
	vm.WritePrometheus(w, true)
}

// Stop releases the meter ticker
func (r *Registry) Stop() {
	r.ops.Stop()
}

// Serve exposes /metrics on addr until ctx is done
func (r *Registry) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	log.Info("metrics endpoint listening", zap.String("address", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func series(name, cmd string) string {
	return fmt.Sprintf("%s{cmd=%q}", name, strings.ToLower(cmd))
}
