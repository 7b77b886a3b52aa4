// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package healthcheck serves liveness and readiness probes for the
// long-running trigger services.
package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Check reports whether a dependency the service needs is usable.
type Check func(ctx context.Context) error

type Config struct {
	Port int `mapstructure:"port"`
	// CheckTimeout bounds each readiness check.
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
}

func DefaultConfig() Config {
	return Config{Port: 8090, CheckTimeout: 2 * time.Second}
}

// Response is the probe body. Checks lists failing readiness checks only.
type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type Server struct {
	cfg    Config
	status atomic.Int32
	ready  atomic.Bool

	mu     sync.RWMutex
	checks map[string]Check

	server *http.Server
}

func NewServer(cfg Config) *Server {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	return &Server{cfg: cfg, checks: map[string]Check{}}
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health status updated", slog.String("status", status.String()))
}

func (s *Server) Status() Status {
	return Status(s.status.Load())
}

func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	slog.Debug("Ready status updated", slog.Bool("ready", ready))
}

// AddCheck registers a named readiness check. Every check must pass, along
// with SetReady(true), before /readyz reports ready.
func (s *Server) AddCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// failingChecks runs every registered check and returns the failures.
func (s *Server) failingChecks(ctx context.Context) map[string]string {
	s.mu.RLock()
	checks := maps.Clone(s.checks)
	s.mu.RUnlock()

	var (
		mu     sync.Mutex
		failed map[string]string
		wg     sync.WaitGroup
	)
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
			defer cancel()
			if err := checks[name](cctx); err != nil {
				mu.Lock()
				defer mu.Unlock()
				if failed == nil {
					failed = map[string]string{}
				}
				failed[name] = err.Error()
			}
		}()
	}
	wg.Wait()
	return failed
}

// Handler serves /healthz, /livez and /readyz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		st := s.Status()
		writeProbe(w, st == StatusHealthy, Response{Status: st.String()})
	})
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		st := s.Status()
		writeProbe(w, st != StatusUnhealthy, Response{Status: st.String()})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeProbe(w, false, Response{Status: "not ready"})
			return
		}
		failed := s.failingChecks(r.Context())
		if len(failed) > 0 {
			writeProbe(w, false, Response{Status: "not ready", Checks: failed})
			return
		}
		writeProbe(w, true, Response{Status: "ready"})
	})
	return mux
}

func writeProbe(w http.ResponseWriter, ok bool, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}

// Start serves probes until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.SetStatus(StatusStarting)
	slog.Info("Starting health check server", slog.Int("port", s.cfg.Port))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health check server error", slog.Any("error", err))
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return s.Stop()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	slog.Info("Stopping health check server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
