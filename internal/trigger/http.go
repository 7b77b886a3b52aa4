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

package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxBodyBytes bounds a webhook request body.
const maxBodyBytes = 1 << 20

type httpResponse struct {
	Started []Started `json:"started"`
	Error   string    `json:"error,omitempty"`
}

// HTTPService accepts bucket notifications posted to a webhook. Unlike the
// queue intake it handles each request synchronously and reports the runs
// it started.
type HTTPService struct {
	handler *Handler
	addr    string
}

func NewHTTPService(handler *Handler, cfg Config) (*HTTPService, error) {
	if cfg.ListenAddr == "" {
		return nil, errors.New("trigger listen_addr is required for the http service")
	}
	return &HTTPService{handler: handler, addr: cfg.ListenAddr}, nil
}

func (s *HTTPService) Name() string {
	return "http"
}

func (s *HTTPService) Run(ctx context.Context) error {
	slog.Info("Starting HTTP trigger", slog.String("addr", s.addr))
	s.handler.dedup.Start()
	defer s.handler.dedup.Stop()

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           otelhttp.NewHandler(s, "trigger.http"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			slog.Error("Failed to start HTTP server", slog.Any("error", err))
			return fmt.Errorf("http trigger: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP trigger")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shutdown HTTP server", slog.Any("error", err))
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// ServeHTTP answers 202 when every manifest in the notification started a
// run, 422 when the notification can never succeed and 502 when a
// collaborator failed and the sender should retry.
func (s *HTTPService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	started, err := s.handler.HandleMessage(r.Context(), body)
	resp := httpResponse{Started: started}
	status := http.StatusAccepted
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusBadGateway
		if IsPermanent(err) {
			status = http.StatusUnprocessableEntity
		}
	}
	if resp.Started == nil {
		resp.Started = []Started{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode trigger response", slog.Any("error", err))
	}
}
