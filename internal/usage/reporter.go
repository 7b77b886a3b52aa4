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

// Package usage sends anonymous usage data. Delivery is best effort:
// nothing in this package ever returns an error to its caller.
package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultEndpoint = "https://metrics.awssolutionsbuilder.com/generic"
	timestampLayout = "2006-01-02 15:04:05.000000"
)

var deliveries metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/adxpublisher/internal/usage")

	var err error
	deliveries, err = meter.Int64Counter(
		"adxpublisher.usage.deliveries",
		metric.WithDescription("Anonymous usage reports by delivery result"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create usage.deliveries counter: %w", err))
	}
}

type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	Endpoint   string        `mapstructure:"endpoint"`
	SolutionID string        `mapstructure:"solution_id"`
	UUID       string        `mapstructure:"uuid"`
	Version    string        `mapstructure:"version"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// UUIDFile keeps a generated install id across restarts when UUID is empty.
	UUIDFile string `mapstructure:"uuid_file"`
}

func DefaultConfig() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		Timeout:  5 * time.Second,
	}
}

type Data struct {
	Version    string `json:"Version"`
	AssetCount int    `json:"AssetCount"`
}

type Payload struct {
	Solution  string `json:"Solution"`
	UUID      string `json:"UUID"`
	TimeStamp string `json:"TimeStamp"`
	Data      Data   `json:"Data"`
}

type Reporter struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// NewReporter returns a reporter; a disabled config yields one whose
// methods do nothing. An install id is resolved by installID when none is
// configured.
func NewReporter(cfg Config) *Reporter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Enabled && cfg.UUID == "" {
		cfg.UUID = installID(cfg.UUIDFile)
	}
	return &Reporter{
		cfg: cfg,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
		now: time.Now,
	}
}

// installID reads the id persisted at path, or generates a random one and
// persists it there. An empty path yields a new id per process.
func installID(path string) string {
	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			if id, err := uuid.ParseBytes(bytes.TrimSpace(b)); err == nil {
				return id.String()
			}
		}
	}
	id := uuid.New().String()
	if path != "" {
		if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
			slog.Warn("Failed to persist usage install id", slog.String("path", path), slog.Any("error", err))
		}
	}
	return id
}

func (r *Reporter) Enabled() bool {
	return r != nil && r.cfg.Enabled
}

// ReportAssets records that assetCount assets were handed to an import job.
func (r *Reporter) ReportAssets(ctx context.Context, assetCount int) {
	if !r.Enabled() {
		return
	}
	r.send(ctx, Payload{
		Solution:  r.cfg.SolutionID,
		UUID:      r.cfg.UUID,
		TimeStamp: r.now().UTC().Format(timestampLayout),
		Data: Data{
			Version:    r.cfg.Version,
			AssetCount: assetCount,
		},
	})
}

func (r *Reporter) send(ctx context.Context, p Payload) {
	result := "success"
	defer func() {
		deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}()

	body, err := json.Marshal(p)
	if err != nil {
		result = "error"
		slog.Warn("Failed to encode usage payload", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		result = "error"
		slog.Warn("Failed to build usage request", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		result = "error"
		slog.Warn("Failed to deliver usage data", slog.String("endpoint", r.cfg.Endpoint), slog.Any("error", err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		result = "rejected"
		slog.Warn("Usage endpoint rejected report",
			slog.String("endpoint", r.cfg.Endpoint),
			slog.Int("status", resp.StatusCode))
		return
	}
	slog.Debug("Delivered usage data", slog.Int("assetCount", p.Data.AssetCount))
}
