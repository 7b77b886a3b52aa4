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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/adxpublisher/internal/manifest"
	"github.com/cardinalhq/adxpublisher/internal/objstore"
	"github.com/cardinalhq/adxpublisher/internal/orchestrator"
	"github.com/cardinalhq/adxpublisher/internal/publisher"
)

var (
	eventsProcessed  metric.Int64Counter
	eventsSkipped    metric.Int64Counter
	eventsDuplicated metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/adxpublisher/internal/trigger")

	var err error
	eventsProcessed, err = meter.Int64Counter(
		"adxpublisher.trigger.events.processed",
		metric.WithDescription("Manifest notifications that started a publishing run"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create eventsProcessed counter: %w", err))
	}

	eventsSkipped, err = meter.Int64Counter(
		"adxpublisher.trigger.events.skipped",
		metric.WithDescription("Notifications ignored because they do not name a flat manifest"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create eventsSkipped counter: %w", err))
	}

	eventsDuplicated, err = meter.Int64Counter(
		"adxpublisher.trigger.events.duplicated",
		metric.WithDescription("Redelivered notifications dropped by deduplication"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create eventsDuplicated counter: %w", err))
	}
}

// Partitioner turns a flat manifest into a partitioned one.
type Partitioner interface {
	Partition(ctx context.Context, wc publisher.WorkflowContext) (publisher.WorkflowContext, error)
}

// Started describes one run begun for a manifest.
type Started struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	ManifestKey string `json:"manifestKey"`
	Run         string `json:"run"`
}

// Handler partitions each new flat manifest and starts one workflow run
// for it.
type Handler struct {
	partitioner  Partitioner
	starter      orchestrator.Starter
	dedup        *Deduplicator
	suffix       string
	partitionExt string
	tracer       trace.Tracer
}

func NewHandler(partitioner Partitioner, starter orchestrator.Starter, dedup *Deduplicator, cfg Config, partitionExt string) *Handler {
	return &Handler{
		partitioner:  partitioner,
		starter:      starter,
		dedup:        dedup,
		suffix:       cfg.ManifestSuffix,
		partitionExt: partitionExt,
		tracer:       otel.Tracer("github.com/cardinalhq/adxpublisher/internal/trigger"),
	}
}

// IsPermanent reports whether retrying err can never succeed. A flat
// manifest that is gone by the time its notification is handled counts:
// S3 reads are strongly consistent, so redelivery cannot bring it back.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, objstore.ErrNotFound) ||
		publisher.IsPermanent(err)
}

// skipReason returns why key is not a flat manifest, or "".
func (h *Handler) skipReason(key string) string {
	switch {
	case strings.HasSuffix(key, "/"):
		return "directory"
	case manifest.IsPartitionedKey(key, h.partitionExt):
		return "partitioned_manifest"
	case h.suffix != "" && !strings.HasSuffix(key, h.suffix):
		return "suffix"
	}
	return ""
}

// HandleMessage processes one notification body. When some events fail with
// retryable errors the returned error is retryable; permanent failures are
// only returned when nothing is worth retrying.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte) ([]Started, error) {
	ctx, span := h.tracer.Start(ctx, "trigger.HandleMessage")
	defer span.End()

	events, err := ParseEvents(raw)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var started []Started
	var retryable, permanent *multierror.Error
	for _, ev := range events {
		s, ok, err := h.HandleObject(ctx, ev)
		switch {
		case err != nil && IsPermanent(err):
			span.RecordError(err)
			permanent = multierror.Append(permanent, err)
		case err != nil:
			span.RecordError(err)
			retryable = multierror.Append(retryable, err)
		case ok:
			started = append(started, s)
		}
	}

	if err := retryable.ErrorOrNil(); err != nil {
		if permanent != nil {
			slog.Error("Dropping notifications that can never succeed", slog.Any("error", permanent))
		}
		return started, err
	}
	return started, permanent.ErrorOrNil()
}

// HandleObject processes one object notification. ok is false when the
// object is not a flat manifest or was already handled.
func (h *Handler) HandleObject(ctx context.Context, ev ObjectEvent) (s Started, ok bool, err error) {
	if reason := h.skipReason(ev.Key); reason != "" {
		slog.Debug("Skipping object", slog.String("object", ev.String()), slog.String("reason", reason))
		eventsSkipped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.String("bucket", ev.Bucket),
		))
		return Started{}, false, nil
	}
	if !h.dedup.Claim(ev) {
		slog.Info("Duplicate notification, skipping",
			slog.String("object", ev.String()),
			slog.String("sequencer", ev.Sequencer))
		eventsDuplicated.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", ev.Bucket)))
		return Started{}, false, nil
	}

	s, err = h.handleEvent(ctx, ev)
	if err != nil {
		h.dedup.Release(ev)
		return Started{}, false, err
	}
	return s, true, nil
}

func (h *Handler) handleEvent(ctx context.Context, ev ObjectEvent) (Started, error) {
	ll := slog.Default().With(slog.String("bucket", ev.Bucket), slog.String("key", ev.Key))

	wc, err := h.partitioner.Partition(ctx, publisher.WorkflowContext{Bucket: ev.Bucket, Key: ev.Key})
	if err != nil {
		ll.Error("Failed to partition manifest", slog.Any("error", err))
		return Started{}, fmt.Errorf("%s: %w", ev, err)
	}

	run, err := h.starter.Start(ctx, wc.Bucket, wc.Key)
	if err != nil {
		ll.Error("Failed to start publishing run", slog.Any("error", err))
		return Started{}, fmt.Errorf("%s: %w", ev, err)
	}

	ll.Info("Started publishing run",
		slog.String("run", run),
		slog.String("manifestKey", wc.Key),
		slog.Int("revisionCount", wc.RevisionCount),
		slog.Int("totalAssetCount", wc.TotalAssetCount))
	eventsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", ev.Bucket)))
	return Started{Bucket: ev.Bucket, Key: ev.Key, ManifestKey: wc.Key, Run: run}, nil
}
