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

package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	stageDuration metric.Float64Histogram
	stageOutcome  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/adxpublisher/internal/publisher")

	var err error
	stageDuration, err = meter.Float64Histogram(
		"adxpublisher.stage.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of one publishing stage invocation"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create stage.duration histogram: %w", err))
	}

	stageOutcome, err = meter.Int64Counter(
		"adxpublisher.stage.outcome",
		metric.WithDescription("Publishing stage invocations by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create stage.outcome counter: %w", err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsPermanent(err):
		return "invalid"
	default:
		return "error"
	}
}

func recordStage(ctx context.Context, stage string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome(err)),
	)
	stageDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	stageOutcome.Add(ctx, 1, attrs)
}

// finishStage records one stage invocation. A failure is located with the
// stage and branch identifiers and logged once; errors already located by
// an inner stage pass through untouched.
func finishStage(ctx context.Context, stage string, wc WorkflowContext, start time.Time, err error) error {
	recordStage(ctx, stage, start, err)
	var se *StageError
	if err == nil || errors.As(err, &se) {
		return err
	}
	located := stageError(stage, wc, err)
	errors.As(located, &se)

	attrs := []slog.Attr{
		slog.String("stage", stage),
		slog.String("bucket", wc.Bucket),
		slog.String("key", wc.Key),
		slog.String("productID", se.ProductID),
		slog.String("datasetID", se.DatasetID),
	}
	if se.RevisionID != "" {
		attrs = append(attrs, slog.String("revisionID", se.RevisionID))
	}
	if se.JobID != "" {
		attrs = append(attrs, slog.String("jobID", se.JobID))
	}
	if path := se.IndexPath(); path != "" {
		attrs = append(attrs, slog.String("indexPath", path))
	}
	attrs = append(attrs,
		slog.Bool("permanent", IsPermanent(err)),
		slog.Any("error", err))
	slog.LogAttrs(ctx, slog.LevelError, "Stage failed", attrs...)
	return located
}

// logStageMetrics emits the one structured line each stage writes on
// success.
func logStageMetrics(ctx context.Context, stage string, wc WorkflowContext, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("stage", stage),
		slog.String("productID", wc.ProductID),
		slog.String("datasetID", wc.DatasetID),
	}
	if wc.RevisionID != "" {
		attrs = append(attrs, slog.String("revisionID", wc.RevisionID))
	}
	if wc.RevisionMapIndex != nil {
		attrs = append(attrs, slog.Int("revisionMapIndex", *wc.RevisionMapIndex))
	}
	if wc.JobMapIndex != nil {
		attrs = append(attrs, slog.Int("jobMapIndex", *wc.JobMapIndex))
	}
	if wc.JobID != "" {
		attrs = append(attrs, slog.String("jobID", wc.JobID))
	}
	attrs = append(attrs, extra...)
	slog.LogAttrs(ctx, slog.LevelInfo, "Stage metrics", attrs...)
}
