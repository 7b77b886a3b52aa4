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

package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/adxpublisher/internal/awsclient"
)

// listPageSize matches the page size the prefix expansion has always used.
const listPageSize = 1000

var (
	getCount   metric.Int64Counter
	getBytes   metric.Int64Counter
	putCount   metric.Int64Counter
	putBytes   metric.Int64Counter
	listErrors metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/adxpublisher/internal/objstore")

	var err error
	getCount, err = meter.Int64Counter(
		"adxpublisher.s3.get.count",
		metric.WithDescription("Number of S3 object reads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create get.count counter: %w", err))
	}

	getBytes, err = meter.Int64Counter(
		"adxpublisher.s3.get.bytes",
		metric.WithDescription("Bytes read from S3"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create get.bytes counter: %w", err))
	}

	putCount, err = meter.Int64Counter(
		"adxpublisher.s3.put.count",
		metric.WithDescription("Number of S3 object writes"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create put.count counter: %w", err))
	}

	putBytes, err = meter.Int64Counter(
		"adxpublisher.s3.put.bytes",
		metric.WithDescription("Bytes written to S3"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create put.bytes counter: %w", err))
	}

	listErrors, err = meter.Int64Counter(
		"adxpublisher.s3.list.errors",
		metric.WithDescription("Number of failed S3 listing pages"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create list.errors counter: %w", err))
	}
}

// s3API is the subset of the S3 client the store needs.
type s3API interface {
	s3.ListObjectsV2APIClient
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store implements Store on Amazon S3.
type S3Store struct {
	client   s3API
	uploader *manager.Uploader
	tracer   trace.Tracer
	pageSize int32
}

var _ Store = (*S3Store)(nil)

// NewS3Store wraps a client obtained from awsclient.Manager.GetS3.
func NewS3Store(c *awsclient.S3Client) *S3Store {
	return newS3Store(c.Client, c.Tracer)
}

func newS3Store(client s3API, tracer trace.Tracer) *S3Store {
	if tracer == nil {
		tracer = otel.Tracer("github.com/cardinalhq/adxpublisher/internal/objstore")
	}
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		tracer:   tracer,
		pageSize: listPageSize,
	}
}

func isNoSuchKey(err error) bool {
	var noKey *types.NoSuchKey
	return errors.As(err, &noKey)
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "objstore.Get",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}

	attrs := metric.WithAttributes(attribute.String("bucket", bucket))
	getCount.Add(ctx, 1, attrs)
	getBytes.Add(ctx, int64(len(data)), attrs)
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	ctx, span := s.tracer.Start(ctx, "objstore.Put",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
			attribute.Int("size", len(data)),
		),
	)
	defer span.End()

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"writer": "adxpublisher",
		},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}

	attrs := metric.WithAttributes(attribute.String("bucket", bucket))
	putCount.Add(ctx, 1, attrs)
	putBytes.Add(ctx, int64(len(data)), attrs)
	return nil
}

// ListByPrefix walks every listing page, so the result does not depend on
// where page boundaries fall.
func (s *S3Store) ListByPrefix(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	ctx, span := s.tracer.Start(ctx, "objstore.ListByPrefix",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("prefix", prefix),
		),
	)
	defer span.End()

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(s.pageSize),
	})

	var out []ObjectInfo
	pages := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			listErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", bucket)))
			slog.Error("Failed to list S3 objects",
				slog.String("bucket", bucket),
				slog.String("prefix", prefix),
				slog.Int("page", pages),
				slog.Any("error", err),
			)
			span.RecordError(err)
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		pages++
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}

	span.SetAttributes(attribute.Int("pages", pages), attribute.Int("objects", len(out)))
	return out, nil
}
