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

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dataexchange"
	"github.com/aws/aws-sdk-go-v2/service/marketplacecatalog"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel/trace"
)

type S3Client struct {
	Client *s3.Client
	Tracer trace.Tracer
}

type SQSClient struct {
	Client *sqs.Client
	Tracer trace.Tracer
}

type DataExchangeClient struct {
	Client *dataexchange.Client
	Tracer trace.Tracer
}

type CatalogClient struct {
	Client *marketplacecatalog.Client
	Tracer trace.Tracer
}

type SFNClient struct {
	Client *sfn.Client
	Tracer trace.Tracer
}

// WithPathStyle uses path-style addressing instead of virtual-host for S3.
func WithPathStyle() Option {
	return func(c *clientConfig) {
		c.PathStyle = true
	}
}

func (m *Manager) GetS3(_ context.Context, opts ...Option) (*S3Client, error) {
	cfg, cc := m.awsConfig(opts)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = cc.PathStyle
	})
	return &S3Client{Client: client, Tracer: m.tracer}, nil
}

func (m *Manager) GetSQS(_ context.Context, opts ...Option) (*SQSClient, error) {
	cfg, _ := m.awsConfig(opts)
	return &SQSClient{Client: sqs.NewFromConfig(cfg), Tracer: m.tracer}, nil
}

func (m *Manager) GetDataExchange(_ context.Context, opts ...Option) (*DataExchangeClient, error) {
	cfg, _ := m.awsConfig(opts)
	return &DataExchangeClient{Client: dataexchange.NewFromConfig(cfg), Tracer: m.tracer}, nil
}

// GetCatalog returns an AWS Marketplace Catalog client. The catalog API is
// only served from us-east-1, so callers normally pass WithRegion.
func (m *Manager) GetCatalog(_ context.Context, opts ...Option) (*CatalogClient, error) {
	cfg, _ := m.awsConfig(opts)
	return &CatalogClient{Client: marketplacecatalog.NewFromConfig(cfg), Tracer: m.tracer}, nil
}

func (m *Manager) GetSFN(_ context.Context, opts ...Option) (*SFNClient, error) {
	cfg, _ := m.awsConfig(opts)
	return &SFNClient{Client: sfn.NewFromConfig(cfg), Tracer: m.tracer}, nil
}
