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

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/adxpublisher/config"
	"github.com/cardinalhq/adxpublisher/internal/awsclient"
	"github.com/cardinalhq/adxpublisher/internal/dataexchange"
	"github.com/cardinalhq/adxpublisher/internal/objstore"
	"github.com/cardinalhq/adxpublisher/internal/orchestrator"
	"github.com/cardinalhq/adxpublisher/internal/publisher"
	"github.com/cardinalhq/adxpublisher/internal/usage"
)

// app holds the collaborators every command builds from configuration.
type app struct {
	cfg      *config.Config
	aws      *awsclient.Manager
	pub      *publisher.Publisher
	reporter *usage.Reporter
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mgr, err := awsclient.NewManager(ctx)
	if err != nil {
		return nil, err
	}

	s3Client, err := mgr.GetS3(ctx, cfg.AWS.S3Options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	dxClient, err := mgr.GetDataExchange(ctx, cfg.AWS.Options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Data Exchange client: %w", err)
	}
	// The catalog API lives in a single region regardless of where the
	// data sets are.
	catalogOpts := append(cfg.AWS.Options(), awsclient.WithRegion(cfg.Catalog.Region))
	catalogClient, err := mgr.GetCatalog(ctx, catalogOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Marketplace Catalog client: %w", err)
	}

	pub, err := publisher.New(
		objstore.NewS3Store(s3Client),
		dataexchange.NewAWSService(dxClient, catalogClient),
		cfg.Publisher,
		cfg.Catalog,
	)
	if err != nil {
		return nil, err
	}

	reporter := usage.NewReporter(cfg.Usage)
	if reporter.Enabled() {
		slog.Info("Anonymous usage reporting enabled", slog.String("endpoint", cfg.Usage.Endpoint))
	}

	return &app{cfg: cfg, aws: mgr, pub: pub, reporter: reporter}, nil
}

func (a *app) runner() *orchestrator.Runner {
	return orchestrator.NewRunner(a.pub, a.reporter, a.cfg.Orchestrator)
}

// starter builds the configured workflow engine. Local runs are bound to
// base and stop when it is cancelled.
func (a *app) starter(base context.Context) (orchestrator.Starter, error) {
	oc := a.cfg.Orchestrator
	var sfnClient *awsclient.SFNClient
	if oc.Engine == orchestrator.EngineStepFunctions {
		c, err := a.aws.GetSFN(base, awsclient.WithRegion(oc.Region), awsclient.WithRole(oc.RoleARN))
		if err != nil {
			return nil, fmt.Errorf("failed to create Step Functions client: %w", err)
		}
		sfnClient = c
	}
	return orchestrator.NewStarter(base, oc, a.runner(), sfnClient)
}

// waitForLocalRuns blocks until background local runs end.
func waitForLocalRuns(s orchestrator.Starter) {
	if ls, ok := s.(*orchestrator.LocalStarter); ok {
		slog.Info("Waiting for local publishing runs to finish")
		ls.Wait()
	}
}
