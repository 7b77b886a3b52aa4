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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/adxpublisher/internal/awsclient"
	"github.com/cardinalhq/adxpublisher/internal/healthcheck"
	"github.com/cardinalhq/adxpublisher/internal/trigger"
)

func init() {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "start publishing runs for new manifests",
	}
	rootCmd.AddCommand(cmd)

	sqsCmd := &cobra.Command{
		Use:   "sqs",
		Short: "long-poll an SQS queue of bucket notifications",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runTriggerService("trigger-sqs", func(ctx context.Context, a *app, h *trigger.Handler) (trigger.Service, healthcheck.Check, error) {
				tc := a.cfg.Trigger
				client, err := a.aws.GetSQS(ctx, awsclient.WithRegion(tc.Region), awsclient.WithRole(tc.RoleARN))
				if err != nil {
					return nil, nil, fmt.Errorf("failed to create SQS client: %w", err)
				}
				svc, err := trigger.NewSQSService(client, h, tc)
				if err != nil {
					return nil, nil, err
				}
				return svc, svc.Ping, nil
			})
		},
	}
	cmd.AddCommand(sqsCmd)

	httpCmd := &cobra.Command{
		Use:   "http",
		Short: "accept bucket notifications posted to a webhook",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runTriggerService("trigger-http", func(_ context.Context, a *app, h *trigger.Handler) (trigger.Service, healthcheck.Check, error) {
				svc, err := trigger.NewHTTPService(h, a.cfg.Trigger)
				return svc, nil, err
			})
		},
	}
	cmd.AddCommand(httpCmd)

	var bucket, key string
	objectCmd := &cobra.Command{
		Use:   "object",
		Short: "handle one object as if its notification had arrived",
		RunE: func(c *cobra.Command, _ []string) error {
			doneCtx, doneFx, err := setupTelemetry("trigger-object")
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer shutdownTelemetry(doneFx)

			a, err := newApp(doneCtx)
			if err != nil {
				return err
			}
			starter, err := a.starter(doneCtx)
			if err != nil {
				return err
			}
			h := trigger.NewHandler(a.pub, starter, nil, a.cfg.Trigger, a.cfg.Publisher.PartitionedExtension)
			started, ok, err := h.HandleObject(doneCtx, trigger.ObjectEvent{Bucket: bucket, Key: key})
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("s3://%s/%s is not a flat manifest (want suffix %q)", bucket, key, a.cfg.Trigger.ManifestSuffix)
			}
			waitForLocalRuns(starter)

			enc := json.NewEncoder(c.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(started)
		},
	}
	objectCmd.Flags().StringVar(&bucket, "bucket", "", "bucket holding the flat manifest")
	objectCmd.Flags().StringVar(&key, "key", "", "key of the flat manifest")
	_ = objectCmd.MarkFlagRequired("bucket")
	_ = objectCmd.MarkFlagRequired("key")
	cmd.AddCommand(objectCmd)
}

type serviceFactory func(ctx context.Context, a *app, h *trigger.Handler) (trigger.Service, healthcheck.Check, error)

// runTriggerService wires the publisher, the engine and a health server
// around one notification intake and runs it until a signal arrives.
func runTriggerService(servicename string, build serviceFactory) error {
	doneCtx, doneFx, err := setupTelemetry(servicename)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer shutdownTelemetry(doneFx)

	a, err := newApp(doneCtx)
	if err != nil {
		return err
	}
	if err := a.cfg.Trigger.Validate(); err != nil {
		return err
	}

	healthServer := healthcheck.NewServer(a.cfg.Health)
	go func() {
		if err := healthServer.Start(doneCtx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()

	starter, err := a.starter(doneCtx)
	if err != nil {
		return err
	}
	dedup := trigger.NewDeduplicator(a.cfg.Trigger.DedupTTL)
	handler := trigger.NewHandler(a.pub, starter, dedup, a.cfg.Trigger, a.cfg.Publisher.PartitionedExtension)

	svc, check, err := build(doneCtx, a, handler)
	if err != nil {
		healthServer.SetStatus(healthcheck.StatusUnhealthy)
		return err
	}
	if check != nil {
		healthServer.AddCheck(svc.Name(), check)
	}

	healthServer.SetStatus(healthcheck.StatusHealthy)
	healthServer.SetReady(true)
	slog.Info("Trigger service ready",
		slog.String("intake", svc.Name()),
		slog.String("engine", a.cfg.Orchestrator.Engine))

	runErr := svc.Run(doneCtx)
	healthServer.SetReady(false)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		healthServer.SetStatus(healthcheck.StatusUnhealthy)
	}
	waitForLocalRuns(starter)
	return runErr
}
