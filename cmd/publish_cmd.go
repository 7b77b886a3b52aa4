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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/adxpublisher/internal/orchestrator"
	"github.com/cardinalhq/adxpublisher/internal/publisher"
)

type revisionSummary struct {
	Index       int    `json:"index"`
	RevisionID  string `json:"revisionId,omitempty"`
	Jobs        int    `json:"jobs"`
	Assets      int    `json:"assets"`
	Finalized   bool   `json:"finalized"`
	ChangeSetID string `json:"changeSetId,omitempty"`
	Error       string `json:"error,omitempty"`
}

type publishSummary struct {
	Run         string            `json:"run"`
	ProductID   string            `json:"productId,omitempty"`
	DatasetID   string            `json:"datasetId,omitempty"`
	ManifestKey string            `json:"manifestKey,omitempty"`
	Duration    string            `json:"duration,omitempty"`
	Revisions   []revisionSummary `json:"revisions"`
}

func summarize(res *orchestrator.RunResult) publishSummary {
	s := publishSummary{
		Run:         res.Name,
		ProductID:   res.Context.ProductID,
		DatasetID:   res.Context.DatasetID,
		ManifestKey: res.Context.Key,
		Duration:    res.Duration.String(),
		Revisions:   make([]revisionSummary, 0, len(res.Revisions)),
	}
	for _, rev := range res.Revisions {
		rs := revisionSummary{
			Index:       rev.RevisionMapIndex,
			RevisionID:  rev.RevisionID,
			Jobs:        len(rev.Jobs),
			Finalized:   rev.Finalized,
			ChangeSetID: rev.ChangeSetID,
		}
		for _, job := range rev.Jobs {
			rs.Assets += job.AssetCount
		}
		if rev.Err != nil {
			rs.Error = rev.Err.Error()
		}
		s.Revisions = append(s.Revisions, rs)
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	var bucket, key string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "partition a flat manifest and publish it",
		Long: `Partition the flat manifest at s3://<bucket>/<key> and run the publishing workflow.
With the local engine the command waits for every revision and prints a summary;
with the stepfunctions engine it prints the execution ARN and returns.`,
		RunE: func(c *cobra.Command, _ []string) error {
			doneCtx, doneFx, err := setupTelemetry("publish")
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer shutdownTelemetry(doneFx)

			a, err := newApp(doneCtx)
			if err != nil {
				return err
			}

			wc, err := a.pub.Partition(doneCtx, publisher.WorkflowContext{Bucket: bucket, Key: key})
			if err != nil {
				return err
			}

			if a.cfg.Orchestrator.Engine != orchestrator.EngineLocal {
				starter, err := a.starter(doneCtx)
				if err != nil {
					return err
				}
				run, err := starter.Start(doneCtx, wc.Bucket, wc.Key)
				if err != nil {
					return err
				}
				return writeJSON(c.OutOrStdout(), map[string]string{"run": run, "manifestKey": wc.Key})
			}

			ls := orchestrator.NewLocalStarter(doneCtx, a.runner(), a.cfg.Orchestrator)
			res, runErr := ls.Run(doneCtx, wc.Bucket, wc.Key)
			if err := writeJSON(c.OutOrStdout(), summarize(res)); err != nil {
				slog.Error("Failed to write summary", slog.Any("error", err))
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket holding the flat manifest")
	cmd.Flags().StringVar(&key, "key", "", "key of the flat manifest")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("key")
	rootCmd.AddCommand(cmd)
}
