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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/adxpublisher/internal/publisher"
)

// runStage decodes one workflow context, runs the stage and writes the
// stage's output context.
func runStage(ctx context.Context, stage publisher.StageFunc, in io.Reader, out io.Writer) error {
	var wc publisher.WorkflowContext
	if err := json.NewDecoder(in).Decode(&wc); err != nil {
		return fmt.Errorf("decode workflow context: %w", err)
	}
	res, err := stage(ctx, wc)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(res)
}

func init() {
	var input string
	cmd := &cobra.Command{
		Use:       "stage <name>",
		Short:     "run a single publishing stage",
		Long:      "Run one stage against a workflow context read as JSON from --input or stdin.\nStages: " + strings.Join(publisher.StageNames(), ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: publisher.StageNames(),
		RunE: func(c *cobra.Command, args []string) error {
			doneCtx, doneFx, err := setupTelemetry("stage-" + args[0])
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer shutdownTelemetry(doneFx)

			a, err := newApp(doneCtx)
			if err != nil {
				return err
			}
			stage, err := a.pub.Stage(args[0])
			if err != nil {
				return err
			}

			in := c.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runStage(doneCtx, stage, in, c.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&input, "input", "-", "file holding the workflow context, - for stdin")
	rootCmd.AddCommand(cmd)
}
