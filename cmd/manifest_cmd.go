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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/adxpublisher/internal/manifest"
)

// partitionFlat partitions a local flat manifest. Prefix entries need a
// storage listing and are rejected.
func partitionFlat(data []byte, limits manifest.Limits) (*manifest.Partitioned, error) {
	flat, err := manifest.ParseFlat(data)
	if err != nil {
		return nil, err
	}
	for i, a := range flat.AssetList {
		if a.IsPrefix() {
			return nil, fmt.Errorf("asset_list[%d] %s is a prefix; expand it with the publish command", i, a)
		}
	}
	return manifest.NewPartitioned(flat, limits)
}

func init() {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "inspect publishing manifests",
	}
	rootCmd.AddCommand(cmd)

	var file, out string
	limits := manifest.DefaultLimits()
	partitionCmd := &cobra.Command{
		Use:   "partition",
		Short: "partition a local flat manifest and print its summary",
		RunE: func(c *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			p, err := partitionFlat(data, limits)
			if err != nil {
				return err
			}
			if out != "" {
				body, err := p.Marshal()
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, body, 0o644); err != nil {
					return err
				}
			}
			return writeJSON(c.OutOrStdout(), p.Summary())
		},
	}
	partitionCmd.Flags().StringVar(&file, "file", "", "flat manifest to partition")
	partitionCmd.Flags().StringVar(&out, "out", "", "write the partitioned manifest here")
	partitionCmd.Flags().IntVar(&limits.RevisionAssets, "revision-asset-limit", limits.RevisionAssets, "assets per revision")
	partitionCmd.Flags().IntVar(&limits.JobAssets, "job-asset-limit", limits.JobAssets, "assets per import job")
	_ = partitionCmd.MarkFlagRequired("file")
	cmd.AddCommand(partitionCmd)
}
