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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/adxpublisher/internal/dataexchange"
	"github.com/cardinalhq/adxpublisher/internal/manifest"
	"github.com/cardinalhq/adxpublisher/internal/orchestrator"
	"github.com/cardinalhq/adxpublisher/internal/publisher"
	"github.com/cardinalhq/adxpublisher/testhelpers"
)

func flatJSON(t *testing.T, n int, extra ...manifest.AssetRef) []byte {
	t.Helper()
	f := manifest.Flat{ProductID: "prod-1", DatasetID: "ds-1"}
	for i := range n {
		f.AssetList = append(f.AssetList, manifest.AssetRef{Bucket: "data", Key: fmt.Sprintf("k/%d", i)})
	}
	f.AssetList = append(f.AssetList, extra...)
	b, err := json.Marshal(f)
	require.NoError(t, err)
	return b
}

func TestPartitionFlat(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		limits    manifest.Limits
		wantJobs  []int
		wantError string
	}{
		{"one job", flatJSON(t, 25), manifest.DefaultLimits(), []int{1}, ""},
		{"two jobs", flatJSON(t, 150), manifest.DefaultLimits(), []int{2}, ""},
		{"small limits", flatJSON(t, 7), manifest.Limits{RevisionAssets: 5, JobAssets: 2}, []int{3, 1}, ""},
		{"prefix entry", flatJSON(t, 1, manifest.AssetRef{Bucket: "data", Key: "dir/"}), manifest.DefaultLimits(), nil, "prefix"},
		{"missing dataset", []byte(`{"product_id":"p","asset_list":[{"Bucket":"b","Key":"k"}]}`), manifest.DefaultLimits(), nil, "dataset_id"},
		{"empty list", []byte(`{"product_id":"p","dataset_id":"d","asset_list":[]}`), manifest.DefaultLimits(), nil, "asset_list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := partitionFlat(tt.data, tt.limits)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantJobs, p.Summary().RevisionJobCounts)
		})
	}
}

func TestRunStage(t *testing.T) {
	echo := func(_ context.Context, wc publisher.WorkflowContext) (publisher.WorkflowContext, error) {
		wc.RevisionID = "rev-1"
		return wc, nil
	}
	var out bytes.Buffer
	err := runStage(context.Background(), echo,
		strings.NewReader(`{"Bucket":"b","Key":"k.manifest","Custom":"kept"}`), &out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Bucket":"b","Key":"k.manifest","RevisionId":"rev-1","RevisionCount":0,"TotalJobCount":0,"TotalAssetCount":0,"Custom":"kept"}`, out.String())

	err = runStage(context.Background(), echo, strings.NewReader(`not json`), &out)
	assert.ErrorContains(t, err, "decode workflow context")

	failing := func(_ context.Context, wc publisher.WorkflowContext) (publisher.WorkflowContext, error) {
		return wc, errors.New("boom")
	}
	out.Reset()
	err = runStage(context.Background(), failing, strings.NewReader(`{}`), &out)
	assert.EqualError(t, err, "boom")
	assert.Empty(t, out.String())
}

func TestStageStdoutIsOnlyTheContext(t *testing.T) {
	t.Setenv("ENABLE_OTLP_TELEMETRY", "")
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout, logger := os.Stdout, slog.Default()
	os.Stdout = w
	t.Cleanup(func() {
		os.Stdout = stdout
		slog.SetDefault(logger)
	})

	ctx, doneFx, err := setupTelemetry("stage-partition")
	require.NoError(t, err)
	defer shutdownTelemetry(doneFx)

	store := testhelpers.NewMemStore()
	store.Add("publish", "in/batch.json", flatJSON(t, 150))
	pub, err := publisher.New(store, testhelpers.NewFakeDataExchange(), publisher.DefaultConfig(), publisher.DefaultCatalogConfig())
	require.NoError(t, err)
	stage, err := pub.Stage(publisher.StagePartition)
	require.NoError(t, err)

	err = runStage(ctx, stage, strings.NewReader(`{"Bucket":"publish","Key":"in/batch.json","Trace":"t-1"}`), os.Stdout)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)

	var wc publisher.WorkflowContext
	require.NoError(t, json.Unmarshal(out, &wc), string(out))
	assert.Equal(t, "in/batch.manifest", wc.Key)
	assert.Equal(t, 2, wc.TotalJobCount)
	assert.JSONEq(t, `"t-1"`, string(wc.Extra["Trace"]))
}

func TestSummarize(t *testing.T) {
	res := &orchestrator.RunResult{
		Name:     "run-1",
		Context:  publisher.WorkflowContext{Key: "m.manifest", ProductID: "p", DatasetID: "d"},
		Duration: 3 * time.Second,
		Revisions: []orchestrator.RevisionResult{
			{
				RevisionMapIndex: 0,
				RevisionID:       "rev-0",
				Finalized:        true,
				Jobs: []orchestrator.JobResult{
					{AssetCount: 100, State: dataexchange.JobStateCompleted},
					{AssetCount: 50, State: dataexchange.JobStateCompleted},
				},
			},
			{RevisionMapIndex: 1, Err: errors.New("limit exceeded")},
		},
	}
	s := summarize(res)
	assert.Equal(t, "run-1", s.Run)
	assert.Equal(t, "m.manifest", s.ManifestKey)
	require.Len(t, s.Revisions, 2)
	assert.Equal(t, revisionSummary{Index: 0, RevisionID: "rev-0", Jobs: 2, Assets: 150, Finalized: true}, s.Revisions[0])
	assert.Equal(t, "limit exceeded", s.Revisions[1].Error)
}

func TestCommandTree(t *testing.T) {
	want := []string{"manifest partition", "publish", "stage", "trigger http", "trigger object", "trigger sqs"}
	for _, path := range want {
		c, _, err := rootCmd.Find(strings.Fields(path))
		require.NoError(t, err, path)
		assert.Equal(t, strings.Fields(path)[len(strings.Fields(path))-1], c.Name())
	}
}
