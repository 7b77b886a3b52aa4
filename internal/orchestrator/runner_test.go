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

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/adxpublisher/internal/dataexchange"
	"github.com/cardinalhq/adxpublisher/internal/manifest"
	"github.com/cardinalhq/adxpublisher/internal/publisher"
	"github.com/cardinalhq/adxpublisher/testhelpers"
)

const testBucket = "publish-bucket"

type recordingNotifier struct {
	mu     sync.Mutex
	counts []int
}

func (n *recordingNotifier) ReportAssets(_ context.Context, assetCount int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.counts = append(n.counts, assetCount)
}

func (n *recordingNotifier) total() (calls, assets int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.counts {
		assets += c
	}
	return len(n.counts), assets
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.JobTimeout = 5 * time.Second
	return cfg
}

type fixture struct {
	store    *testhelpers.MemStore
	svc      *testhelpers.FakeDataExchange
	pub      *publisher.Publisher
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testhelpers.NewMemStore()
	svc := testhelpers.NewFakeDataExchange()
	svc.PollsToComplete = 2
	pub, err := publisher.New(store, svc, publisher.DefaultConfig(), publisher.DefaultCatalogConfig())
	require.NoError(t, err)
	return &fixture{store: store, svc: svc, pub: pub, notifier: &recordingNotifier{}}
}

// partition writes an n-asset flat manifest and partitions it, returning
// the context that points at the partitioned manifest.
func (f *fixture) partition(t *testing.T, n int) publisher.WorkflowContext {
	t.Helper()
	flat := manifest.Flat{ProductID: "prod-1", DatasetID: "ds-1"}
	for i := range n {
		flat.AssetList = append(flat.AssetList, manifest.AssetRef{Bucket: "data", Key: fmt.Sprintf("files/%05d.csv", i)})
	}
	data, err := json.Marshal(flat)
	require.NoError(t, err)
	f.store.Add(testBucket, "incoming/batch.json", data)

	wc, err := f.pub.Partition(context.Background(), publisher.WorkflowContext{Bucket: testBucket, Key: "incoming/batch.json"})
	require.NoError(t, err)
	return wc
}

func TestExecutePublishesEveryRevision(t *testing.T) {
	f := newFixture(t)
	wc := f.partition(t, 10050)

	res, err := NewRunner(f.pub, f.notifier, testConfig()).Execute(context.Background(), "run-1", wc)
	require.NoError(t, err)

	require.Len(t, res.Revisions, 2)
	assert.Len(t, res.Revisions[0].Jobs, 100)
	assert.Len(t, res.Revisions[1].Jobs, 1)
	for _, rev := range res.Revisions {
		assert.True(t, rev.Finalized)
		assert.NoError(t, rev.Err)
		for _, job := range rev.Jobs {
			assert.Equal(t, dataexchange.JobStateCompleted, job.State)
		}
	}
	assert.Empty(t, res.Failed())

	for _, rev := range f.svc.Revisions() {
		assert.True(t, rev.Finalized, rev.ID)
	}
	assert.Len(t, f.svc.Jobs(), 101)

	calls, assets := f.notifier.total()
	assert.Equal(t, 101, calls, "one usage notification per started job")
	assert.Equal(t, 10050, assets)
}

func TestExecuteWithNoRevisions(t *testing.T) {
	f := newFixture(t)
	f.store.Add(testBucket, "empty.manifest", []byte(`{"product_id":"p","dataset_id":"d","asset_list_nested":[]}`))

	res, err := NewRunner(f.pub, f.notifier, testConfig()).Execute(context.Background(), "run-empty",
		publisher.WorkflowContext{Bucket: testBucket, Key: "empty.manifest"})
	require.NoError(t, err)
	assert.Empty(t, res.Revisions)
	assert.Zero(t, f.svc.Calls("CreateRevision"))
}

func TestExecuteFailedJobSkipsOnlyItsRevision(t *testing.T) {
	f := newFixture(t)
	// Assets from index 10000 on land in the second revision.
	f.svc.FinalState = func(job testhelpers.FakeJob) dataexchange.JobState {
		if job.Assets[0].Key >= "files/10000.csv" {
			return dataexchange.JobStateError
		}
		return dataexchange.JobStateCompleted
	}
	wc := f.partition(t, 10050)

	res, err := NewRunner(f.pub, f.notifier, testConfig()).Execute(context.Background(), "run-2", wc)
	require.Error(t, err)

	assert.True(t, res.Revisions[0].Finalized)
	assert.NoError(t, res.Revisions[0].Err)
	assert.False(t, res.Revisions[1].Finalized)

	var jfe *publisher.JobFailedError
	require.ErrorAs(t, res.Revisions[1].Err, &jfe)
	assert.Equal(t, dataexchange.JobStateError, jfe.State)
	assert.NotEmpty(t, jfe.Details)
	assert.Contains(t, err.Error(), "index [1][0]")
	assert.Len(t, res.Failed(), 1)

	finalized := 0
	for _, rev := range f.svc.Revisions() {
		if rev.Finalized {
			finalized++
		}
	}
	assert.Equal(t, 1, finalized)
}

func TestExecuteJobTimeout(t *testing.T) {
	f := newFixture(t)
	f.svc.PollsToComplete = 1 << 30
	wc := f.partition(t, 5)

	cfg := testConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	res, err := NewRunner(f.pub, nil, cfg).Execute(context.Background(), "run-3", wc)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, dataexchange.JobStateInProgress, res.Revisions[0].Jobs[0].State)
	assert.Zero(t, f.svc.Calls("FinalizeRevision"))
}

func TestExecuteCreateRevisionFailure(t *testing.T) {
	f := newFixture(t)
	wc := f.partition(t, 10050)
	f.svc.FailOn("CreateRevision", errors.New("limit exceeded"))

	res, err := NewRunner(f.pub, f.notifier, testConfig()).Execute(context.Background(), "run-4", wc)
	require.Error(t, err)
	assert.Len(t, res.Failed(), 2)
	assert.Zero(t, f.svc.Calls("CreateImportJob"))

	var se *publisher.StageError
	require.ErrorAs(t, res.Revisions[1].Err, &se)
	assert.Equal(t, "[1]", se.IndexPath())
}

func TestExecutePrepareFailure(t *testing.T) {
	f := newFixture(t)
	_, err := NewRunner(f.pub, nil, testConfig()).Execute(context.Background(), "run-5",
		publisher.WorkflowContext{Bucket: testBucket, Key: "absent.manifest"})
	var rse *publisher.RemoteServiceError
	assert.ErrorAs(t, err, &rse)
}

// countingStages tracks how many RunJob calls are in flight at once.
type countingStages struct {
	Stages
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (c *countingStages) RunJob(ctx context.Context, wc publisher.WorkflowContext) (publisher.WorkflowContext, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return c.Stages.RunJob(ctx, wc)
}

func TestExecuteBoundsJobConcurrency(t *testing.T) {
	f := newFixture(t)
	wc := f.partition(t, 10050)

	cfg := testConfig()
	cfg.MaxConcurrentJobs = 3
	stages := &countingStages{Stages: f.pub}
	_, err := NewRunner(stages, nil, cfg).Execute(context.Background(), "run-6", wc)
	require.NoError(t, err)
	assert.LessOrEqual(t, stages.peak.Load(), int64(3))
	assert.Positive(t, stages.peak.Load())
}
