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

// Package orchestrator drives the publishing stages. The local engine runs
// the whole state machine in process: one branch per revision, one branch
// per job inside it, a poll loop per job, then finalize. The Step
// Functions starter hands the same input to a remote state machine.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/adxpublisher/internal/dataexchange"
	"github.com/cardinalhq/adxpublisher/internal/publisher"
)

// Stages is the subset of the publisher the local engine drives.
type Stages interface {
	PrepareRevisionMap(ctx context.Context, wc publisher.WorkflowContext) (publisher.WorkflowContext, error)
	CreateRevision(ctx context.Context, wc publisher.WorkflowContext) (publisher.WorkflowContext, error)
	RunJob(ctx context.Context, wc publisher.WorkflowContext) (publisher.WorkflowContext, error)
	CheckJob(ctx context.Context, wc publisher.WorkflowContext) (publisher.WorkflowContext, error)
	Finalize(ctx context.Context, wc publisher.WorkflowContext) (publisher.WorkflowContext, error)
}

// Notifier receives side-channel usage notifications. It has no way to
// fail a stage.
type Notifier interface {
	ReportAssets(ctx context.Context, assetCount int)
}

type nopNotifier struct{}

func (nopNotifier) ReportAssets(context.Context, int) {}

type JobResult struct {
	JobMapIndex int
	JobID       string
	State       dataexchange.JobState
	AssetCount  int
	Err         error
}

type RevisionResult struct {
	RevisionMapIndex int
	RevisionID       string
	RevisionArn      string
	Jobs             []JobResult
	Finalized        bool
	ChangeSetID      string
	Err              error
}

type RunResult struct {
	Name      string
	Context   publisher.WorkflowContext
	Revisions []RevisionResult
	Duration  time.Duration
}

// Failed returns the revision branches that did not finalize cleanly.
func (r *RunResult) Failed() []RevisionResult {
	var out []RevisionResult
	for _, rev := range r.Revisions {
		if rev.Err != nil {
			out = append(out, rev)
		}
	}
	return out
}

type Runner struct {
	stages   Stages
	notifier Notifier
	cfg      Config
}

func NewRunner(stages Stages, notifier Notifier, cfg Config) *Runner {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Runner{stages: stages, notifier: notifier, cfg: cfg}
}

// Execute runs the workflow for one partitioned manifest. Revision branches
// are independent: a failed branch neither stops nor undoes its siblings.
// The returned error aggregates every failed branch; the result is
// populated either way.
func (r *Runner) Execute(ctx context.Context, name string, wc publisher.WorkflowContext) (*RunResult, error) {
	start := time.Now()
	ll := slog.Default().With(
		slog.String("run", name),
		slog.String("bucket", wc.Bucket),
		slog.String("key", wc.Key),
	)
	res := &RunResult{Name: name}
	defer func() { res.Duration = time.Since(start) }()

	prep, err := r.stages.PrepareRevisionMap(ctx, wc)
	if err != nil {
		ll.Error("Failed to prepare revision map", slog.Any("error", err))
		return res, err
	}
	res.Context = prep
	res.Revisions = make([]RevisionResult, len(prep.RevisionMapInput))
	ll.Info("Starting publishing run",
		slog.String("productID", prep.ProductID),
		slog.String("datasetID", prep.DatasetID),
		slog.Int("revisionCount", prep.RevisionCount),
		slog.Int("totalJobCount", prep.TotalJobCount))

	jobSlots := semaphore.NewWeighted(int64(r.cfg.MaxConcurrentJobs))
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrentRevisions)
	for i, revIndex := range prep.RevisionMapInput {
		g.Go(func() error {
			res.Revisions[i] = r.runRevision(ctx, ll, jobSlots, prep.WithRevision(revIndex))
			return nil
		})
	}
	_ = g.Wait()

	var merr *multierror.Error
	for _, rev := range res.Revisions {
		if rev.Err != nil {
			merr = multierror.Append(merr, rev.Err)
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		ll.Error("Publishing run finished with failures",
			slog.Int("failedRevisions", merr.Len()),
			slog.Int("revisionCount", len(res.Revisions)),
			slog.Any("error", err))
		return res, err
	}
	ll.Info("Publishing run finished",
		slog.Int("revisionCount", len(res.Revisions)),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (r *Runner) runRevision(ctx context.Context, ll *slog.Logger, jobSlots *semaphore.Weighted, wc publisher.WorkflowContext) RevisionResult {
	res := RevisionResult{RevisionMapIndex: *wc.RevisionMapIndex}

	rev, err := r.stages.CreateRevision(ctx, wc)
	if err != nil {
		res.Err = err
		return res
	}
	res.RevisionID = rev.RevisionID
	res.RevisionArn = rev.RevisionArn
	res.Jobs = make([]JobResult, len(rev.JobMapInput))

	var g errgroup.Group
	for i, jobIndex := range rev.JobMapInput {
		if err := jobSlots.Acquire(ctx, 1); err != nil {
			res.Jobs[i] = JobResult{JobMapIndex: jobIndex, Err: err}
			continue
		}
		g.Go(func() error {
			defer jobSlots.Release(1)
			res.Jobs[i] = r.runJob(ctx, rev.WithJob(jobIndex))
			return nil
		})
	}
	_ = g.Wait()

	var merr *multierror.Error
	for _, job := range res.Jobs {
		if job.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("revision %s index [%d][%d]: %w",
				res.RevisionID, res.RevisionMapIndex, job.JobMapIndex, job.Err))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		ll.Warn("Revision not finalized, some jobs did not complete",
			slog.String("revisionID", res.RevisionID),
			slog.Int("revisionMapIndex", res.RevisionMapIndex),
			slog.Int("failedJobs", merr.Len()))
		res.Err = err
		return res
	}

	fin, err := r.stages.Finalize(ctx, rev)
	if err != nil {
		res.Err = err
		return res
	}
	res.Finalized = true
	res.RevisionArn = fin.RevisionArn
	res.ChangeSetID = fin.ChangeSetID
	return res
}

func (r *Runner) runJob(ctx context.Context, wc publisher.WorkflowContext) JobResult {
	res := JobResult{JobMapIndex: *wc.JobMapIndex}

	cur, err := r.stages.RunJob(ctx, wc)
	if err != nil {
		res.Err = err
		return res
	}
	res.JobID = cur.JobID
	res.AssetCount = cur.JobAssetCount
	r.notifier.ReportAssets(ctx, cur.JobAssetCount)

	pollCtx := ctx
	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for !dataexchange.JobState(cur.JobStatus).Terminal() {
		select {
		case <-pollCtx.Done():
			res.State = dataexchange.JobState(cur.JobStatus)
			res.Err = fmt.Errorf("job %s still %s: %w", cur.JobID, cur.JobStatus, pollCtx.Err())
			return res
		case <-ticker.C:
		}
		if cur, err = r.stages.CheckJob(pollCtx, cur); err != nil {
			res.Err = err
			return res
		}
	}

	res.State = dataexchange.JobState(cur.JobStatus)
	if !res.State.Succeeded() {
		res.Err = &publisher.JobFailedError{JobID: cur.JobID, State: res.State, Details: cur.JobErrors}
	}
	return res
}
