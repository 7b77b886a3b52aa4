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

package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/adxpublisher/internal/dataexchange"
	"github.com/cardinalhq/adxpublisher/internal/manifest"
)

// Partition reads the flat manifest at Bucket/Key, expands prefix entries,
// splits the asset list into revisions and jobs, and writes the result
// next to the flat manifest. The returned context points at the
// partitioned manifest.
func (p *Publisher) Partition(ctx context.Context, wc WorkflowContext) (out WorkflowContext, err error) {
	start := time.Now()
	defer func() {
		err = finishStage(ctx, StagePartition, wc, start, err)
	}()

	if err := requireFields(wc, "Bucket", "Key"); err != nil {
		return wc, err
	}
	key := manifest.PartitionedKey(wc.Key, p.cfg.PartitionedExtension)
	if key == wc.Key {
		return wc, fmt.Errorf("%w: %s already carries the partitioned extension %q",
			ErrInvalidManifest, wc.Key, p.cfg.PartitionedExtension)
	}

	data, err := p.store.Get(ctx, wc.Bucket, wc.Key)
	if err != nil {
		return wc, remote(fmt.Sprintf("read manifest s3://%s/%s", wc.Bucket, wc.Key), err)
	}
	flat, err := manifest.ParseFlat(data)
	if err != nil {
		return wc, err
	}
	if err := flat.ValidateIdentity(); err != nil {
		return wc, err
	}

	assets, err := manifest.Expand(ctx, p.store, flat.AssetList)
	if err != nil {
		if errors.Is(err, ErrInvalidManifest) {
			return wc, err
		}
		return wc, remote("expand manifest prefixes", err)
	}
	flat.AssetList = assets

	partitioned, err := manifest.NewPartitioned(flat, p.cfg.Limits())
	if err != nil {
		return wc, err
	}
	body, err := partitioned.Marshal()
	if err != nil {
		return wc, fmt.Errorf("encode partitioned manifest: %w", err)
	}

	if err := p.store.Put(ctx, wc.Bucket, key, body); err != nil {
		return wc, remote(fmt.Sprintf("write partitioned manifest s3://%s/%s", wc.Bucket, key), err)
	}
	p.rememberPartitioned(wc.Bucket, key, partitioned)

	sum := partitioned.Summary()
	out = wc.Clone()
	out.Key = key
	out.ProductID = partitioned.ProductID
	out.DatasetID = partitioned.DatasetID
	out.RevisionCount = sum.RevisionCount
	out.TotalJobCount = sum.TotalJobCount
	out.TotalAssetCount = sum.TotalAssetCount
	out.RevisionJobCounts = sum.RevisionJobCounts
	out.Message = fmt.Sprintf("Partitioned %d assets into %d revisions and %d jobs",
		sum.TotalAssetCount, sum.RevisionCount, sum.TotalJobCount)

	logStageMetrics(ctx, StagePartition, out,
		slog.String("manifestKey", key),
		slog.Int("revisionCount", sum.RevisionCount),
		slog.Int("totalJobCount", sum.TotalJobCount),
		slog.Int("totalAssetCount", sum.TotalAssetCount),
		slog.Any("revisionAssetCounts", sum.RevisionAssetCounts),
	)
	return out, nil
}

// PrepareRevisionMap reads the partitioned manifest and produces the
// revision indices to fan out over. A manifest with no revisions yields
// an empty index list, not an error.
func (p *Publisher) PrepareRevisionMap(ctx context.Context, wc WorkflowContext) (out WorkflowContext, err error) {
	start := time.Now()
	defer func() {
		err = finishStage(ctx, StagePrepareRevisionMap, wc, start, err)
	}()

	if err := requireFields(wc, "Bucket", "Key"); err != nil {
		return wc, err
	}
	m, err := p.loadPartitioned(ctx, wc.Bucket, wc.Key)
	if err != nil {
		return wc, err
	}

	sum := m.Summary()
	out = wc.Clone()
	out.ProductID = m.ProductID
	out.DatasetID = m.DatasetID
	out.RevisionMapInput = manifest.Indices(sum.RevisionCount)
	out.RevisionCount = sum.RevisionCount
	out.TotalJobCount = sum.TotalJobCount
	out.TotalAssetCount = sum.TotalAssetCount
	out.RevisionJobCounts = sum.RevisionJobCounts
	out.Message = fmt.Sprintf("Input generated for %d revisions and %d jobs", sum.RevisionCount, sum.TotalJobCount)

	logStageMetrics(ctx, StagePrepareRevisionMap, out,
		slog.Int("revisionCount", sum.RevisionCount),
		slog.Int("totalJobCount", sum.TotalJobCount),
		slog.Any("revisionJobCounts", sum.RevisionJobCounts),
	)
	return out, nil
}

// CreateRevision creates exactly one revision for RevisionMapIndex and
// produces the job indices for it.
func (p *Publisher) CreateRevision(ctx context.Context, wc WorkflowContext) (out WorkflowContext, err error) {
	start := time.Now()
	defer func() {
		err = finishStage(ctx, StageCreateRevision, wc, start, err)
	}()

	if err := requireFields(wc, "Bucket", "Key", "DatasetId", "RevisionMapIndex"); err != nil {
		return wc, err
	}
	m, err := p.loadPartitioned(ctx, wc.Bucket, wc.Key)
	if err != nil {
		return wc, err
	}
	revIndex := *wc.RevisionMapIndex
	jobs, err := m.Revision(revIndex)
	if err != nil {
		return wc, err
	}
	assetCount, err := m.RevisionAssetCount(revIndex)
	if err != nil {
		return wc, err
	}

	comment := m.Comment
	if comment == "" {
		comment = p.cfg.DefaultComment
	}
	rev, err := p.svc.CreateRevision(ctx, wc.DatasetID, comment)
	if err != nil {
		return wc, remote("create revision", err)
	}

	out = wc.Clone()
	out.RevisionID = rev.ID
	out.RevisionArn = rev.Arn
	out.JobMapInput = manifest.Indices(len(jobs))
	out.NumJobs = len(jobs)
	out.NumRevisionAssets = assetCount
	out.Message = fmt.Sprintf("New revision created with RevisionId: %s and input generated for %d jobs", rev.ID, len(jobs))

	logStageMetrics(ctx, StageCreateRevision, out,
		slog.Int("revisionAssetCount", assetCount),
		slog.Int("revisionJobCount", len(jobs)),
	)
	return out, nil
}

// RunJob creates an import job for the assets at
// [RevisionMapIndex][JobMapIndex] and starts it. It is not idempotent: each
// call creates a new remote job.
func (p *Publisher) RunJob(ctx context.Context, wc WorkflowContext) (out WorkflowContext, err error) {
	start := time.Now()
	// loc gains the job id once the job exists, so a failed start still
	// points at the job it left behind.
	loc := wc
	defer func() {
		err = finishStage(ctx, StageRunJob, loc, start, err)
	}()

	if err := requireFields(wc, "Bucket", "Key", "DatasetId", "RevisionId", "RevisionMapIndex", "JobMapIndex"); err != nil {
		return wc, err
	}
	m, err := p.loadPartitioned(ctx, wc.Bucket, wc.Key)
	if err != nil {
		return wc, err
	}
	assets, err := m.Job(*wc.RevisionMapIndex, *wc.JobMapIndex)
	if err != nil {
		return wc, err
	}

	job, err := p.svc.CreateImportJob(ctx, wc.DatasetID, wc.RevisionID, assets)
	if err != nil {
		return wc, remote("create import job", err)
	}
	jobID := job.ID
	if job.Arn != "" {
		if jobID, err = dataexchange.JobIDFromArn(job.Arn); err != nil {
			return wc, err
		}
	}
	loc.JobID = jobID

	if err := p.svc.StartJob(ctx, jobID); err != nil {
		return wc, remote("start job", err)
	}
	snapshot, err := p.svc.GetJob(ctx, jobID)
	if err != nil {
		return wc, remote("get job", err)
	}

	out = wc.Clone()
	out.JobID = jobID
	out.JobStatus = string(snapshot.State)
	out.JobAssetCount = len(assets)
	out.Message = fmt.Sprintf("Import job %s started with %d assets", jobID, len(assets))

	logStageMetrics(ctx, StageRunJob, out,
		slog.Int("jobAssetCount", len(assets)),
		slog.String("jobStatus", out.JobStatus),
	)
	return out, nil
}

// CheckJob is a single status read. Deciding whether to poll again is the
// caller's business.
func (p *Publisher) CheckJob(ctx context.Context, wc WorkflowContext) (out WorkflowContext, err error) {
	start := time.Now()
	defer func() {
		err = finishStage(ctx, StageCheckJob, wc, start, err)
	}()

	if err := requireFields(wc, "JobId"); err != nil {
		return wc, err
	}
	job, err := p.svc.GetJob(ctx, wc.JobID)
	if err != nil {
		return wc, remote("get job", err)
	}

	out = wc.Clone()
	out.JobStatus = string(job.State)
	out.JobErrors = nil
	for _, je := range job.Errors {
		out.JobErrors = append(out.JobErrors, je.String())
	}

	logStageMetrics(ctx, StageCheckJob, out, slog.String("jobStatus", out.JobStatus))
	return out, nil
}

// Finalize marks the revision finalized, resolves the product's catalog
// entity and, unless the catalog auto-publishes, adds the revision to the
// product through a change set. Any failure after the revision is
// finalized is a *PartialFinalizeError.
func (p *Publisher) Finalize(ctx context.Context, wc WorkflowContext) (out WorkflowContext, err error) {
	start := time.Now()
	defer func() {
		err = finishStage(ctx, StageFinalize, wc, start, err)
	}()

	if err := requireFields(wc, "ProductId", "DatasetId", "RevisionId"); err != nil {
		return wc, err
	}

	rev, err := p.svc.FinalizeRevision(ctx, wc.DatasetID, wc.RevisionID)
	if err != nil {
		return wc, remote("finalize revision", err)
	}
	partial := func(changeSetID string, cause error) error {
		return &PartialFinalizeError{
			RevisionID:  wc.RevisionID,
			RevisionArn: rev.Arn,
			ChangeSetID: changeSetID,
			Err:         cause,
		}
	}

	entity, err := p.svc.DescribeEntity(ctx, p.catalog.Name, wc.ProductID)
	if err != nil {
		return wc, partial("", remote("describe catalog entity", err))
	}

	out = wc.Clone()
	out.RevisionArn = rev.Arn
	out.Message = "Revision Finalized"

	if !p.catalog.AutoPublish {
		changeSetID, err := p.addRevisionToProduct(ctx, entity, rev)
		if err != nil {
			return wc, partial(changeSetID, err)
		}
		out.ChangeSetID = changeSetID
		out.Message = "Revision Finalized and added to product"
	}

	logStageMetrics(ctx, StageFinalize, out,
		slog.String("entityIdentifier", entity.Identifier),
		slog.Bool("autoPublish", p.catalog.AutoPublish),
		slog.String("changeSetID", out.ChangeSetID),
	)
	return out, nil
}

type addRevisionsDetails struct {
	DataSetArn   string   `json:"DataSetArn"`
	RevisionArns []string `json:"RevisionArns"`
}

func (p *Publisher) addRevisionToProduct(ctx context.Context, entity dataexchange.Entity, rev dataexchange.Revision) (string, error) {
	dataSetArn, err := dataexchange.DataSetArnFromRevisionArn(rev.Arn)
	if err != nil {
		return "", err
	}
	details, err := json.Marshal(addRevisionsDetails{
		DataSetArn:   dataSetArn,
		RevisionArns: []string{rev.Arn},
	})
	if err != nil {
		return "", err
	}

	changeSetID, err := p.svc.StartChangeSet(ctx, p.catalog.Name, []dataexchange.Change{{
		ChangeType:       "AddRevisions",
		EntityIdentifier: entity.Identifier,
		EntityType:       p.catalog.EntityType,
		Details:          string(details),
	}})
	if err != nil {
		return "", remote("start change set", err)
	}
	return changeSetID, p.waitForChangeSet(ctx, changeSetID)
}

func (p *Publisher) waitForChangeSet(ctx context.Context, changeSetID string) error {
	if p.catalog.ChangeSetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.catalog.ChangeSetTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(p.catalog.ChangeSetPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("change set %s did not complete: %w", changeSetID, ctx.Err())
		case <-ticker.C:
		}

		cs, err := p.svc.DescribeChangeSet(ctx, p.catalog.Name, changeSetID)
		if err != nil {
			return remote("describe change set", err)
		}
		switch cs.Status {
		case dataexchange.ChangeSetSucceeded:
			slog.Info("Change set succeeded", slog.String("changeSetID", changeSetID))
			return nil
		case dataexchange.ChangeSetFailed, dataexchange.ChangeSetCancelled:
			return fmt.Errorf("change set %s %s: %s %v", changeSetID, cs.Status, cs.FailureDescription, cs.ErrorDetails)
		}
	}
}
