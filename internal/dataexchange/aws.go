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

package dataexchange

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	dx "github.com/aws/aws-sdk-go-v2/service/dataexchange"
	dxtypes "github.com/aws/aws-sdk-go-v2/service/dataexchange/types"
	mc "github.com/aws/aws-sdk-go-v2/service/marketplacecatalog"
	mctypes "github.com/aws/aws-sdk-go-v2/service/marketplacecatalog/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/adxpublisher/internal/awsclient"
	"github.com/cardinalhq/adxpublisher/internal/manifest"
)

type dataExchangeAPI interface {
	CreateRevision(ctx context.Context, params *dx.CreateRevisionInput, optFns ...func(*dx.Options)) (*dx.CreateRevisionOutput, error)
	CreateJob(ctx context.Context, params *dx.CreateJobInput, optFns ...func(*dx.Options)) (*dx.CreateJobOutput, error)
	StartJob(ctx context.Context, params *dx.StartJobInput, optFns ...func(*dx.Options)) (*dx.StartJobOutput, error)
	GetJob(ctx context.Context, params *dx.GetJobInput, optFns ...func(*dx.Options)) (*dx.GetJobOutput, error)
	UpdateRevision(ctx context.Context, params *dx.UpdateRevisionInput, optFns ...func(*dx.Options)) (*dx.UpdateRevisionOutput, error)
}

type catalogAPI interface {
	DescribeEntity(ctx context.Context, params *mc.DescribeEntityInput, optFns ...func(*mc.Options)) (*mc.DescribeEntityOutput, error)
	StartChangeSet(ctx context.Context, params *mc.StartChangeSetInput, optFns ...func(*mc.Options)) (*mc.StartChangeSetOutput, error)
	DescribeChangeSet(ctx context.Context, params *mc.DescribeChangeSetInput, optFns ...func(*mc.Options)) (*mc.DescribeChangeSetOutput, error)
}

// AWSService implements Service with AWS Data Exchange and the AWS
// Marketplace Catalog API.
type AWSService struct {
	dx      dataExchangeAPI
	catalog catalogAPI
	tracer  trace.Tracer
}

var _ Service = (*AWSService)(nil)

func NewAWSService(dxc *awsclient.DataExchangeClient, cc *awsclient.CatalogClient) *AWSService {
	return newAWSService(dxc.Client, cc.Client, dxc.Tracer)
}

func newAWSService(d dataExchangeAPI, c catalogAPI, tracer trace.Tracer) *AWSService {
	if tracer == nil {
		tracer = otel.Tracer("github.com/cardinalhq/adxpublisher/internal/dataexchange")
	}
	return &AWSService{dx: d, catalog: c, tracer: tracer}
}

func (s *AWSService) CreateRevision(ctx context.Context, datasetID, comment string) (Revision, error) {
	ctx, span := s.tracer.Start(ctx, "dataexchange.CreateRevision",
		trace.WithAttributes(attribute.String("datasetID", datasetID)))
	defer span.End()

	out, err := s.dx.CreateRevision(ctx, &dx.CreateRevisionInput{
		DataSetId: aws.String(datasetID),
		Comment:   aws.String(comment),
	})
	if err != nil {
		span.RecordError(err)
		return Revision{}, fmt.Errorf("create revision for data set %s: %w", datasetID, err)
	}
	return Revision{
		ID:        aws.ToString(out.Id),
		Arn:       aws.ToString(out.Arn),
		Finalized: out.Finalized,
	}, nil
}

func (s *AWSService) CreateImportJob(ctx context.Context, datasetID, revisionID string, assets []manifest.AssetRef) (Job, error) {
	ctx, span := s.tracer.Start(ctx, "dataexchange.CreateImportJob",
		trace.WithAttributes(
			attribute.String("datasetID", datasetID),
			attribute.String("revisionID", revisionID),
			attribute.Int("assets", len(assets)),
		))
	defer span.End()

	sources := make([]dxtypes.AssetSourceEntry, len(assets))
	for i, a := range assets {
		sources[i] = dxtypes.AssetSourceEntry{
			Bucket: aws.String(a.Bucket),
			Key:    aws.String(a.Key),
		}
	}

	out, err := s.dx.CreateJob(ctx, &dx.CreateJobInput{
		Type: dxtypes.TypeImportAssetsFromS3,
		Details: &dxtypes.RequestDetails{
			ImportAssetsFromS3: &dxtypes.ImportAssetsFromS3RequestDetails{
				AssetSources: sources,
				DataSetId:    aws.String(datasetID),
				RevisionId:   aws.String(revisionID),
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		return Job{}, fmt.Errorf("create import job for revision %s: %w", revisionID, err)
	}
	return Job{
		ID:    aws.ToString(out.Id),
		Arn:   aws.ToString(out.Arn),
		State: JobState(out.State),
	}, nil
}

func (s *AWSService) StartJob(ctx context.Context, jobID string) error {
	ctx, span := s.tracer.Start(ctx, "dataexchange.StartJob",
		trace.WithAttributes(attribute.String("jobID", jobID)))
	defer span.End()

	if _, err := s.dx.StartJob(ctx, &dx.StartJobInput{JobId: aws.String(jobID)}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	return nil
}

func (s *AWSService) GetJob(ctx context.Context, jobID string) (Job, error) {
	out, err := s.dx.GetJob(ctx, &dx.GetJobInput{JobId: aws.String(jobID)})
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	job := Job{
		ID:    aws.ToString(out.Id),
		Arn:   aws.ToString(out.Arn),
		State: JobState(out.State),
	}
	for _, e := range out.Errors {
		job.Errors = append(job.Errors, JobError{
			Code:    string(e.Code),
			Message: aws.ToString(e.Message),
		})
	}
	return job, nil
}

func (s *AWSService) FinalizeRevision(ctx context.Context, datasetID, revisionID string) (Revision, error) {
	ctx, span := s.tracer.Start(ctx, "dataexchange.FinalizeRevision",
		trace.WithAttributes(
			attribute.String("datasetID", datasetID),
			attribute.String("revisionID", revisionID),
		))
	defer span.End()

	out, err := s.dx.UpdateRevision(ctx, &dx.UpdateRevisionInput{
		DataSetId:  aws.String(datasetID),
		RevisionId: aws.String(revisionID),
		Finalized:  aws.Bool(true),
	})
	if err != nil {
		span.RecordError(err)
		return Revision{}, fmt.Errorf("finalize revision %s: %w", revisionID, err)
	}
	return Revision{
		ID:        aws.ToString(out.Id),
		Arn:       aws.ToString(out.Arn),
		Finalized: out.Finalized,
	}, nil
}

func (s *AWSService) DescribeEntity(ctx context.Context, catalog, entityID string) (Entity, error) {
	out, err := s.catalog.DescribeEntity(ctx, &mc.DescribeEntityInput{
		Catalog:  aws.String(catalog),
		EntityId: aws.String(entityID),
	})
	if err != nil {
		return Entity{}, fmt.Errorf("describe entity %s in %s: %w", entityID, catalog, err)
	}
	return Entity{
		Identifier: aws.ToString(out.EntityIdentifier),
		Arn:        aws.ToString(out.EntityArn),
		Type:       aws.ToString(out.EntityType),
	}, nil
}

func (s *AWSService) StartChangeSet(ctx context.Context, catalog string, changes []Change) (string, error) {
	ctx, span := s.tracer.Start(ctx, "dataexchange.StartChangeSet",
		trace.WithAttributes(attribute.Int("changes", len(changes))))
	defer span.End()

	cs := make([]mctypes.Change, len(changes))
	for i, c := range changes {
		cs[i] = mctypes.Change{
			ChangeType: aws.String(c.ChangeType),
			Entity: &mctypes.Entity{
				Identifier: aws.String(c.EntityIdentifier),
				Type:       aws.String(c.EntityType),
			},
			Details: aws.String(c.Details),
		}
	}

	out, err := s.catalog.StartChangeSet(ctx, &mc.StartChangeSetInput{
		Catalog:   aws.String(catalog),
		ChangeSet: cs,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("start change set in %s: %w", catalog, err)
	}
	return aws.ToString(out.ChangeSetId), nil
}

func (s *AWSService) DescribeChangeSet(ctx context.Context, catalog, changeSetID string) (ChangeSet, error) {
	out, err := s.catalog.DescribeChangeSet(ctx, &mc.DescribeChangeSetInput{
		Catalog:     aws.String(catalog),
		ChangeSetId: aws.String(changeSetID),
	})
	if err != nil {
		return ChangeSet{}, fmt.Errorf("describe change set %s: %w", changeSetID, err)
	}
	cs := ChangeSet{
		ID:                 changeSetID,
		Status:             ChangeSetStatus(out.Status),
		FailureDescription: aws.ToString(out.FailureDescription),
	}
	for _, summary := range out.ChangeSet {
		for _, d := range summary.ErrorDetailList {
			cs.ErrorDetails = append(cs.ErrorDetails, aws.ToString(d.ErrorCode)+": "+aws.ToString(d.ErrorMessage))
		}
	}
	return cs, nil
}
