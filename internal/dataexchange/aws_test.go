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
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	dx "github.com/aws/aws-sdk-go-v2/service/dataexchange"
	dxtypes "github.com/aws/aws-sdk-go-v2/service/dataexchange/types"
	mc "github.com/aws/aws-sdk-go-v2/service/marketplacecatalog"
	mctypes "github.com/aws/aws-sdk-go-v2/service/marketplacecatalog/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/adxpublisher/internal/manifest"
)

type mockDX struct {
	mock.Mock
}

func (m *mockDX) CreateRevision(ctx context.Context, in *dx.CreateRevisionInput, _ ...func(*dx.Options)) (*dx.CreateRevisionOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dx.CreateRevisionOutput)
	return out, args.Error(1)
}

func (m *mockDX) CreateJob(ctx context.Context, in *dx.CreateJobInput, _ ...func(*dx.Options)) (*dx.CreateJobOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dx.CreateJobOutput)
	return out, args.Error(1)
}

func (m *mockDX) StartJob(ctx context.Context, in *dx.StartJobInput, _ ...func(*dx.Options)) (*dx.StartJobOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dx.StartJobOutput)
	return out, args.Error(1)
}

func (m *mockDX) GetJob(ctx context.Context, in *dx.GetJobInput, _ ...func(*dx.Options)) (*dx.GetJobOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dx.GetJobOutput)
	return out, args.Error(1)
}

func (m *mockDX) UpdateRevision(ctx context.Context, in *dx.UpdateRevisionInput, _ ...func(*dx.Options)) (*dx.UpdateRevisionOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dx.UpdateRevisionOutput)
	return out, args.Error(1)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) DescribeEntity(ctx context.Context, in *mc.DescribeEntityInput, _ ...func(*mc.Options)) (*mc.DescribeEntityOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*mc.DescribeEntityOutput)
	return out, args.Error(1)
}

func (m *mockCatalog) StartChangeSet(ctx context.Context, in *mc.StartChangeSetInput, _ ...func(*mc.Options)) (*mc.StartChangeSetOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*mc.StartChangeSetOutput)
	return out, args.Error(1)
}

func (m *mockCatalog) DescribeChangeSet(ctx context.Context, in *mc.DescribeChangeSetInput, _ ...func(*mc.Options)) (*mc.DescribeChangeSetOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*mc.DescribeChangeSetOutput)
	return out, args.Error(1)
}

func TestCreateRevision(t *testing.T) {
	d := &mockDX{}
	svc := newAWSService(d, &mockCatalog{}, nil)

	d.On("CreateRevision", mock.Anything, mock.MatchedBy(func(in *dx.CreateRevisionInput) bool {
		return aws.ToString(in.DataSetId) == "ds-1" && aws.ToString(in.Comment) == "nightly"
	})).Return(&dx.CreateRevisionOutput{
		Id:  aws.String("rev-1"),
		Arn: aws.String("arn:aws:dataexchange:us-east-1:123456789012:data-sets/ds-1/revisions/rev-1"),
	}, nil)

	rev, err := svc.CreateRevision(context.Background(), "ds-1", "nightly")
	require.NoError(t, err)
	assert.Equal(t, "rev-1", rev.ID)
	assert.False(t, rev.Finalized)
	d.AssertExpectations(t)
}

func TestCreateImportJobBuildsAssetSources(t *testing.T) {
	d := &mockDX{}
	svc := newAWSService(d, &mockCatalog{}, nil)

	assets := []manifest.AssetRef{
		{Bucket: "b", Key: "a.csv"},
		{Bucket: "b", Key: "b.csv"},
	}
	d.On("CreateJob", mock.Anything, mock.MatchedBy(func(in *dx.CreateJobInput) bool {
		if in.Type != dxtypes.TypeImportAssetsFromS3 || in.Details == nil || in.Details.ImportAssetsFromS3 == nil {
			return false
		}
		req := in.Details.ImportAssetsFromS3
		return aws.ToString(req.DataSetId) == "ds-1" &&
			aws.ToString(req.RevisionId) == "rev-1" &&
			len(req.AssetSources) == 2 &&
			aws.ToString(req.AssetSources[1].Key) == "b.csv"
	})).Return(&dx.CreateJobOutput{
		Id:    aws.String("job-1"),
		Arn:   aws.String("arn:aws:dataexchange:us-east-1:123456789012:jobs/job-1"),
		State: dxtypes.StateWaiting,
	}, nil)

	job, err := svc.CreateImportJob(context.Background(), "ds-1", "rev-1", assets)
	require.NoError(t, err)
	assert.Equal(t, JobStateWaiting, job.State)
	assert.Equal(t, "arn:aws:dataexchange:us-east-1:123456789012:jobs/job-1", job.Arn)
	d.AssertExpectations(t)
}

func TestGetJobCollectsErrors(t *testing.T) {
	d := &mockDX{}
	svc := newAWSService(d, &mockCatalog{}, nil)

	d.On("GetJob", mock.Anything, mock.Anything).Return(&dx.GetJobOutput{
		Id:    aws.String("job-1"),
		State: dxtypes.StateError,
		Errors: []dxtypes.JobError{
			{Code: dxtypes.CodeAccessDeniedException, Message: aws.String("no read on bucket")},
		},
	}, nil)

	job, err := svc.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateError, job.State)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, "ACCESS_DENIED_EXCEPTION: no read on bucket", job.Errors[0].String())
}

func TestStartJobWrapsError(t *testing.T) {
	d := &mockDX{}
	svc := newAWSService(d, &mockCatalog{}, nil)
	boom := errors.New("throttled")

	d.On("StartJob", mock.Anything, mock.Anything).Return(nil, boom)

	err := svc.StartJob(context.Background(), "job-1")
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "job-1")
}

func TestFinalizeRevision(t *testing.T) {
	d := &mockDX{}
	svc := newAWSService(d, &mockCatalog{}, nil)

	d.On("UpdateRevision", mock.Anything, mock.MatchedBy(func(in *dx.UpdateRevisionInput) bool {
		return aws.ToBool(in.Finalized) && aws.ToString(in.RevisionId) == "rev-1"
	})).Return(&dx.UpdateRevisionOutput{
		Id:        aws.String("rev-1"),
		Arn:       aws.String("arn:aws:dataexchange:us-east-1:123456789012:data-sets/ds-1/revisions/rev-1"),
		Finalized: true,
	}, nil)

	rev, err := svc.FinalizeRevision(context.Background(), "ds-1", "rev-1")
	require.NoError(t, err)
	assert.True(t, rev.Finalized)
}

func TestCatalogCalls(t *testing.T) {
	c := &mockCatalog{}
	svc := newAWSService(&mockDX{}, c, nil)
	ctx := context.Background()

	c.On("DescribeEntity", mock.Anything, mock.MatchedBy(func(in *mc.DescribeEntityInput) bool {
		return aws.ToString(in.Catalog) == "AWSMarketplace" && aws.ToString(in.EntityId) == "prod-1"
	})).Return(&mc.DescribeEntityOutput{
		EntityIdentifier: aws.String("prod-1@3"),
		EntityType:       aws.String("DataProduct@1.0"),
	}, nil)

	c.On("StartChangeSet", mock.Anything, mock.MatchedBy(func(in *mc.StartChangeSetInput) bool {
		return len(in.ChangeSet) == 1 &&
			aws.ToString(in.ChangeSet[0].ChangeType) == "AddRevisions" &&
			aws.ToString(in.ChangeSet[0].Entity.Identifier) == "prod-1@3"
	})).Return(&mc.StartChangeSetOutput{ChangeSetId: aws.String("cs-1")}, nil)

	c.On("DescribeChangeSet", mock.Anything, mock.Anything).Return(&mc.DescribeChangeSetOutput{
		Status:             mctypes.ChangeStatusFailed,
		FailureDescription: aws.String("validation failed"),
		ChangeSet: []mctypes.ChangeSummary{{
			ErrorDetailList: []mctypes.ErrorDetail{{
				ErrorCode:    aws.String("INVALID_INPUT"),
				ErrorMessage: aws.String("revision not finalized"),
			}},
		}},
	}, nil)

	ent, err := svc.DescribeEntity(ctx, "AWSMarketplace", "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "prod-1@3", ent.Identifier)

	id, err := svc.StartChangeSet(ctx, "AWSMarketplace", []Change{{
		ChangeType:       "AddRevisions",
		EntityIdentifier: ent.Identifier,
		EntityType:       ent.Type,
		Details:          `{}`,
	}})
	require.NoError(t, err)
	assert.Equal(t, "cs-1", id)

	cs, err := svc.DescribeChangeSet(ctx, "AWSMarketplace", id)
	require.NoError(t, err)
	assert.Equal(t, ChangeSetFailed, cs.Status)
	assert.True(t, cs.Status.Terminal())
	assert.Equal(t, []string{"INVALID_INPUT: revision not finalized"}, cs.ErrorDetails)
	c.AssertExpectations(t)
}
