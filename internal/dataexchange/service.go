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

// Package dataexchange is the dataset and catalog collaborator: revisions
// and import jobs on the data exchange side, entities and change sets on
// the marketplace catalog side.
package dataexchange

import (
	"context"
	"fmt"
	"strings"

	"github.com/cardinalhq/adxpublisher/internal/manifest"
)

// JobState uses the remote service's vocabulary.
type JobState string

const (
	JobStateWaiting    JobState = "WAITING"
	JobStateInProgress JobState = "IN_PROGRESS"
	JobStateCompleted  JobState = "COMPLETED"
	JobStateError      JobState = "ERROR"
	JobStateCancelled  JobState = "CANCELLED"
	JobStateTimedOut   JobState = "TIMED_OUT"
)

// Terminal reports whether the job will not change state again.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateError, JobStateCancelled, JobStateTimedOut:
		return true
	default:
		return false
	}
}

func (s JobState) Succeeded() bool {
	return s == JobStateCompleted
}

// Revision is a dataset revision as returned by create or finalize.
type Revision struct {
	ID        string
	Arn       string
	Finalized bool
}

type JobError struct {
	Code    string
	Message string
}

func (e JobError) String() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

type Job struct {
	ID     string
	Arn    string
	State  JobState
	Errors []JobError
}

// Entity is the catalog record of a product.
type Entity struct {
	Identifier string
	Arn        string
	Type       string
}

type ChangeSetStatus string

const (
	ChangeSetPreparing ChangeSetStatus = "PREPARING"
	ChangeSetApplying  ChangeSetStatus = "APPLYING"
	ChangeSetSucceeded ChangeSetStatus = "SUCCEEDED"
	ChangeSetCancelled ChangeSetStatus = "CANCELLED"
	ChangeSetFailed    ChangeSetStatus = "FAILED"
)

func (s ChangeSetStatus) Terminal() bool {
	return s == ChangeSetSucceeded || s == ChangeSetCancelled || s == ChangeSetFailed
}

// Change is one entry of a catalog change set.
type Change struct {
	ChangeType       string
	EntityIdentifier string
	EntityType       string
	Details          string
}

type ChangeSet struct {
	ID                 string
	Status             ChangeSetStatus
	FailureDescription string
	ErrorDetails       []string
}

// Service is everything the publishing stages need from the remote side.
type Service interface {
	CreateRevision(ctx context.Context, datasetID, comment string) (Revision, error)
	CreateImportJob(ctx context.Context, datasetID, revisionID string, assets []manifest.AssetRef) (Job, error)
	StartJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// FinalizeRevision is irreversible.
	FinalizeRevision(ctx context.Context, datasetID, revisionID string) (Revision, error)
	DescribeEntity(ctx context.Context, catalog, entityID string) (Entity, error)
	StartChangeSet(ctx context.Context, catalog string, changes []Change) (string, error)
	DescribeChangeSet(ctx context.Context, catalog, changeSetID string) (ChangeSet, error)
}

// JobIDFromArn returns the second '/'-separated segment of a job ARN,
// e.g. "arn:aws:dataexchange:us-east-1:123456789012:jobs/<id>".
func JobIDFromArn(arn string) (string, error) {
	parts := strings.Split(arn, "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("job arn %q has no id segment", arn)
	}
	return parts[1], nil
}

// DataSetArnFromRevisionArn keeps the first two '/'-separated segments of
// "arn:...:data-sets/<dataset>/revisions/<revision>".
func DataSetArnFromRevisionArn(arn string) (string, error) {
	parts := strings.Split(arn, "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("revision arn %q has no data set segment", arn)
	}
	return parts[0] + "/" + parts[1], nil
}
