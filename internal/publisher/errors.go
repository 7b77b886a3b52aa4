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
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/cardinalhq/adxpublisher/internal/dataexchange"
	"github.com/cardinalhq/adxpublisher/internal/manifest"
	"github.com/cardinalhq/adxpublisher/internal/objstore"
)

// ErrInvalidManifest marks a manifest that can never be published as-is.
// It is fatal and is always raised before any remote mutation.
var ErrInvalidManifest = manifest.ErrInvalid

// RemoteServiceError is any failure from storage or the dataset/catalog
// service, carried unchanged.
type RemoteServiceError struct {
	Op  string
	Err error
}

func (e *RemoteServiceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}

// Code returns the remote API error code, if the cause carries one.
func (e *RemoteServiceError) Code() string {
	var apiErr smithy.APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsNotFound reports whether the remote side said the thing does not exist.
func (e *RemoteServiceError) IsNotFound() bool {
	if errors.Is(e.Err, objstore.ErrNotFound) {
		return true
	}
	switch e.Code() {
	case "ResourceNotFoundException", "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func remote(op string, err error) error {
	if err == nil {
		return nil
	}
	var rse *RemoteServiceError
	if errors.As(err, &rse) {
		return err
	}
	return &RemoteServiceError{Op: op, Err: err}
}

// StageError locates a failure: which stage, which identifiers, and which
// branch of the fan-out.
type StageError struct {
	Stage            string
	ProductID        string
	DatasetID        string
	RevisionID       string
	JobID            string
	RevisionMapIndex *int
	JobMapIndex      *int
	Err              error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString("stage ")
	b.WriteString(e.Stage)
	field := func(name, v string) {
		if v != "" {
			fmt.Fprintf(&b, " %s=%s", name, v)
		}
	}
	field("product", e.ProductID)
	field("dataset", e.DatasetID)
	field("revision", e.RevisionID)
	field("job", e.JobID)
	if path := e.IndexPath(); path != "" {
		fmt.Fprintf(&b, " index=%s", path)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IndexPath renders the branch position as "[r]" or "[r][j]".
func (e *StageError) IndexPath() string {
	if e.RevisionMapIndex == nil {
		return ""
	}
	if e.JobMapIndex == nil {
		return fmt.Sprintf("[%d]", *e.RevisionMapIndex)
	}
	return fmt.Sprintf("[%d][%d]", *e.RevisionMapIndex, *e.JobMapIndex)
}

func stageError(stage string, wc WorkflowContext, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{
		Stage:            stage,
		ProductID:        wc.ProductID,
		DatasetID:        wc.DatasetID,
		RevisionID:       wc.RevisionID,
		JobID:            wc.JobID,
		RevisionMapIndex: wc.RevisionMapIndex,
		JobMapIndex:      wc.JobMapIndex,
		Err:              err,
	}
}

// PartialFinalizeError means the revision is finalized, and therefore
// immutable, but the catalog was not updated to reference it.
type PartialFinalizeError struct {
	RevisionID  string
	RevisionArn string
	ChangeSetID string
	Err         error
}

func (e *PartialFinalizeError) Error() string {
	msg := fmt.Sprintf("revision %s finalized but catalog not updated", e.RevisionID)
	if e.ChangeSetID != "" {
		msg += " (change set " + e.ChangeSetID + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *PartialFinalizeError) Unwrap() error {
	return e.Err
}

// JobFailedError is a job that reached a terminal state other than
// COMPLETED.
type JobFailedError struct {
	JobID   string
	State   dataexchange.JobState
	Details []string
}

func (e *JobFailedError) Error() string {
	msg := fmt.Sprintf("job %s ended in state %s", e.JobID, e.State)
	if len(e.Details) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(e.Details, "; ")
}

// IsPermanent reports whether retrying the same input can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidManifest)
}
