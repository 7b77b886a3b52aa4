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

package testhelpers

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/cardinalhq/adxpublisher/internal/dataexchange"
	"github.com/cardinalhq/adxpublisher/internal/manifest"
)

const fakeArnPrefix = "arn:aws:dataexchange:us-east-1:123456789012:"

type FakeRevision struct {
	ID        string
	Arn       string
	DatasetID string
	Comment   string
	Finalized bool
}

type FakeJob struct {
	ID         string
	Arn        string
	DatasetID  string
	RevisionID string
	Assets     []manifest.AssetRef
	Started    bool
	State      dataexchange.JobState
	Polls      int
}

// FakeDataExchange is an in-memory dataexchange.Service. Started jobs move
// to IN_PROGRESS and reach their final state after PollsToComplete reads.
type FakeDataExchange struct {
	mu sync.Mutex

	revisions  map[string]*FakeRevision
	jobs       map[string]*FakeJob
	changeSets map[string]int
	calls      map[string]int
	errs       map[string]error
	seq        int

	// PollsToComplete is how many GetJob reads a started job needs before
	// it reaches its final state. Zero means the first read.
	PollsToComplete int
	// FinalState decides each job's final state. Nil means COMPLETED.
	FinalState func(job FakeJob) dataexchange.JobState
	// ChangeSetStatuses is the status sequence every change set reports
	// on successive DescribeChangeSet calls; the last entry repeats.
	ChangeSetStatuses []dataexchange.ChangeSetStatus
}

var _ dataexchange.Service = (*FakeDataExchange)(nil)

func NewFakeDataExchange() *FakeDataExchange {
	return &FakeDataExchange{
		revisions:         map[string]*FakeRevision{},
		jobs:              map[string]*FakeJob{},
		changeSets:        map[string]int{},
		calls:             map[string]int{},
		errs:              map[string]error{},
		ChangeSetStatuses: []dataexchange.ChangeSetStatus{dataexchange.ChangeSetSucceeded},
	}
}

// FailOn makes every call to method return err. A nil err clears it.
func (f *FakeDataExchange) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

func (f *FakeDataExchange) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeDataExchange) Revisions() []FakeRevision {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeRevision, 0, len(f.revisions))
	for _, r := range f.revisions {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b FakeRevision) int { return compareIDs(a.ID, b.ID) })
	return out
}

func (f *FakeDataExchange) Jobs() []FakeJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		c := *j
		c.Assets = slices.Clone(j.Assets)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b FakeJob) int { return compareIDs(a.ID, b.ID) })
	return out
}

func compareIDs(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// enter records a call and returns the injected error, if any. Callers
// hold f.mu.
func (f *FakeDataExchange) enter(method string) error {
	f.calls[method]++
	return f.errs[method]
}

func (f *FakeDataExchange) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *FakeDataExchange) CreateRevision(_ context.Context, datasetID, comment string) (dataexchange.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateRevision"); err != nil {
		return dataexchange.Revision{}, err
	}
	id := f.nextID("rev")
	r := &FakeRevision{
		ID:        id,
		Arn:       fakeArnPrefix + "data-sets/" + datasetID + "/revisions/" + id,
		DatasetID: datasetID,
		Comment:   comment,
	}
	f.revisions[id] = r
	return dataexchange.Revision{ID: r.ID, Arn: r.Arn}, nil
}

func (f *FakeDataExchange) CreateImportJob(_ context.Context, datasetID, revisionID string, assets []manifest.AssetRef) (dataexchange.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateImportJob"); err != nil {
		return dataexchange.Job{}, err
	}
	rev, ok := f.revisions[revisionID]
	if !ok {
		return dataexchange.Job{}, fmt.Errorf("revision %s not found", revisionID)
	}
	if rev.Finalized {
		return dataexchange.Job{}, fmt.Errorf("revision %s is finalized", revisionID)
	}
	id := f.nextID("job")
	j := &FakeJob{
		ID:         id,
		Arn:        fakeArnPrefix + "jobs/" + id,
		DatasetID:  datasetID,
		RevisionID: revisionID,
		Assets:     slices.Clone(assets),
		State:      dataexchange.JobStateWaiting,
	}
	f.jobs[id] = j
	return dataexchange.Job{ID: j.ID, Arn: j.Arn, State: j.State}, nil
}

func (f *FakeDataExchange) StartJob(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("StartJob"); err != nil {
		return err
	}
	j, ok := f.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	j.Started = true
	j.State = dataexchange.JobStateInProgress
	return nil
}

func (f *FakeDataExchange) GetJob(_ context.Context, jobID string) (dataexchange.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetJob"); err != nil {
		return dataexchange.Job{}, err
	}
	j, ok := f.jobs[jobID]
	if !ok {
		return dataexchange.Job{}, fmt.Errorf("job %s not found", jobID)
	}
	if j.Started && !j.State.Terminal() {
		if j.Polls >= f.PollsToComplete {
			j.State = dataexchange.JobStateCompleted
			if f.FinalState != nil {
				j.State = f.FinalState(*j)
			}
		}
		j.Polls++
	}
	out := dataexchange.Job{ID: j.ID, Arn: j.Arn, State: j.State}
	if j.State.Terminal() && !j.State.Succeeded() {
		out.Errors = []dataexchange.JobError{{Code: "INTERNAL_SERVER_EXCEPTION", Message: "import failed"}}
	}
	return out, nil
}

func (f *FakeDataExchange) FinalizeRevision(_ context.Context, datasetID, revisionID string) (dataexchange.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FinalizeRevision"); err != nil {
		return dataexchange.Revision{}, err
	}
	r, ok := f.revisions[revisionID]
	if !ok || r.DatasetID != datasetID {
		return dataexchange.Revision{}, fmt.Errorf("revision %s not found in data set %s", revisionID, datasetID)
	}
	r.Finalized = true
	return dataexchange.Revision{ID: r.ID, Arn: r.Arn, Finalized: true}, nil
}

func (f *FakeDataExchange) DescribeEntity(_ context.Context, catalog, entityID string) (dataexchange.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DescribeEntity"); err != nil {
		return dataexchange.Entity{}, err
	}
	return dataexchange.Entity{
		Identifier: entityID + "@1",
		Arn:        "arn:aws:aws-marketplace:us-east-1:123456789012:" + catalog + "/DataProduct/" + entityID,
		Type:       "DataProduct@1.0",
	}, nil
}

func (f *FakeDataExchange) StartChangeSet(_ context.Context, _ string, changes []dataexchange.Change) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("StartChangeSet"); err != nil {
		return "", err
	}
	if len(changes) == 0 {
		return "", fmt.Errorf("empty change set")
	}
	id := f.nextID("cs")
	f.changeSets[id] = 0
	return id, nil
}

func (f *FakeDataExchange) DescribeChangeSet(_ context.Context, _ string, changeSetID string) (dataexchange.ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DescribeChangeSet"); err != nil {
		return dataexchange.ChangeSet{}, err
	}
	n, ok := f.changeSets[changeSetID]
	if !ok {
		return dataexchange.ChangeSet{}, fmt.Errorf("change set %s not found", changeSetID)
	}
	f.changeSets[changeSetID] = n + 1
	status := f.ChangeSetStatuses[min(n, len(f.ChangeSetStatuses)-1)]
	cs := dataexchange.ChangeSet{ID: changeSetID, Status: status}
	if status == dataexchange.ChangeSetFailed {
		cs.FailureDescription = "change set failed"
		cs.ErrorDetails = []string{"INVALID_INPUT: rejected"}
	}
	return cs, nil
}
