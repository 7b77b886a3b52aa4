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
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// WorkflowContext is the payload threaded through every stage. Stages only
// ever add or overwrite the fields they own; anything else, including
// fields this package does not know about, is carried through unchanged.
type WorkflowContext struct {
	Bucket    string `json:"Bucket"`
	Key       string `json:"Key"`
	ProductID string `json:"ProductId,omitempty"`
	DatasetID string `json:"DatasetId,omitempty"`

	RevisionID       string `json:"RevisionId,omitempty"`
	RevisionArn      string `json:"RevisionArn,omitempty"`
	RevisionMapIndex *int   `json:"RevisionMapIndex,omitempty"`
	JobMapIndex      *int   `json:"JobMapIndex,omitempty"`
	JobID            string `json:"JobId,omitempty"`
	JobStatus        string `json:"JobStatus,omitempty"`
	// JobErrors is the remote service's error list once a job has failed.
	JobErrors []string `json:"JobErrors,omitempty"`

	RevisionMapInput  []int `json:"RevisionMapInput,omitempty"`
	JobMapInput       []int `json:"JobMapInput,omitempty"`
	// Run-wide totals are always written; zero revisions is a real result.
	RevisionCount     int   `json:"RevisionCount"`
	TotalJobCount     int   `json:"TotalJobCount"`
	TotalAssetCount   int   `json:"TotalAssetCount"`
	RevisionJobCounts []int `json:"RevisionJobCounts,omitempty"`
	NumJobs           int   `json:"NumJobs,omitempty"`
	NumRevisionAssets int   `json:"NumRevisionAssets,omitempty"`
	JobAssetCount     int   `json:"JobAssetCount,omitempty"`

	ChangeSetID string `json:"ChangeSetId,omitempty"`
	Message     string `json:"Message,omitempty"`

	// Extra holds fields owned by someone else, keyed as they arrived.
	Extra map[string]json.RawMessage `json:"-"`
}

// legacyDatasetField is the older spelling some engines still send.
const legacyDatasetField = "DataSetId"

// knownFields is the lower-cased set of JSON names WorkflowContext owns.
// encoding/json matches object keys case-insensitively, so extras are
// filtered the same way.
var knownFields = func() map[string]struct{} {
	out := map[string]struct{}{}
	t := reflect.TypeOf(WorkflowContext{})
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		out[strings.ToLower(name)] = struct{}{}
	}
	return out
}()

func (c WorkflowContext) MarshalJSON() ([]byte, error) {
	type plain WorkflowContext
	known, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}

	emptyRevMap := c.RevisionMapInput != nil && len(c.RevisionMapInput) == 0
	emptyJobMap := c.JobMapInput != nil && len(c.JobMapInput) == 0
	if len(c.Extra) == 0 && !emptyRevMap && !emptyJobMap {
		return known, nil
	}

	merged := maps.Clone(c.Extra)
	if merged == nil {
		merged = map[string]json.RawMessage{}
	}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	// An empty map input is meaningful: the fan-out over it is a no-op.
	if emptyRevMap {
		merged["RevisionMapInput"] = json.RawMessage("[]")
	}
	if emptyJobMap {
		merged["JobMapInput"] = json.RawMessage("[]")
	}
	return json.Marshal(merged)
}

func (c *WorkflowContext) UnmarshalJSON(data []byte) error {
	type plain WorkflowContext
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	// The canonical spelling wins when both are present.
	if v, ok := raw["DatasetId"]; ok {
		if err := json.Unmarshal(v, &p.DatasetID); err != nil {
			return err
		}
	} else if v, ok := raw[legacyDatasetField]; ok {
		if err := json.Unmarshal(v, &p.DatasetID); err != nil {
			return err
		}
	}

	for k := range raw {
		if _, ok := knownFields[strings.ToLower(k)]; ok {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		p.Extra = raw
	} else {
		p.Extra = nil
	}

	*c = WorkflowContext(p)
	return nil
}

// Clone returns a copy that shares no slices or maps with c.
func (c WorkflowContext) Clone() WorkflowContext {
	out := c
	if c.RevisionMapIndex != nil {
		out.RevisionMapIndex = intPtr(*c.RevisionMapIndex)
	}
	if c.JobMapIndex != nil {
		out.JobMapIndex = intPtr(*c.JobMapIndex)
	}
	out.RevisionMapInput = slices.Clone(c.RevisionMapInput)
	out.JobMapInput = slices.Clone(c.JobMapInput)
	out.RevisionJobCounts = slices.Clone(c.RevisionJobCounts)
	out.JobErrors = slices.Clone(c.JobErrors)
	out.Extra = maps.Clone(c.Extra)
	return out
}

// WithRevision returns a branch context for one revision index.
func (c WorkflowContext) WithRevision(index int) WorkflowContext {
	out := c.Clone()
	out.RevisionMapIndex = intPtr(index)
	return out
}

// WithJob returns a branch context for one job index.
func (c WorkflowContext) WithJob(index int) WorkflowContext {
	out := c.Clone()
	out.JobMapIndex = intPtr(index)
	return out
}

func intPtr(v int) *int {
	return &v
}
