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

package manifest

import (
	"fmt"
	"slices"
)

const (
	// DefaultRevisionAssetLimit is the data exchange quota of assets per revision.
	DefaultRevisionAssetLimit = 10000
	// DefaultJobAssetLimit is the data exchange quota of assets per import job.
	DefaultJobAssetLimit = 100
)

// Limits bounds the size of each revision and each job. Neither may exceed
// the service quota.
type Limits struct {
	RevisionAssets int
	JobAssets      int
}

// DefaultLimits returns the data exchange service quotas.
func DefaultLimits() Limits {
	return Limits{
		RevisionAssets: DefaultRevisionAssetLimit,
		JobAssets:      DefaultJobAssetLimit,
	}
}

func (l Limits) Validate() error {
	if l.RevisionAssets <= 0 || l.RevisionAssets > DefaultRevisionAssetLimit {
		return fmt.Errorf("revision asset limit must be between 1 and %d, got %d", DefaultRevisionAssetLimit, l.RevisionAssets)
	}
	if l.JobAssets <= 0 || l.JobAssets > DefaultJobAssetLimit {
		return fmt.Errorf("job asset limit must be between 1 and %d, got %d", DefaultJobAssetLimit, l.JobAssets)
	}
	return nil
}

// Partition splits assets into contiguous revision chunks of at most
// l.RevisionAssets, then each revision into contiguous job chunks of at most
// l.JobAssets. Order is preserved and nothing is dropped or duplicated.
// The result never aliases the input slice.
func Partition(assets []AssetRef, l Limits) ([][][]AssetRef, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	nested := make([][][]AssetRef, 0, ceilDiv(len(assets), l.RevisionAssets))
	for revision := range slices.Chunk(assets, l.RevisionAssets) {
		jobs := make([][]AssetRef, 0, ceilDiv(len(revision), l.JobAssets))
		for job := range slices.Chunk(revision, l.JobAssets) {
			jobs = append(jobs, slices.Clone(job))
		}
		nested = append(nested, jobs)
	}
	return nested, nil
}

// NewPartitioned validates f and builds its partitioned form.
func NewPartitioned(f *Flat, l Limits) (*Partitioned, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	nested, err := Partition(f.AssetList, l)
	if err != nil {
		return nil, err
	}
	return &Partitioned{
		ProductID:       f.ProductID,
		DatasetID:       f.DatasetID,
		AssetListNested: nested,
		Comment:         f.Comment,
	}, nil
}

func ceilDiv(n, d int) int {
	if n == 0 {
		return 0
	}
	return (n + d - 1) / d
}

// NumRevisions is the length of the outer dimension.
func (p *Partitioned) NumRevisions() int {
	return len(p.AssetListNested)
}

// Revision returns the jobs of one revision.
func (p *Partitioned) Revision(revisionIndex int) ([][]AssetRef, error) {
	if revisionIndex < 0 || revisionIndex >= len(p.AssetListNested) {
		return nil, fmt.Errorf("revision index %d out of range [0,%d)", revisionIndex, len(p.AssetListNested))
	}
	return p.AssetListNested[revisionIndex], nil
}

// Job returns the asset sublist at [revisionIndex][jobIndex].
func (p *Partitioned) Job(revisionIndex, jobIndex int) ([]AssetRef, error) {
	jobs, err := p.Revision(revisionIndex)
	if err != nil {
		return nil, err
	}
	if jobIndex < 0 || jobIndex >= len(jobs) {
		return nil, fmt.Errorf("job index %d out of range [0,%d) in revision %d", jobIndex, len(jobs), revisionIndex)
	}
	return jobs[jobIndex], nil
}

// RevisionAssetCount is the number of assets across all jobs of a revision.
func (p *Partitioned) RevisionAssetCount(revisionIndex int) (int, error) {
	jobs, err := p.Revision(revisionIndex)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		n += len(job)
	}
	return n, nil
}

// Flatten concatenates every job in index order.
func (p *Partitioned) Flatten() []AssetRef {
	var out []AssetRef
	for _, jobs := range p.AssetListNested {
		for _, job := range jobs {
			out = append(out, job...)
		}
	}
	return out
}

// Summary holds the aggregate counts reported when a manifest is partitioned
// and when the revision map is prepared.
type Summary struct {
	RevisionCount       int   `json:"revision_count"`
	TotalJobCount       int   `json:"total_job_count"`
	TotalAssetCount     int   `json:"total_asset_count"`
	RevisionJobCounts   []int `json:"revision_job_counts"`
	RevisionAssetCounts []int `json:"revision_asset_counts"`
}

func (p *Partitioned) Summary() Summary {
	s := Summary{
		RevisionCount:       len(p.AssetListNested),
		RevisionJobCounts:   make([]int, len(p.AssetListNested)),
		RevisionAssetCounts: make([]int, len(p.AssetListNested)),
	}
	for i, jobs := range p.AssetListNested {
		s.RevisionJobCounts[i] = len(jobs)
		s.TotalJobCount += len(jobs)
		for _, job := range jobs {
			s.RevisionAssetCounts[i] += len(job)
		}
		s.TotalAssetCount += s.RevisionAssetCounts[i]
	}
	return s
}

// Indices returns [0, n).
func Indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
