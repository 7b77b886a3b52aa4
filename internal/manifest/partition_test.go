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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAssets(n int) []AssetRef {
	out := make([]AssetRef, n)
	for i := range out {
		out[i] = AssetRef{Bucket: "assets", Key: fmt.Sprintf("data/file-%05d.csv", i)}
	}
	return out
}

func TestPartitionScenarios(t *testing.T) {
	tests := []struct {
		name          string
		assets        int
		limits        Limits
		wantRevisions []int   // jobs per revision
		wantLastJobs  [][]int // sizes of each job per revision
	}{
		{
			name:          "25 assets fit in one job",
			assets:        25,
			limits:        DefaultLimits(),
			wantRevisions: []int{1},
			wantLastJobs:  [][]int{{25}},
		},
		{
			name:          "150 assets need two jobs",
			assets:        150,
			limits:        DefaultLimits(),
			wantRevisions: []int{2},
			wantLastJobs:  [][]int{{100, 50}},
		},
		{
			name:          "exactly one full job",
			assets:        100,
			limits:        DefaultLimits(),
			wantRevisions: []int{1},
			wantLastJobs:  [][]int{{100}},
		},
		{
			name:          "small revision limit",
			assets:        7,
			limits:        Limits{RevisionAssets: 3, JobAssets: 2},
			wantRevisions: []int{2, 2, 1},
			wantLastJobs:  [][]int{{2, 1}, {2, 1}, {1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nested, err := Partition(makeAssets(tt.assets), tt.limits)
			require.NoError(t, err)
			require.Len(t, nested, len(tt.wantRevisions))
			for r, jobs := range nested {
				require.Len(t, jobs, tt.wantRevisions[r], "revision %d", r)
				for j, job := range jobs {
					assert.Len(t, job, tt.wantLastJobs[r][j], "revision %d job %d", r, j)
				}
			}
		})
	}
}

func TestPartition10050Assets(t *testing.T) {
	nested, err := Partition(makeAssets(10050), DefaultLimits())
	require.NoError(t, err)
	require.Len(t, nested, 2)

	require.Len(t, nested[0], 100)
	for j, job := range nested[0] {
		assert.Len(t, job, 100, "job %d", j)
	}

	require.Len(t, nested[1], 1)
	assert.Len(t, nested[1][0], 50)
	assert.Equal(t, "data/file-10000.csv", nested[1][0][0].Key)
}

func TestPartitionInvariants(t *testing.T) {
	for _, n := range []int{1, 2, 99, 100, 101, 999, 1000, 1001, 2500} {
		for _, l := range []Limits{
			{RevisionAssets: 1000, JobAssets: 100},
			{RevisionAssets: 250, JobAssets: 100},
			{RevisionAssets: 7, JobAssets: 3},
			{RevisionAssets: 2, JobAssets: 100},
		} {
			t.Run(fmt.Sprintf("n=%d/R=%d/J=%d", n, l.RevisionAssets, l.JobAssets), func(t *testing.T) {
				assets := makeAssets(n)
				nested, err := Partition(assets, l)
				require.NoError(t, err)

				p := &Partitioned{AssetListNested: nested}
				assert.Equal(t, assets, p.Flatten(), "round trip must reproduce the input in order")
				assert.Len(t, nested, ceilDiv(n, l.RevisionAssets))

				for r, jobs := range nested {
					total := 0
					for _, job := range jobs {
						assert.LessOrEqual(t, len(job), l.JobAssets)
						assert.NotEmpty(t, job)
						total += len(job)
					}
					assert.LessOrEqual(t, total, l.RevisionAssets)
					assert.Len(t, jobs, ceilDiv(total, l.JobAssets), "revision %d", r)
				}
			})
		}
	}
}

func TestPartitionDeterministic(t *testing.T) {
	f := &Flat{ProductID: "prod-1", DatasetID: "ds-1", AssetList: makeAssets(1234)}

	a, err := NewPartitioned(f, Limits{RevisionAssets: 500, JobAssets: 100})
	require.NoError(t, err)
	b, err := NewPartitioned(f, Limits{RevisionAssets: 500, JobAssets: 100})
	require.NoError(t, err)

	ab, err := a.Marshal()
	require.NoError(t, err)
	bb, err := b.Marshal()
	require.NoError(t, err)
	assert.Equal(t, ab, bb)
}

func TestPartitionDoesNotAliasInput(t *testing.T) {
	assets := makeAssets(3)
	nested, err := Partition(assets, DefaultLimits())
	require.NoError(t, err)

	nested[0][0][0].Key = "changed"
	assert.Equal(t, "data/file-00000.csv", assets[0].Key)
}

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		wantErr bool
	}{
		{"defaults", DefaultLimits(), false},
		{"small", Limits{RevisionAssets: 10, JobAssets: 1}, false},
		{"zero revision", Limits{RevisionAssets: 0, JobAssets: 100}, true},
		{"negative job", Limits{RevisionAssets: 10, JobAssets: -1}, true},
		{"job above quota", Limits{RevisionAssets: 10000, JobAssets: 101}, true},
		{"revision above quota", Limits{RevisionAssets: 10001, JobAssets: 100}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Partition(makeAssets(3), tt.limits)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPartitionedAccessors(t *testing.T) {
	f := &Flat{ProductID: "prod-1", DatasetID: "ds-1", AssetList: makeAssets(10050), Comment: "weekly drop"}
	p, err := NewPartitioned(f, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, 2, p.NumRevisions())
	assert.Equal(t, "weekly drop", p.Comment)

	job, err := p.Job(1, 0)
	require.NoError(t, err)
	assert.Len(t, job, 50)

	_, err = p.Job(1, 1)
	assert.Error(t, err)
	_, err = p.Job(2, 0)
	assert.Error(t, err)
	_, err = p.Revision(-1)
	assert.Error(t, err)

	n, err := p.RevisionAssetCount(0)
	require.NoError(t, err)
	assert.Equal(t, 10000, n)

	s := p.Summary()
	assert.Equal(t, 2, s.RevisionCount)
	assert.Equal(t, 101, s.TotalJobCount)
	assert.Equal(t, 10050, s.TotalAssetCount)
	assert.Equal(t, []int{100, 1}, s.RevisionJobCounts)
	assert.Equal(t, []int{10000, 50}, s.RevisionAssetCounts)
}

func TestEmptyPartitionedSummary(t *testing.T) {
	p := &Partitioned{ProductID: "p", DatasetID: "d"}
	s := p.Summary()
	assert.Equal(t, 0, s.RevisionCount)
	assert.Equal(t, 0, s.TotalJobCount)
	assert.Empty(t, p.Flatten())
	assert.Equal(t, []int{}, Indices(0))
}

func TestIndices(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, Indices(3))
}
