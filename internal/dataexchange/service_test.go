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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobIDFromArn(t *testing.T) {
	tests := []struct {
		name    string
		arn     string
		want    string
		wantErr bool
	}{
		{"standard", "arn:aws:dataexchange:us-east-1:123456789012:jobs/abc123", "abc123", false},
		{"extra segments", "arn:aws:dataexchange:us-east-1:123456789012:jobs/abc123/x", "abc123", false},
		{"no slash", "arn:aws:dataexchange:us-east-1:123456789012:jobs", "", true},
		{"empty id", "arn:aws:dataexchange:us-east-1:123456789012:jobs/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JobIDFromArn(tt.arn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDataSetArnFromRevisionArn(t *testing.T) {
	got, err := DataSetArnFromRevisionArn("arn:aws:dataexchange:us-east-1:123456789012:data-sets/ds1/revisions/rev1")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:dataexchange:us-east-1:123456789012:data-sets/ds1", got)

	_, err = DataSetArnFromRevisionArn("bogus")
	assert.Error(t, err)
}

func TestJobStateTerminal(t *testing.T) {
	for _, s := range []JobState{JobStateWaiting, JobStateInProgress} {
		assert.False(t, s.Terminal(), s)
	}
	for _, s := range []JobState{JobStateCompleted, JobStateError, JobStateCancelled, JobStateTimedOut} {
		assert.True(t, s.Terminal(), s)
	}
	assert.True(t, JobStateCompleted.Succeeded())
	assert.False(t, JobStateTimedOut.Succeeded())
	assert.False(t, ChangeSetApplying.Terminal())
}
