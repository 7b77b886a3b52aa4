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
	"fmt"
)

const (
	StagePartition          = "partition"
	StagePrepareRevisionMap = "prepare-revision-map"
	StageCreateRevision     = "create-revision"
	StageRunJob             = "run-job"
	StageCheckJob           = "check-job"
	StageFinalize           = "finalize"
)

// StageFunc is the shape every stage shares, so an external engine can
// drive any of them by name.
type StageFunc func(ctx context.Context, wc WorkflowContext) (WorkflowContext, error)

// StageNames lists the stages in workflow order.
func StageNames() []string {
	return []string{
		StagePartition,
		StagePrepareRevisionMap,
		StageCreateRevision,
		StageRunJob,
		StageCheckJob,
		StageFinalize,
	}
}

func (p *Publisher) Stage(name string) (StageFunc, error) {
	switch name {
	case StagePartition:
		return p.Partition, nil
	case StagePrepareRevisionMap:
		return p.PrepareRevisionMap, nil
	case StageCreateRevision:
		return p.CreateRevision, nil
	case StageRunJob:
		return p.RunJob, nil
	case StageCheckJob:
		return p.CheckJob, nil
	case StageFinalize:
		return p.Finalize, nil
	default:
		return nil, fmt.Errorf("unknown stage %q, expected one of %v", name, StageNames())
	}
}
