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

package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

const (
	EngineLocal         = "local"
	EngineStepFunctions = "stepfunctions"
)

type Config struct {
	Engine          string `mapstructure:"engine"`
	StateMachineArn string `mapstructure:"state_machine_arn"`
	Region          string `mapstructure:"region"`
	RoleARN         string `mapstructure:"role_arn"`
	RunNamePrefix   string `mapstructure:"run_name_prefix"`

	PollInterval           time.Duration `mapstructure:"poll_interval"`
	JobTimeout             time.Duration `mapstructure:"job_timeout"`
	MaxConcurrentRevisions int           `mapstructure:"max_concurrent_revisions"`
	MaxConcurrentJobs      int           `mapstructure:"max_concurrent_jobs"`
}

func DefaultConfig() Config {
	return Config{
		Engine:                 EngineLocal,
		PollInterval:           10 * time.Second,
		JobTimeout:             2 * time.Hour,
		MaxConcurrentRevisions: 4,
		MaxConcurrentJobs:      10,
	}
}

func (c Config) Validate() error {
	switch c.Engine {
	case EngineLocal:
		if c.PollInterval <= 0 {
			return errors.New("orchestrator poll_interval must be positive")
		}
		if c.MaxConcurrentRevisions <= 0 || c.MaxConcurrentJobs <= 0 {
			return errors.New("orchestrator concurrency limits must be positive")
		}
	case EngineStepFunctions:
		if c.StateMachineArn == "" {
			return errors.New("orchestrator state_machine_arn is required for the stepfunctions engine")
		}
	default:
		return fmt.Errorf("unknown orchestrator engine %q", c.Engine)
	}
	return nil
}
