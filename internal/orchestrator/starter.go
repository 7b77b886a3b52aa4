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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/cardinalhq/adxpublisher/internal/awsclient"
	"github.com/cardinalhq/adxpublisher/internal/idgen"
	"github.com/cardinalhq/adxpublisher/internal/publisher"
)

// Starter begins one workflow run for a partitioned manifest and returns
// the run's name or remote identifier.
type Starter interface {
	Start(ctx context.Context, bucket, key string) (string, error)
}

// RunInput is the execution input every engine receives.
type RunInput struct {
	Bucket string `json:"Bucket"`
	Key    string `json:"Key"`
}

// LocalStarter runs the workflow in this process, in the background.
type LocalStarter struct {
	runner *Runner
	prefix string
	// base outlives the request that started a run.
	base context.Context
	wg   sync.WaitGroup
	now  func() time.Time
}

func NewLocalStarter(base context.Context, runner *Runner, cfg Config) *LocalStarter {
	return &LocalStarter{runner: runner, prefix: cfg.RunNamePrefix, base: base, now: time.Now}
}

func (s *LocalStarter) Start(_ context.Context, bucket, key string) (string, error) {
	name := idgen.RunName(s.prefix, s.now())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Failures are logged by Execute.
		_, _ = s.runner.Execute(s.base, name, publisher.WorkflowContext{Bucket: bucket, Key: key})
	}()
	return name, nil
}

// Run executes one workflow synchronously.
func (s *LocalStarter) Run(ctx context.Context, bucket, key string) (*RunResult, error) {
	name := idgen.RunName(s.prefix, s.now())
	return s.runner.Execute(ctx, name, publisher.WorkflowContext{Bucket: bucket, Key: key})
}

// Wait blocks until every run started with Start has finished.
func (s *LocalStarter) Wait() {
	s.wg.Wait()
}

type sfnAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StepFunctionsStarter starts an execution of the publishing state machine.
type StepFunctionsStarter struct {
	client          sfnAPI
	stateMachineArn string
	prefix          string
	now             func() time.Time
}

func NewStepFunctionsStarter(client *awsclient.SFNClient, cfg Config) *StepFunctionsStarter {
	return newStepFunctionsStarter(client.Client, cfg)
}

func newStepFunctionsStarter(client sfnAPI, cfg Config) *StepFunctionsStarter {
	return &StepFunctionsStarter{
		client:          client,
		stateMachineArn: cfg.StateMachineArn,
		prefix:          cfg.RunNamePrefix,
		now:             time.Now,
	}
}

func (s *StepFunctionsStarter) Start(ctx context.Context, bucket, key string) (string, error) {
	input, err := json.Marshal(RunInput{Bucket: bucket, Key: key})
	if err != nil {
		return "", err
	}
	name := idgen.RunName(s.prefix, s.now())

	out, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachineArn),
		Name:            aws.String(name),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		return "", &publisher.RemoteServiceError{Op: "start execution " + name, Err: err}
	}
	slog.Info("Started state machine execution",
		slog.String("name", name),
		slog.String("executionArn", aws.ToString(out.ExecutionArn)),
		slog.String("bucket", bucket),
		slog.String("key", key))
	return aws.ToString(out.ExecutionArn), nil
}

var (
	_ Starter = (*LocalStarter)(nil)
	_ Starter = (*StepFunctionsStarter)(nil)
)

// NewStarter picks the engine named in cfg. The Step Functions engine
// needs sfnClient; the local engine needs runner.
func NewStarter(base context.Context, cfg Config, runner *Runner, sfnClient *awsclient.SFNClient) (Starter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Engine {
	case EngineStepFunctions:
		if sfnClient == nil {
			return nil, fmt.Errorf("%s engine needs a Step Functions client", cfg.Engine)
		}
		return NewStepFunctionsStarter(sfnClient, cfg), nil
	default:
		if runner == nil {
			return nil, fmt.Errorf("%s engine needs a runner", cfg.Engine)
		}
		return NewLocalStarter(base, runner, cfg), nil
	}
}
