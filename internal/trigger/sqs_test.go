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

package trigger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue hands out its messages on the first receive and then reports
// an empty queue until the caller's context ends.
type fakeQueue struct {
	mu         sync.Mutex
	pending    []sqstypes.Message
	receiveErr error
	receives   int
	deleted    []string
	drained    chan struct{}
	attrErr    error
}

func newFakeQueue(bodies ...string) *fakeQueue {
	q := &fakeQueue{drained: make(chan struct{})}
	for i, b := range bodies {
		id := string(rune('a' + i))
		q.pending = append(q.pending, sqstypes.Message{
			MessageId:     aws.String(id),
			ReceiptHandle: aws.String("rh-" + id),
			Body:          aws.String(b),
		})
	}
	return q
}

func (q *fakeQueue) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	q.receives++
	if q.receiveErr != nil {
		err := q.receiveErr
		q.receiveErr = nil
		q.mu.Unlock()
		return nil, err
	}
	if len(q.pending) > 0 {
		n := min(len(q.pending), int(in.MaxNumberOfMessages))
		out := q.pending[:n]
		q.pending = q.pending[n:]
		q.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: out}, nil
	}
	q.mu.Unlock()

	select {
	case <-q.drained:
	default:
		close(q.drained)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *fakeQueue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (q *fakeQueue) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if q.attrErr != nil {
		return nil, q.attrErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	attrs := map[string]string{}
	for _, name := range in.AttributeNames {
		if name == sqstypes.QueueAttributeNameApproximateNumberOfMessages {
			attrs[string(name)] = strconv.Itoa(len(q.pending))
		}
	}
	return &sqs.GetQueueAttributesOutput{Attributes: attrs}, nil
}

func (q *fakeQueue) deletedHandles() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...)
}

func runUntilDrained(t *testing.T, svc *SQSService, q *fakeQueue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case <-q.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("queue was never drained")
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func sqsTestConfig() Config {
	cfg := DefaultConfig()
	cfg.QueueURL = "https://sqs.us-east-1.amazonaws.com/123456789012/manifests"
	return cfg
}

func TestSQSServiceDeletesHandledAndPermanentMessages(t *testing.T) {
	f := newHandlerFixture(t)
	f.addManifest(t, "in/good.json", 20)
	f.addManifest(t, "in/throttled.json", 20)
	f.store.FailGet("publish", "in/throttled.json", errors.New("SlowDown"))

	q := newFakeQueue(
		string(s3Event("in/good.json")),      // a: run started
		`not json`,                           // b: can never succeed
		string(s3Event("in/throttled.json")), // c: retried later
		`{"Event":"s3:TestEvent"}`,           // d: nothing to do
		string(s3Event("in/deleted.json")),   // e: manifest already gone
	)
	svc, err := newSQSService(q, f.handler, sqsTestConfig())
	require.NoError(t, err)

	runUntilDrained(t, svc, q)

	assert.ElementsMatch(t, []string{"rh-a", "rh-b", "rh-d", "rh-e"}, q.deletedHandles())
	assert.Equal(t, []string{"publish/in/good.manifest"}, f.starter.runs())
}

func TestSQSServiceBacksOffAfterReceiveError(t *testing.T) {
	f := newHandlerFixture(t)
	q := newFakeQueue(`{"Event":"s3:TestEvent"}`)
	q.receiveErr = errors.New("AWS.SimpleQueueService.NonExistentQueue")

	svc, err := newSQSService(q, f.handler, sqsTestConfig())
	require.NoError(t, err)
	svc.receiveBackoff = time.Millisecond

	runUntilDrained(t, svc, q)
	assert.Equal(t, []string{"rh-a"}, q.deletedHandles())
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.GreaterOrEqual(t, q.receives, 3)
}

func TestSQSServiceConfig(t *testing.T) {
	f := newHandlerFixture(t)

	_, err := newSQSService(newFakeQueue(), f.handler, DefaultConfig())
	assert.ErrorContains(t, err, "queue_url")

	cfg := sqsTestConfig()
	cfg.MaxConcurrentMessages = 0
	_, err = newSQSService(newFakeQueue(), f.handler, cfg)
	assert.Error(t, err)

	_, err = NewSQSService(nil, f.handler, sqsTestConfig())
	assert.Error(t, err)

	svc, err := newSQSService(newFakeQueue(), f.handler, sqsTestConfig())
	require.NoError(t, err)
	assert.Equal(t, "sqs", svc.Name())
}

func TestSQSServicePing(t *testing.T) {
	f := newHandlerFixture(t)
	q := newFakeQueue(`{}`)
	svc, err := newSQSService(q, f.handler, sqsTestConfig())
	require.NoError(t, err)
	assert.NoError(t, svc.Ping(context.Background()))

	q.attrErr = errors.New("AWS.SimpleQueueService.NonExistentQueue")
	err = svc.Ping(context.Background())
	assert.ErrorContains(t, err, "NonExistentQueue")
}
