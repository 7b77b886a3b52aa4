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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/adxpublisher/internal/awsclient"
)

// Service is a long-running notification intake.
type Service interface {
	Run(ctx context.Context) error
	Name() string
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSService long-polls a queue fed by bucket notifications.
type SQSService struct {
	client   sqsAPI
	tracer   trace.Tracer
	handler  *Handler
	queueURL string
	timeout  time.Duration
	slots    *semaphore.Weighted
	// receiveBackoff is the pause after a failed receive.
	receiveBackoff time.Duration
	wg             sync.WaitGroup
}

func NewSQSService(client *awsclient.SQSClient, handler *Handler, cfg Config) (*SQSService, error) {
	if client == nil {
		return nil, errors.New("sqs trigger needs an SQS client")
	}
	return newSQSService(client.Client, handler, cfg)
}

func newSQSService(client sqsAPI, handler *Handler, cfg Config) (*SQSService, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("trigger queue_url is required for the sqs service")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SQSService{
		client:         client,
		tracer:         otel.Tracer("github.com/cardinalhq/adxpublisher/internal/trigger"),
		handler:        handler,
		queueURL:       cfg.QueueURL,
		timeout:        cfg.MessageTimeout,
		slots:          semaphore.NewWeighted(int64(cfg.MaxConcurrentMessages)),
		receiveBackoff: 5 * time.Second,
	}, nil
}

func (s *SQSService) Name() string {
	return "sqs"
}

// Run polls until ctx is cancelled, then waits for in-flight messages.
func (s *SQSService) Run(ctx context.Context) error {
	slog.Info("Starting SQS trigger", slog.String("queueURL", s.queueURL))
	s.handler.dedup.Start()
	defer s.handler.dedup.Stop()

	for ctx.Err() == nil {
		s.receiveOnce(ctx)
	}
	s.wg.Wait()
	slog.Info("SQS trigger stopped")
	return nil
}

// Ping checks that the queue exists and is readable, for readiness probes.
func (s *SQSService) Ping(ctx context.Context) error {
	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(s.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return fmt.Errorf("queue %s: %w", s.queueURL, err)
	}
	slog.Debug("SQS queue depth",
		slog.String("queueURL", s.queueURL),
		slog.String("approximateMessages", out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]))
	return nil
}

func (s *SQSService) receiveOnce(ctx context.Context) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Failed to receive SQS messages", slog.Any("error", err))
		select {
		case <-ctx.Done():
		case <-time.After(s.receiveBackoff):
		}
		return
	}

	for _, msg := range out.Messages {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			// Shutting down; the message becomes visible again later.
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.slots.Release(1)
			// Let a message that already started finish during shutdown.
			s.processMessage(context.WithoutCancel(ctx), msg)
		}()
	}
}

func (s *SQSService) processMessage(ctx context.Context, msg sqstypes.Message) {
	msgID := aws.ToString(msg.MessageId)
	ctx, span := s.tracer.Start(ctx, "SQSService.processMessage",
		trace.WithAttributes(attribute.String("messageID", msgID)))
	defer span.End()

	msgCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.handler.HandleMessage(msgCtx, []byte(aws.ToString(msg.Body)))
	switch {
	case err == nil:
	case IsPermanent(err):
		slog.Error("Notification can never be processed, removing it from the queue",
			slog.String("messageID", msgID),
			slog.Any("error", err))
	default:
		span.RecordError(err)
		slog.Error("Failed to handle notification, leaving message in SQS for retry",
			slog.String("messageID", msgID),
			slog.Any("error", err))
		return
	}

	if err := s.deleteMessage(ctx, msg); err != nil {
		span.RecordError(err)
		slog.Error("Failed to delete SQS message",
			slog.String("messageID", msgID),
			slog.Any("error", err))
	}
}

func (s *SQSService) deleteMessage(ctx context.Context, msg sqstypes.Message) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", aws.ToString(msg.MessageId), err)
	}
	return nil
}
