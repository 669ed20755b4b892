package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSConfig configures the optional SQS event source.
type SQSConfig struct {
	Region      string
	QueueURL    string
	MaxMessages int32
	WaitTime    int32
}

// SQSSource long-polls an SQS queue of raw platform envelopes and feeds
// them to the pipeline. A listener process near the broadcast publishes
// payloads there when it cannot reach giftwatch over HTTP directly.
type SQSSource struct {
	client   *sqs.Client
	config   SQSConfig
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewSQSSource creates the source and its underlying SQS client.
func NewSQSSource(ctx context.Context, cfg SQSConfig, pipeline *Pipeline, logger *zap.Logger) (*SQSSource, error) {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 10
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = 10
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	logger.Info("sqs event source configured",
		zap.String("region", cfg.Region),
		zap.String("queue_url", cfg.QueueURL),
	)

	return &SQSSource{
		client:   sqs.NewFromConfig(awsCfg),
		config:   cfg,
		pipeline: pipeline,
		logger:   logger,
	}, nil
}

// Run polls until the context is cancelled. Envelopes that fail
// processing are left on the queue for redelivery.
func (s *SQSSource) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sqs source shutting down")
			return
		default:
		}

		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.config.QueueURL),
			MaxNumberOfMessages: s.config.MaxMessages,
			WaitTimeSeconds:     s.config.WaitTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("sqs receive failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range out.Messages {
			if msg.Body == nil {
				continue
			}
			if err := s.pipeline.Handle(ctx, []byte(*msg.Body)); err != nil {
				s.logger.Error("envelope processing failed, leaving on queue", zap.Error(err))
				continue
			}
			if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(s.config.QueueURL),
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				s.logger.Error("sqs delete failed", zap.Error(err))
			}
		}
	}
}
