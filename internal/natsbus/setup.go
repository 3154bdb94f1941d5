// Package natsbus carries post-commit bundles over NATS JetStream: the session
// publishes them and the worker consumes them with explicit acknowledgement.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// DefaultStreamName is the stream holding post-commit bundles.
	DefaultStreamName = "PICTURE_EVENTS"
	// DefaultSubject is the subject bundles are published on.
	DefaultSubject = "picture.events.postcommit"
	// DefaultConsumerName is the durable consumer of the worker.
	DefaultConsumerName = "picture-renditions"

	ackWait = 5 * time.Minute
)

// Config names the JetStream resources of the bus.
type Config struct {
	StreamName   string
	ConsumerName string
	Subject      string
	// MaxDeliver bounds redeliveries of a failing bundle; non-positive means unlimited.
	MaxDeliver int
}

func applyDefaults(cfg *Config) {
	if cfg.StreamName == "" {
		cfg.StreamName = DefaultStreamName
	}

	if cfg.ConsumerName == "" {
		cfg.ConsumerName = DefaultConsumerName
	}

	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}

	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = -1
	}
}

// Setup ensures the stream and the durable consumer exist and returns the consumer.
func Setup(ctx context.Context, jetStream jetstream.JetStream, cfg Config) (jetstream.Consumer, error) {
	applyDefaults(&cfg)

	_, streamErr := jetStream.CreateStream(ctx, *newStreamConfig(cfg.StreamName, cfg.Subject))
	if streamErr != nil && !errors.Is(streamErr, jetstream.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("failed to create stream %s: %w", cfg.StreamName, streamErr)
	}

	stream, handleErr := jetStream.Stream(ctx, cfg.StreamName)
	if handleErr != nil {
		return nil, fmt.Errorf("failed to get stream handle %s: %w", cfg.StreamName, handleErr)
	}

	consumer, consumerErr := stream.CreateOrUpdateConsumer(ctx, *newConsumerConfig(cfg))
	if consumerErr != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", cfg.ConsumerName, consumerErr)
	}

	return consumer, nil
}

func newStreamConfig(name, subject string) *jetstream.StreamConfig {
	return &jetstream.StreamConfig{
		Name:                   name,
		Description:            "Post-commit picture events",
		Subjects:               []string{subject},
		Retention:              jetstream.WorkQueuePolicy,
		MaxConsumers:           -1,
		MaxMsgs:                -1,
		MaxBytes:               -1,
		Discard:                jetstream.DiscardOld,
		DiscardNewPerSubject:   false,
		MaxAge:                 0,
		MaxMsgsPerSubject:      -1,
		MaxMsgSize:             -1,
		Storage:                jetstream.FileStorage,
		Replicas:               1,
		NoAck:                  false,
		Duplicates:             0,
		Placement:              nil,
		Mirror:                 nil,
		Sources:                nil,
		Sealed:                 false,
		DenyDelete:             false,
		DenyPurge:              false,
		AllowRollup:            false,
		Compression:            jetstream.NoCompression,
		FirstSeq:               0,
		SubjectTransform:       nil,
		RePublish:              nil,
		AllowDirect:            false,
		MirrorDirect:           false,
		ConsumerLimits:         jetstream.StreamConsumerLimits{},
		Metadata:               nil,
		Template:               "",
		AllowMsgTTL:            false,
		SubjectDeleteMarkerTTL: 0,
	}
}

func newConsumerConfig(cfg Config) *jetstream.ConsumerConfig {
	return &jetstream.ConsumerConfig{
		Durable:            cfg.ConsumerName,
		Name:               "",
		Description:        "",
		FilterSubject:      cfg.Subject,
		AckPolicy:          jetstream.AckExplicitPolicy,
		AckWait:            ackWait,
		MaxDeliver:         cfg.MaxDeliver,
		DeliverPolicy:      jetstream.DeliverAllPolicy,
		OptStartSeq:        0,
		OptStartTime:       nil,
		BackOff:            nil,
		ReplayPolicy:       jetstream.ReplayInstantPolicy,
		RateLimit:          0,
		SampleFrequency:    "",
		MaxWaiting:         0,
		MaxAckPending:      -1,
		HeadersOnly:        false,
		MaxRequestBatch:    0,
		MaxRequestExpires:  0,
		MaxRequestMaxBytes: 0,
		InactiveThreshold:  0,
		Replicas:           0,
		MemoryStorage:      false,
		FilterSubjects:     nil,
		Metadata:           nil,
		PauseUntil:         nil,
		PriorityPolicy:     0,
		PinnedTTL:          0,
		PriorityGroups:     nil,
		DeliverSubject:     "",
		DeliverGroup:       "",
		FlowControl:        false,
		IdleHeartbeat:      0,
	}
}
