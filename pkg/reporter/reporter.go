// Package reporter publishes job reports to a Kafka topic.
package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/andrej220/stepagent/pkg/lg"
	"github.com/andrej220/stepagent/pkg/models"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

type Reporter struct {
	writer messageWriter
	topic  string
	lg     lg.Logger
}

func New(brokers []string, topic string, logger lg.Logger) *Reporter {
	if logger == nil {
		logger = lg.Discard
	}
	return &Reporter{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
		lg:    logger,
	}
}

// Publish writes the report keyed by execution id, so every report of one
// execution lands on the same partition.
func (r *Reporter) Publish(ctx context.Context, report models.JobReport) error {
	message, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   report.ExecutionUID[:],
		Value: message,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "outcome", Value: []byte(report.Outcome)},
		},
	})
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			r.lg.Error("Kafka topic does not exist",
				lg.String("topic", r.topic),
				lg.String("action", "Create the topic manually or enable auto-creation"))
		}
		return fmt.Errorf("failed to publish report %s: %w", report.ExecutionUID, err)
	}
	r.lg.Debug("report published", lg.String("exuid", report.ExecutionUID.String()), lg.String("outcome", report.Outcome))
	return nil
}

func (r *Reporter) Close() error {
	return r.writer.Close()
}
