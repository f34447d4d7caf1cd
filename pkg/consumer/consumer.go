package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/andrej220/stepagent/pkg/lg"
)

// ErrDecode marks a message whose payload could not be decoded. Such messages
// are committed so they are not redelivered.
var ErrDecode = errors.New("undecodable message")

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type Consumer[T any] struct {
	reader messageReader
	topic  string
}

func NewConsumer[T any](cfg Config) *Consumer[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MaxWait:  time.Second,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer[T]{reader: r, topic: cfg.Topic}
}

func (c *Consumer[T]) Read(ctx context.Context) (T, error) {
	var zero T

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return zero, err
	}

	var payload T
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		if cerr := c.reader.CommitMessages(ctx, msg); cerr != nil {
			return zero, cerr
		}
		return zero, fmt.Errorf("%w at %s/%d/%d: %v", ErrDecode, msg.Topic, msg.Partition, msg.Offset, err)
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return zero, err
	}

	return payload, nil
}

// Run reads messages until ctx is done and hands each payload to handle.
// Broker errors are retried with exponential backoff; undecodable messages
// and handler errors are logged and skipped.
func (c *Consumer[T]) Run(ctx context.Context, handle func(context.Context, T) error) error {
	logger := lg.FromContext(ctx).With(lg.String("topic", c.topic))
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = 30 * time.Second

	for {
		payload, err := c.Read(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrDecode):
			logger.Warn("skipping message", lg.Err(err))
			continue
		case err != nil:
			wait := bo.NextBackOff()
			logger.Error("kafka read failed", lg.Err(err), lg.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		if err := handle(ctx, payload); err != nil {
			logger.Error("message handler failed", lg.Err(err))
		}
	}
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}
