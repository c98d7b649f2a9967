package service

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/gabihodoroga/pubsub-batcher/model"
)

// messageWriter is the part of kafka.Writer used by the sink
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventSinkKafka implements the EventSink writing one message per event,
// keyed by event name
type EventSinkKafka struct {
	writer messageWriter
}

func NewEventSinkKafka(brokers []string, topic string) (model.EventSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &EventSinkKafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func encodeMessages(events []*model.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		if e == nil {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode event %s", e.ID)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Name),
			Value: data,
			Time:  e.Timestamp,
		})
	}
	return msgs, nil
}

// Save implements model.EventSink
func (s *EventSinkKafka) Save(ctx context.Context, events []*model.Event) error {
	ctx, span := tracer.Start(ctx, "kafka/save")
	span.SetAttributes(attribute.Int("messages", len(events)))
	defer span.End()

	msgs, err := encodeMessages(events)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "failed to write kafka messages")
	}
	zap.L().Debug("EventSinkKafka.save: messages written", zap.Int("messages", len(msgs)))
	return nil
}

// Close implements model.EventSink
func (s *EventSinkKafka) Close() error {
	zap.L().Info("EventSinkKafka: closing writer")
	return s.writer.Close()
}
