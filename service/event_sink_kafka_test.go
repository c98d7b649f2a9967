package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabihodoroga/pubsub-batcher/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewEventSinkKafka_Validation(t *testing.T) {
	_, err := NewEventSinkKafka(nil, "events")
	assert.Error(t, err)
	_, err = NewEventSinkKafka([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	sink, err := NewEventSinkKafka([]string{"localhost:9092"}, "events")
	require.NoError(t, err)
	assert.IsType(t, &EventSinkKafka{}, sink)
}

func TestEventSinkKafka_Save(t *testing.T) {
	w := &fakeWriter{}
	sink := &EventSinkKafka{writer: w}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := sink.Save(context.Background(), []*model.Event{
		{ID: "1", Name: "order.placed", Timestamp: ts, Data: json.RawMessage(`{"total":10}`)},
		nil,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order.placed", string(w.msgs[0].Key))
	assert.Equal(t, ts, w.msgs[0].Time)

	var decoded model.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "1", decoded.ID)
	assert.JSONEq(t, `{"total":10}`, string(decoded.Data))

	require.NoError(t, sink.Save(context.Background(), nil))
	assert.Len(t, w.msgs, 1)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestEventSinkKafka_SaveError(t *testing.T) {
	sink := &EventSinkKafka{writer: &fakeWriter{err: errors.New("broker down")}}
	err := sink.Save(context.Background(), []*model.Event{{ID: "1", Name: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}
