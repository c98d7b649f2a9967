package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/dchest/uniuri"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gabihodoroga/pubsub-batcher/model"
)

// Emitter publishes named events to in-process listeners
type Emitter interface {
	Emit(name string, event *model.Event)
}

// EventHandlerPubsub implements the EventHandler using Pub/Sub. Every message
// is decoded into a model.Event and emitted under its event name.
type EventHandlerPubsub struct {
	host         string
	project      string
	subscription string
	attribute    string
	emitter      Emitter
	stats        *model.HandlerStats
}

func NewEventHandlerPubsub(host, project, subscription, attribute string, emitter Emitter) (model.EventHandler, error) {
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	return &EventHandlerPubsub{
		host:         host,
		project:      project,
		subscription: subscription,
		attribute:    attribute,
		emitter:      emitter,
		stats:        &model.HandlerStats{},
	}, nil
}

// Start implements model.EventHandler and start listening for events
func (c *EventHandlerPubsub) Start(ctx context.Context) error {

	var client *pubsub.Client
	var err error

	if c.host != "" {
		// This is mainly used for testing
		conn, err := grpc.Dial(c.host, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		// Use the connection when creating a pubsub client.
		client, err = pubsub.NewClient(ctx, c.project, option.WithGRPCConn(conn))
		if err != nil {
			return err
		}
	} else {
		client, err = pubsub.NewClient(ctx, c.project)

		if err != nil {
			return errors.Wrap(err, "failed to create PubSub client")
		}
	}

	sub := client.Subscription(c.subscription)

	if c.host == "" {
		perms, err := sub.IAM().TestPermissions(ctx, []string{
			"pubsub.subscriptions.consume",
		})

		if err != nil {
			return errors.Wrapf(err,
				"failed to get the subscription permissions, project %s, subscription %s",
				c.project,
				c.subscription)
		}

		if len(perms) == 0 {
			return fmt.Errorf(
				"required permissions (pubsub.subscriptions.consume) not found for project %s, subscription %s",
				c.project,
				c.subscription)
		}
	}

	go func() {
		for {
			zap.L().Sugar().Infof("begin receive messages from subscription %s.", sub.String())
			err := sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {

				atomic.AddInt64(&c.stats.Received, 1)
				requestID := uniuri.NewLen(10)
				logger := zap.L().With(zap.Any("request_id", requestID))
				newCtx := context.WithValue(msgCtx, model.ContextKey("request_id"), requestID)
				newCtx, span := tracer.Start(newCtx, "pubsub/receive")
				defer span.End()

				logger.Sugar().Debugf("pubsubFunc: got message with id %s, data: %s", msg.ID, string(msg.Data))
				err := c.handleMessage(newCtx, msg.ID, msg.PublishTime, msg.Attributes, msg.Data)
				if err != nil {
					logger.Error(fmt.Sprintf("pubsubFunc: failed to process message with id %s", msg.ID), zap.Error(err))
					msg.Nack()
					atomic.AddInt64(&c.stats.Errors, 1)
				} else {
					logger.Sugar().Debugf("pubsubFunc: message with id %s acknowledged", msg.ID)
					msg.Ack()
					atomic.AddInt64(&c.stats.Success, 1)
				}
			})
			zap.L().Sugar().Infof("pubsub receive exit for subscription %s", sub.String())

			if err != nil {
				zap.L().Error(fmt.Sprintf("pubsub receive error for subscription %s, receive will be retried in 2 seconds", sub.String()), zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
					continue
				}
			}
			// if no error is received then the context has been canceled and we just exist
			zap.L().Sugar().Infof("receive done on subscription %s. No messages will be processed.", sub.String())
			client.Close()
			return
		}
	}()

	return nil
}

// Stats implements model.EventHandler
func (c *EventHandlerPubsub) Stats(ctx context.Context) (model.HandlerStats, error) {
	return model.HandlerStats{
		Received: atomic.LoadInt64(&c.stats.Received),
		Success:  atomic.LoadInt64(&c.stats.Success),
		Errors:   atomic.LoadInt64(&c.stats.Errors),
	}, nil
}

// handleMessage decodes the message and emits it. The message is acked as soon
// as it is queued: a batch lost downstream is not redelivered.
func (c *EventHandlerPubsub) handleMessage(ctx context.Context, id string, published time.Time, attributes map[string]string, data []byte) error {
	logger := zap.L().With(zap.Any("request_id", ctx.Value(model.ContextKey("request_id"))))
	logger.Debug("handleMessage: begin request")

	_, span := tracer.Start(ctx, "pubsub/handleMessage")
	defer span.End()

	event, err := decodeEvent(id, published, c.attribute, attributes, data)
	if err != nil {
		return err
	}
	logger.Sugar().Debugf("handleMessage: message parsed, event %s", event.Name)

	c.emitter.Emit(event.Name, event)

	logger.Sugar().Debugf("handleMessage: event %s queued", event.Name)
	return nil
}

// decodeEvent builds an event from a message. The payload may be a full
// model.Event or any JSON document; the name comes from the attribute first
// and from the payload otherwise.
func decodeEvent(id string, published time.Time, attribute string, attributes map[string]string, data []byte) (*model.Event, error) {
	if !json.Valid(data) {
		return nil, errors.Errorf("message %s: payload is not valid JSON", id)
	}

	event := &model.Event{}
	// a payload that is not an object is kept as opaque data
	if err := json.Unmarshal(data, event); err != nil || (event.Name == "" && event.Data == nil) {
		event = &model.Event{Data: json.RawMessage(data)}
	}

	if name := attributes[attribute]; name != "" {
		event.Name = name
	}
	if event.Name == "" {
		return nil, errors.Errorf("message %s: event name not found in attribute %q or payload", id, attribute)
	}
	if event.ID == "" {
		event.ID = id
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = published.UTC()
	}
	if len(attributes) > 0 {
		if event.Attributes == nil {
			event.Attributes = map[string]string{}
		}
		for k, v := range attributes {
			event.Attributes[k] = v
		}
	}
	return event, nil
}
