package service

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/bigquery/storage/managedwriter"
	"cloud.google.com/go/bigquery/storage/managedwriter/adapt"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/gabihodoroga/pubsub-batcher/model"
)

// EventSchema is the layout of the destination table
var EventSchema = bigquery.Schema{
	{Name: "id", Type: bigquery.StringFieldType, Required: true},
	{Name: "name", Type: bigquery.StringFieldType, Required: true},
	{Name: "timestamp", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "attributes", Type: bigquery.StringFieldType},
	{Name: "data", Type: bigquery.StringFieldType},
}

type EventSinkBigQuery struct {
	client        *managedwriter.Client
	managedStream *managedwriter.ManagedStream
	descriptor    protoreflect.MessageDescriptor
}

func NewEventSinkBigQuery(ctx context.Context, project, dataset, table string) (model.EventSink, error) {

	bqclient, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bigquery client")
	}
	defer bqclient.Close()

	perms, err := bqclient.Dataset(dataset).Table(table).IAM().TestPermissions(ctx, []string{
		"bigquery.tables.updateData",
	})

	if err != nil {
		return nil, errors.Wrapf(err,
			"failed to get bigquery table permission permissions, project: %s, dataset: %s, table: %s",
			project,
			dataset,
			table)
	}

	if len(perms) == 0 {
		return nil, fmt.Errorf(
			"required permissions (bigquery.tables.updateData) not found for project: %s, dataset: %s, table: %s",
			project,
			dataset,
			table)
	}

	client, err := managedwriter.NewClient(ctx, project)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create managedwriter client")
	}

	descriptor, err := eventDescriptor()
	if err != nil {
		client.Close()
		return nil, err
	}
	descriptorProto, err := adapt.NormalizeDescriptor(descriptor)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to normalize event descriptor")
	}

	tableName := fmt.Sprintf("projects/%s/datasets/%s/tables/%s", project, dataset, table)
	managedStream, err := client.NewManagedStream(ctx,
		managedwriter.WithDestinationTable(tableName),
		managedwriter.WithType(managedwriter.DefaultStream),
		managedwriter.WithSchemaDescriptor(descriptorProto))
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to create managedwriter stream")
	}

	return &EventSinkBigQuery{
		client:        client,
		managedStream: managedStream,
		descriptor:    descriptor,
	}, nil
}

// eventDescriptor derives the row message descriptor from EventSchema
func eventDescriptor() (protoreflect.MessageDescriptor, error) {
	tableSchema, err := adapt.BQSchemaToStorageTableSchema(EventSchema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert event schema")
	}
	d, err := adapt.StorageSchemaToProto2Descriptor(tableSchema, "root")
	if err != nil {
		return nil, errors.Wrap(err, "failed to build event descriptor")
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, errors.New("event descriptor is not a message descriptor")
	}
	return md, nil
}

// encodeEvents serializes the events as rows of the given descriptor
func encodeEvents(md protoreflect.MessageDescriptor, events []*model.Event) ([][]byte, error) {
	fields := md.Fields()
	encoded := make([][]byte, 0, len(events))
	for _, e := range events {
		if e == nil {
			continue
		}
		msg := dynamicpb.NewMessage(md)
		msg.Set(fields.ByName("id"), protoreflect.ValueOfString(e.ID))
		msg.Set(fields.ByName("name"), protoreflect.ValueOfString(e.Name))
		msg.Set(fields.ByName("timestamp"), protoreflect.ValueOfInt64(e.Timestamp.UnixMicro()))
		if len(e.Attributes) > 0 {
			b, err := json.Marshal(e.Attributes)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to encode attributes of event %s", e.ID)
			}
			msg.Set(fields.ByName("attributes"), protoreflect.ValueOfString(string(b)))
		}
		if len(e.Data) > 0 {
			msg.Set(fields.ByName("data"), protoreflect.ValueOfString(string(e.Data)))
		}

		b, err := proto.Marshal(msg)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode event %s", e.ID)
		}
		encoded = append(encoded, b)
	}
	return encoded, nil
}

// Save implements model.EventSink and appends one row per event
func (s *EventSinkBigQuery) Save(ctx context.Context, events []*model.Event) error {
	logger := zap.L().With(zap.Any("request_id", ctx.Value(model.ContextKey("request_id"))))
	logger.Debug("EventSinkBigQuery.save: begin request")

	ctx, span := tracer.Start(ctx, "bigquery/save")
	span.SetAttributes(attribute.Int("rows", len(events)))
	defer span.End()

	encoded, err := encodeEvents(s.descriptor, events)
	if err != nil {
		return err
	}
	if len(encoded) == 0 {
		return nil
	}

	logger.Debug("EventSinkBigQuery.save: begin append rows")
	// Send the rows to the service
	result, err := s.managedStream.AppendRows(ctx, encoded)
	if err != nil {
		return errors.Wrap(err, "failed to append rows")
	}
	logger.Debug("EventSinkBigQuery.save: rows appended, waiting result")
	// Block until the write is complete and return the result.
	_, err = result.GetResult(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to save rows")
	}

	logger.Debug("EventSinkBigQuery.save: rows saved", zap.Int("rows", len(encoded)))
	return nil
}

// Close implements model.EventSink
func (s *EventSinkBigQuery) Close() error {
	zap.L().Info("EventSinkBigQuery: closing managed stream")
	if err := s.managedStream.Close(); err != nil {
		s.client.Close()
		return errors.Wrap(err, "failed to close managed stream")
	}
	return s.client.Close()
}
