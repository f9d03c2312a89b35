// Package stream provides a DynamoDB Streams handler that turns changes to
// wide-column tables into row-change notifications.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/widerow/internal/codec"
	"github.com/jacentio/widerow/store"
)

// ErrNoRowKey is returned by DecodeStreamKey when the key image carries no
// usable row key.
var ErrNoRowKey = errors.New("widerow: stream record has no row key")

// RowChange describes what happened to one row.
type RowChange struct {
	// Table is the DynamoDB table the record came from, if known.
	Table string

	// EventID is the stream record ID.
	EventID string

	Key []byte

	// Upserted holds the columns written with a new value, in column order.
	Upserted []store.Entry

	// Removed holds the names of columns that no longer exist, in column order.
	Removed [][]byte

	// Deleted is set when the row's item was removed.
	Deleted bool
}

// Listener receives row changes. A returned error stops the batch.
type Listener interface {
	RowChanged(ctx context.Context, change RowChange) error
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(ctx context.Context, change RowChange) error

func (f ListenerFunc) RowChanged(ctx context.Context, change RowChange) error {
	return f(ctx, change)
}

// Handler processes DynamoDB stream events of wide-column tables.
type Handler struct {
	listener Listener
	logger   *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(listener Listener, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		listener: listener,
		logger:   logger,
	}
}

// HandleEvent decodes each record and passes the change to the listener.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleEvent(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Lambda retries the batch
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	change, ok, err := Decode(record)
	if errors.Is(err, ErrNoRowKey) {
		h.logger.Warn("skipping record without row key",
			"eventID", record.EventID,
			"table", tableFromARN(record.EventSourceArn),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	h.logger.Debug("row changed",
		"table", change.Table,
		"key", codec.EncodeKey(change.Key),
		"upserted", len(change.Upserted),
		"removed", len(change.Removed),
		"deleted", change.Deleted,
	)
	if h.listener == nil {
		return nil
	}
	if err := h.listener.RowChanged(ctx, change); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	return nil
}

// Decode converts one stream record into a RowChange. ok is false for
// records that change no column, such as a rewrite with identical values.
func Decode(record events.DynamoDBEventRecord) (change RowChange, ok bool, err error) {
	key, err := DecodeStreamKey(record.Change.Keys)
	if err != nil {
		return RowChange{}, false, err
	}
	change = RowChange{
		Table:   tableFromARN(record.EventSourceArn),
		EventID: record.EventID,
		Key:     key,
	}

	oldCols := imageColumns(record.Change.OldImage)
	newCols := imageColumns(record.Change.NewImage)

	switch events.DynamoDBOperationType(record.EventName) {
	case events.DynamoDBOperationTypeRemove:
		change.Deleted = true
		change.Removed = sortedNames(oldCols)
		return change, true, nil
	case events.DynamoDBOperationTypeInsert, events.DynamoDBOperationTypeModify:
	default:
		return RowChange{}, false, nil
	}

	for name, value := range newCols {
		if old, exists := oldCols[name]; exists && bytes.Equal(old, value) {
			continue
		}
		change.Upserted = append(change.Upserted, store.Entry{Column: []byte(name), Value: value})
	}
	sort.Slice(change.Upserted, func(i, j int) bool {
		return bytes.Compare(change.Upserted[i].Column, change.Upserted[j].Column) < 0
	})
	for name := range oldCols {
		if _, kept := newCols[name]; !kept {
			change.Removed = append(change.Removed, []byte(name))
		}
	}
	sortBytes(change.Removed)

	return change, len(change.Upserted) > 0 || len(change.Removed) > 0, nil
}

// DecodeStreamKey extracts the row key from a stream record's key image.
func DecodeStreamKey(streamKey map[string]events.DynamoDBAttributeValue) ([]byte, error) {
	encoded := getStringAttr(streamKey, codec.HashKey)
	if encoded == "" {
		return nil, ErrNoRowKey
	}
	key, err := codec.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRowKey, err)
	}
	return key, nil
}

// imageColumns decodes the columns of a stream image, keyed by column name.
// Attributes that are not encoded columns are ignored.
func imageColumns(image map[string]events.DynamoDBAttributeValue) map[string][]byte {
	cols := make(map[string][]byte, len(image))
	for attr := range image {
		if attr == codec.HashKey {
			continue
		}
		name, err := codec.DecodeKey(attr)
		if err != nil || len(name) == 0 {
			continue
		}
		value, ok := getBinaryAttr(image, attr)
		if !ok {
			continue
		}
		cols[string(name)] = value
	}
	return cols
}

func sortedNames(cols map[string][]byte) [][]byte {
	if len(cols) == 0 {
		return nil
	}
	names := make([][]byte, 0, len(cols))
	for name := range cols {
		names = append(names, []byte(name))
	}
	sortBytes(names)
	return names
}

func sortBytes(names [][]byte) {
	sort.Slice(names, func(i, j int) bool { return bytes.Compare(names[i], names[j]) < 0 })
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getBinaryAttr extracts a binary attribute from a DynamoDB stream image.
func getBinaryAttr(image map[string]events.DynamoDBAttributeValue, key string) ([]byte, bool) {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeBinary {
		b := v.Binary()
		if b == nil {
			b = []byte{}
		}
		return b, true
	}
	return nil, false
}

// tableFromARN returns the table name of a stream ARN such as
// arn:aws:dynamodb:us-east-1:123456789012:table/jg_edgestore/stream/2024-01-01T00:00:00.000.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}
