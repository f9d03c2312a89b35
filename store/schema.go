package store

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/widerow/internal/codec"
)

// tableWait bounds how long EnsureTable waits for a new table to be active.
const tableWait = 5 * time.Minute

// TableSchema describes a table keyed only by the reserved string hash key.
// With zero read and write capacity the table is billed per request.
func TableSchema(table string, readCapacity, writeCapacity int64) *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(codec.HashKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(codec.HashKey), KeyType: types.KeyTypeHash},
		},
	}
	if readCapacity == 0 && writeCapacity == 0 {
		input.BillingMode = types.BillingModePayPerRequest
		return input
	}
	input.BillingMode = types.BillingModeProvisioned
	input.ProvisionedThroughput = &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(max(readCapacity, 1)),
		WriteCapacityUnits: aws.Int64(max(writeCapacity, 1)),
	}
	return input
}

// EnsureTable creates the store's table if it does not exist and waits until
// it is active.
func (m *Manager) EnsureTable(ctx context.Context, s RowStore) error {
	table := s.TableName()
	_, err := m.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return wrap("ensureTable", table, err)
	}

	m.logger.Info("creating table", "table", table)
	if _, err := m.client.CreateTable(ctx, s.TableSchema()); err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return wrap("ensureTable", table, err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(m.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, tableWait); err != nil {
		return wrap("ensureTable", table, err)
	}
	return nil
}
