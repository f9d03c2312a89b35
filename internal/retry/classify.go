package retry

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Class groups DynamoDB failures by how the caller must react to them.
type Class int

const (
	// Fatal failures are returned as-is on first occurrence.
	Fatal Class = iota
	// Transient failures (throttling, capacity, service faults) are retried.
	Transient
	// Conflict means a conditional write guard did not hold.
	Conflict
	// TooLarge means the item exceeds the service size limit.
	TooLarge
	// Invalid means the request itself was malformed.
	Invalid
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Conflict:
		return "conflict"
	case TooLarge:
		return "too-large"
	case Invalid:
		return "invalid"
	default:
		return "fatal"
	}
}

var transientCodes = map[string]bool{
	"ThrottlingException":                    true,
	"Throttling":                             true,
	"ProvisionedThroughputExceededException": true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"InternalFailure":                        true,
	"ServiceUnavailable":                     true,
	"TransactionInProgressException":         true,
}

// Classify maps an error returned by the DynamoDB client to a Class.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return Conflict
	}
	var txConflict *types.TransactionConflictException
	if errors.As(err, &txConflict) {
		return Transient
	}
	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return Transient
	}
	var limit *types.RequestLimitExceeded
	if errors.As(err, &limit) {
		return Transient
	}
	var internal *types.InternalServerError
	if errors.As(err, &internal) {
		return Transient
	}
	var collection *types.ItemCollectionSizeLimitExceededException
	if errors.As(err, &collection) {
		return TooLarge
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if transientCodes[code] {
			return Transient
		}
		if code == "ValidationException" {
			if strings.Contains(apiErr.ErrorMessage(), "Item size") {
				return TooLarge
			}
			return Invalid
		}
		if code == "ConditionalCheckFailedException" {
			return Conflict
		}
	}
	return Fatal
}
