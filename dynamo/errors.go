package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/tablestore/store"
)

// mapError converts SDK errors into *store.RequestFailedError carrying the
// provider code. Context errors pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		var reasons []string
		for i, r := range txErr.CancellationReasons {
			if r.Code != nil && *r.Code != "None" {
				reasons = append(reasons, fmt.Sprintf("%d:%s", i, *r.Code))
			}
		}
		return &store.RequestFailedError{
			Code: store.CodeTransactionCanceled,
			Err:  fmt.Errorf("transaction canceled [%s]: %w", strings.Join(reasons, ","), err),
		}
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return &store.RequestFailedError{Code: store.CodeConditionFailed, Err: err}
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &store.RequestFailedError{Code: store.CodeTableNotFound, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &store.RequestFailedError{Code: apiErr.ErrorCode(), Err: err}
	}
	return &store.RequestFailedError{Code: "Unknown", Err: err}
}
