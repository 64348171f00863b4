package ctxutil

import (
	"context"
	"errors"
	"fmt"
)

// Cause returns nil while ctx is live. Once it is done, it returns ctx.Err(),
// wrapped together with the cancellation cause when one was given.
func Cause(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if cause == err {
		return err
	}
	return fmt.Errorf("%w, cause: %w", err, cause)
}

// ErrorWithCause attaches the cancellation cause of ctx to err when err stems
// from ctx being done and does not carry the cause yet. Any other error is
// returned unchanged.
func ErrorWithCause(err error, ctx context.Context) error {
	if err == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if cause != nil && cause != ctx.Err() && errors.Is(err, ctx.Err()) && !errors.Is(err, cause) {
		return fmt.Errorf("%w, cause: %w", err, cause)
	}
	return err
}
