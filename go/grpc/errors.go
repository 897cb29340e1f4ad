package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// logCallError logs a remote call failure with its operation, target and status
// detail. Cancellation is not an error and is never logged here; it is propagated
// to the caller as a cancellation outcome.
func (c *Caller) logCallError(ctx context.Context, operation string, err error) {
	if isCancellation(err) {
		return
	}
	s, _ := status.FromError(err)
	c.log.ErrorContext(ctx, "rpc call failed",
		"operation", operation,
		"target", c.target(),
		"code", s.Code().String(),
		"error", s.Message(),
	)
}

// isCancellation returns true if err represents cooperative cancellation, whether
// surfaced as a context error or as a gRPC status.
func isCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	s, ok := status.FromError(err)
	return ok && s.Code() == codes.Canceled
}
