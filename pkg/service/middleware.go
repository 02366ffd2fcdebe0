package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
)

// Handler processes one request message.
type Handler func(ctx context.Context, msg *Msg) error

// Middleware wraps a handler to add behaviour around it.
type Middleware func(Handler) Handler

// Chain applies middlewares so the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// RecoveryMiddleware turns a handler panic into an error. Panics carrying a
// structured error keep their code.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Msg) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Handler panicked",
						zap.String("subject", msg.Subject),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()))
					if se, ok := r.(*sdkerrors.Error); ok {
						err = se
						return
					}
					err = sdkerrors.NewError(sdkerrors.CodeInternal, fmt.Sprintf("panic recovered: %v", r), nil)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// LoggingMiddleware logs each request with its size and duration.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Msg) error {
			start := time.Now()
			err := next(ctx, msg)
			fields := []zap.Field{
				zap.String("subject", msg.Subject),
				zap.Int("request_bytes", len(msg.Data)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Error("Request failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("Request handled", fields...)
			}
			return err
		}
	}
}
