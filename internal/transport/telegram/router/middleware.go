package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "folibot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Successful requests faster than this log at debug.
const slowRequest = 750 * time.Millisecond

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// recoverPanic turns a handler panic into an error so the worker survives.
func recoverPanic() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("handler panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func logRequest() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Int("args", len(req.RawArgs)),
				logx.Duration("dur", took),
			}
			switch {
			case err != nil:
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			case took >= slowRequest:
				req.Logger.Info("request slow", fields...)
			default:
				req.Logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}
