package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"nelculobot/pkg/logx"
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

// slowCommand is where a successful command is logged at INFO.
const slowCommand = 2 * time.Second

// MWTimeout bounds a command. /force and /post need long values since a
// cycle includes a full broadcast.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWRecover turns a handler panic into an error and tells the user
// something went wrong instead of leaving them without a reply.
func MWRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.Logger.Error("command panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic in /%s: %v", req.Command, r)
				_ = req.Reply(context.WithoutCancel(ctx), msgInternal)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs the outcome of each command with its caller's role.
func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{logx.Bool("admin", req.IsAdmin), logx.Int("args", len(req.Args)), logx.Duration("dur", time.Since(start))}
			switch {
			case err != nil:
				req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
			case time.Since(start) >= slowCommand:
				req.Logger.Info("command done", fields...)
			default:
				req.Logger.Debug("command done", fields...)
			}
			return err
		}
	}
}
