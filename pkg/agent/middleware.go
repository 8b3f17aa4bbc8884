package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Middleware wraps a Responder, returning a new Responder with added behaviour.
type Middleware func(next Responder) Responder

// Chain wraps r with mws. The first middleware is the outermost.
func Chain(r Responder, mws ...Middleware) Responder {
	for i := len(mws) - 1; i >= 0; i-- {
		r = mws[i](r)
	}
	return r
}

// --- Timeout middleware ---

// Timeout returns a Middleware that wraps the responder's context with a deadline.
func Timeout(d time.Duration) Middleware {
	return func(next Responder) Responder {
		return ResponderFunc(func(ctx context.Context, input string) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			return next.Respond(ctx, input)
		})
	}
}

// --- Recovery middleware ---

// Recovery returns a Middleware that catches panics and converts them to errors.
func Recovery() Middleware {
	return func(next Responder) Responder {
		return ResponderFunc(func(ctx context.Context, input string) (out string, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("agent panicked: %v", r)
				}
			}()

			return next.Respond(ctx, input)
		})
	}
}

// --- Logger middleware ---

// Logger returns a Middleware that logs agent start, duration, and error.
func Logger(log *slog.Logger, name string) Middleware {
	return func(next Responder) Responder {
		return ResponderFunc(func(ctx context.Context, input string) (string, error) {
			log.InfoContext(ctx, "agent started", "agent", name, "input_len", len(input))

			start := time.Now()

			out, err := next.Respond(ctx, input)

			duration := time.Since(start)

			if err != nil {
				log.ErrorContext(ctx, "agent finished with error",
					"agent", name,
					"duration", duration,
					"error", err,
				)
			} else {
				log.InfoContext(ctx, "agent finished",
					"agent", name,
					"duration", duration,
					"output_len", len(out),
				)
			}

			return out, err
		})
	}
}

// --- OutputGuardrail middleware ---

// OutputGuardrail returns a Middleware that validates the answer. If check
// returns an error, that error is returned instead of the answer.
func OutputGuardrail(check func(string) error) Middleware {
	return func(next Responder) Responder {
		return ResponderFunc(func(ctx context.Context, input string) (string, error) {
			out, err := next.Respond(ctx, input)
			if err != nil {
				return out, err
			}

			if checkErr := check(out); checkErr != nil {
				return "", checkErr
			}

			return out, nil
		})
	}
}
