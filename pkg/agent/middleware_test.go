package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- test helpers ---

func stubResponder(out string, err error) Responder {
	return ResponderFunc(func(_ context.Context, _ string) (string, error) {
		return out, err
	})
}

func panicResponder() Responder {
	return ResponderFunc(func(_ context.Context, _ string) (string, error) {
		panic("something went wrong")
	})
}

func slowResponder(delay time.Duration) Responder {
	return ResponderFunc(func(ctx context.Context, _ string) (string, error) {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

// --- Timeout tests ---

func TestTimeout(t *testing.T) {
	wrapped := Timeout(time.Second)(stubResponder("done", nil))
	out, err := wrapped.Respond(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestTimeoutExpires(t *testing.T) {
	wrapped := Timeout(50 * time.Millisecond)(slowResponder(time.Second))
	_, err := wrapped.Respond(context.Background(), "x")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// --- Recovery tests ---

func TestRecovery(t *testing.T) {
	wrapped := Recovery()(stubResponder("ok", nil))
	out, err := wrapped.Respond(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestRecoveryCatchesPanic(t *testing.T) {
	wrapped := Recovery()(panicResponder())
	out, err := wrapped.Respond(context.Background(), "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent panicked")
	assert.Contains(t, err.Error(), "something went wrong")
	assert.Empty(t, out)
}

// --- Logger tests ---

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	wrapped := Logger(log, "test-agent")(stubResponder("reply", nil))
	out, err := wrapped.Respond(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, "reply", out)

	output := buf.String()
	assert.Contains(t, output, "agent started")
	assert.Contains(t, output, "agent finished")
	assert.Contains(t, output, "test-agent")
	assert.Contains(t, output, "input_len=5")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	wrapped := Logger(log, "err-agent")(stubResponder("", errors.New("boom")))
	_, err := wrapped.Respond(context.Background(), "x")

	require.Error(t, err)
	output := buf.String()
	assert.Contains(t, output, "agent finished with error")
	assert.Contains(t, output, "boom")
}

// --- OutputGuardrail tests ---

func TestOutputGuardrailPasses(t *testing.T) {
	check := func(string) error { return nil }

	wrapped := OutputGuardrail(check)(stubResponder("safe content", nil))
	out, err := wrapped.Respond(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "safe content", out)
}

func TestOutputGuardrailRejects(t *testing.T) {
	check := func(s string) error {
		if s == "bad content" {
			return errors.New("guardrail: content rejected")
		}
		return nil
	}

	wrapped := OutputGuardrail(check)(stubResponder("bad content", nil))
	out, err := wrapped.Respond(context.Background(), "x")

	require.Error(t, err)
	assert.Equal(t, "guardrail: content rejected", err.Error())
	assert.Empty(t, out)
}

func TestOutputGuardrailSkipsOnError(t *testing.T) {
	called := false
	check := func(string) error {
		called = true
		return nil
	}

	wrapped := OutputGuardrail(check)(stubResponder("", errors.New("agent failed")))
	_, err := wrapped.Respond(context.Background(), "x")

	require.Error(t, err)
	assert.Equal(t, "agent failed", err.Error())
	assert.False(t, called)
}

// --- Chain test ---

func TestChainOrder(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Responder) Responder {
			return ResponderFunc(func(ctx context.Context, input string) (string, error) {
				order = append(order, name+":before")
				out, err := next.Respond(ctx, input)
				order = append(order, name+":after")
				return out, err
			})
		}
	}

	wrapped := Chain(stubResponder("done", nil), mw("A"), mw("B"), mw("C"))
	_, err := wrapped.Respond(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, []string{
		"A:before", "B:before", "C:before",
		"C:after", "B:after", "A:after",
	}, order)
}

func TestChainRecoveryOutsideGuardrail(t *testing.T) {
	check := func(string) error { panic("guardrail crashed") }

	wrapped := Chain(stubResponder("x", nil), Recovery(), OutputGuardrail(check))
	_, err := wrapped.Respond(context.Background(), "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "guardrail crashed")
}
