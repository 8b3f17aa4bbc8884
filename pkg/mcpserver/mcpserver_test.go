package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a Server with tools on in-memory transports and returns
// a connected client session. Everything is torn down with t.Cleanup.
func startServer(t *testing.T, log *slog.Logger, tools ...Tool) *mcp.ClientSession {
	t.Helper()

	s := New("promptkit-test", "0.0.0", log)
	s.Register(tools...)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- s.run(ctx, serverTransport)
	}()
	t.Cleanup(func() {
		cancel()
		<-serverDone
	})

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// setupTestClient starts a server whose logs are discarded.
func setupTestClient(t *testing.T, tools ...Tool) *mcp.ClientSession {
	t.Helper()
	return startServer(t, slog.New(slog.NewTextHandler(io.Discard, nil)), tools...)
}

func TestServer_ToolSchemas(t *testing.T) {
	session := setupTestClient(t, Tool{
		Name:        "summarize",
		Description: "Summarize a workbook",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		Handler:     func(context.Context, json.RawMessage) (string, error) { return "", nil },
	})

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)

	tool := result.Tools[0]
	assert.Equal(t, "summarize", tool.Name)
	assert.Equal(t, "Summarize a workbook", tool.Description)

	schema, err := json.Marshal(tool.InputSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`, string(schema))
}

func TestServer_PassesArguments(t *testing.T) {
	var got json.RawMessage
	session := setupTestClient(t, Tool{
		Name:        "capture",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(_ context.Context, input json.RawMessage) (string, error) {
			got = input
			return "ok", nil
		},
	})

	text, isErr := callText(t, session, "capture", map[string]any{"prompt": "hi", "top_k": 3})
	assert.False(t, isErr)
	assert.Equal(t, "ok", text)
	assert.JSONEq(t, `{"prompt":"hi","top_k":3}`, string(got))
}

func TestServer_HandlerErrorIsToolResult(t *testing.T) {
	var logs bytes.Buffer
	session := startServer(t, slog.New(slog.NewTextHandler(&logs, nil)), Tool{
		Name:        "fail",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("runtime is busy")
		},
	})

	text, isErr := callText(t, session, "fail", map[string]any{})
	assert.True(t, isErr)
	assert.Equal(t, "runtime is busy", text)
	assert.Contains(t, logs.String(), "mcp tool failed")
	assert.Contains(t, logs.String(), "tool=fail")
}

func TestServer_UnknownTool(t *testing.T) {
	session := setupTestClient(t)

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "missing",
		Arguments: map[string]any{},
	})
	assert.ErrorContains(t, err, "missing")
}

func TestServer_StopsOnCancel(t *testing.T) {
	s := New("promptkit-test", "0.0.0", nil)
	serverTransport, _ := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.run(ctx, serverTransport), context.Canceled)
}
