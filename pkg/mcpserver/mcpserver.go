// Package mcpserver serves promptkit agents as tools over the Model Context
// Protocol, using the official MCP Go SDK.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler runs a tool on its JSON arguments and returns a text result.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is a named handler with a description and a JSON Schema for its
// arguments.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Server exposes tools to one MCP client.
type Server struct {
	server *mcp.Server
	log    *slog.Logger
}

// New creates a Server that announces itself with name and version. A nil
// logger uses slog.Default().
func New(name, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	return &Server{server: server, log: log}
}

// Register adds tools to the server.
func (s *Server) Register(tools ...Tool) {
	for _, t := range tools {
		s.server.AddTool(&mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}, s.handle(t))
	}
}

// Serve reads requests from in and writes responses to out, typically stdin
// and stdout. It blocks until ctx is cancelled or the client disconnects.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return s.run(ctx, &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	})
}

func (s *Server) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// handle adapts t to the SDK. Handler errors become IsError results so the
// calling model sees them instead of a protocol failure.
func (s *Server) handle(t Tool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}

		start := time.Now()
		result, err := t.Handler(ctx, args)

		if err != nil {
			s.log.WarnContext(ctx, "mcp tool failed", "tool", t.Name, "duration", time.Since(start), "error", err)
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}

		s.log.InfoContext(ctx, "mcp tool called", "tool", t.Name, "duration", time.Since(start), "output_len", len(result))

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result}},
		}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
