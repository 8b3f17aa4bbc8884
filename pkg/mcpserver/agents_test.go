package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/germanamz/promptkit/pkg/agent"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAgentSession(t *testing.T) *mcp.ClientSession {
	t.Helper()

	reg := agent.NewRegistry()
	reg.Register("shout", "Repeat the prompt loudly", agent.ResponderFunc(
		func(_ context.Context, input string) (string, error) {
			return strings.ToUpper(input), nil
		}))
	reg.Register("broken", "Always fails", agent.ResponderFunc(
		func(_ context.Context, _ string) (string, error) {
			return "", errors.New("runtime unavailable")
		}))

	router := agent.NewRouter(reg.Routes("shout"), agent.RouterOptions{})

	return setupTestClient(t, AgentTools(reg, router)...)
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	return tc.Text, result.IsError
}

func TestAgentTools_List(t *testing.T) {
	session := newAgentSession(t)

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"list_agents", "ask_agent", "route"}, names)

	text, isErr := callText(t, session, "list_agents", map[string]any{})
	assert.False(t, isErr)
	assert.JSONEq(t, `[
		{"name":"broken","description":"Always fails"},
		{"name":"shout","description":"Repeat the prompt loudly"}
	]`, text)
}

func TestAgentTools_Ask(t *testing.T) {
	session := newAgentSession(t)

	text, isErr := callText(t, session, "ask_agent", map[string]any{"agent": "shout", "prompt": "hello"})
	assert.False(t, isErr)
	assert.Equal(t, "HELLO", text)
}

func TestAgentTools_AskErrors(t *testing.T) {
	session := newAgentSession(t)

	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing agent", map[string]any{"prompt": "hi"}, "ask_agent: agent is required"},
		{"blank prompt", map[string]any{"agent": "shout", "prompt": "  "}, "ask_agent: prompt is required"},
		{"unknown agent", map[string]any{"agent": "ghost", "prompt": "hi"}, `ask_agent: agent "ghost" not found`},
		{"agent fails", map[string]any{"agent": "broken", "prompt": "hi"}, "runtime unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, isErr := callText(t, session, "ask_agent", tc.args)
			assert.True(t, isErr)
			assert.Equal(t, tc.want, text)
		})
	}
}

func TestAgentTools_Route(t *testing.T) {
	session := newAgentSession(t)

	text, isErr := callText(t, session, "route", map[string]any{"prompt": "repeat this"})
	assert.False(t, isErr)

	var out routeOutput
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, "shout", out.Agent)
	assert.InDelta(t, 1, out.Score, 1e-9)
	assert.Equal(t, "REPEAT THIS", out.Answer)
}

func TestAgentTools_RouteWithoutRoutes(t *testing.T) {
	reg := agent.NewRegistry()
	session := setupTestClient(t, AgentTools(reg, agent.NewRouter(nil, agent.RouterOptions{}))...)

	text, isErr := callText(t, session, "route", map[string]any{"prompt": "anything"})
	assert.True(t, isErr)
	assert.Equal(t, agent.ErrNoRoute.Error(), text)
}

func TestAgentTools_NoRouter(t *testing.T) {
	tools := AgentTools(agent.NewRegistry(), nil)

	require.Len(t, tools, 2)
	assert.Equal(t, "list_agents", tools[0].Name)
	assert.Equal(t, "ask_agent", tools[1].Name)
}
