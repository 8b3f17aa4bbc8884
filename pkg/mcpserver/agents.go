package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/germanamz/promptkit/pkg/agent"
)

// Directory lists and looks up agents. *agent.Registry implements it.
type Directory interface {
	List() []agent.Entry
	Get(name string) (agent.Responder, bool)
}

// Selector picks a route for an input. *agent.Router implements it.
type Selector interface {
	Select(ctx context.Context, input string) (agent.Route, float64, error)
}

// AgentTools returns the list_agents, ask_agent and route tools. route is
// left out when router is nil.
func AgentTools(dir Directory, router Selector) []Tool {
	tools := []Tool{
		{
			Name:        "list_agents",
			Description: "List the available agents with their descriptions.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler:     listAgents(dir),
		},
		{
			Name:        "ask_agent",
			Description: "Send a prompt to the named agent and return its answer.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"agent":{"type":"string","description":"Agent name from list_agents"},` +
				`"prompt":{"type":"string","description":"Prompt for the agent"}},` +
				`"required":["agent","prompt"]}`),
			Handler: askAgent(dir),
		},
	}

	if router != nil {
		tools = append(tools, Tool{
			Name:        "route",
			Description: "Send a prompt to the agent whose description matches it best and return the answer.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"prompt":{"type":"string","description":"Prompt to route"}},` +
				`"required":["prompt"]}`),
			Handler: route(router),
		})
	}

	return tools
}

type agentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func listAgents(dir Directory) Handler {
	return func(_ context.Context, _ json.RawMessage) (string, error) {
		entries := dir.List()

		out := make([]agentInfo, 0, len(entries))
		for _, e := range entries {
			out = append(out, agentInfo{Name: e.Name, Description: e.Description})
		}

		data, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("list_agents: %w", err)
		}
		return string(data), nil
	}
}

type askInput struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
}

func askAgent(dir Directory) Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var in askInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("ask_agent: invalid input: %w", err)
		}

		if in.Agent == "" {
			return "", errors.New("ask_agent: agent is required")
		}
		if strings.TrimSpace(in.Prompt) == "" {
			return "", errors.New("ask_agent: prompt is required")
		}

		r, ok := dir.Get(in.Agent)
		if !ok {
			return "", fmt.Errorf("ask_agent: agent %q not found", in.Agent)
		}

		return r.Respond(ctx, in.Prompt)
	}
}

type routeInput struct {
	Prompt string `json:"prompt"`
}

type routeOutput struct {
	Agent  string  `json:"agent"`
	Score  float64 `json:"score"`
	Answer string  `json:"answer"`
}

func route(router Selector) Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var in routeInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("route: invalid input: %w", err)
		}

		if strings.TrimSpace(in.Prompt) == "" {
			return "", errors.New("route: prompt is required")
		}

		r, score, err := router.Select(ctx, in.Prompt)
		if err != nil {
			return "", err
		}

		answer, err := r.Responder.Respond(ctx, in.Prompt)
		if err != nil {
			return "", err
		}

		data, err := json.Marshal(routeOutput{Agent: r.Name, Score: score, Answer: answer})
		if err != nil {
			return "", fmt.Errorf("route: %w", err)
		}
		return string(data), nil
	}
}
