// Package agent implements the example tool-calling agent: one MCP session
// to a remote tool server, one chat-completion conversation driving it.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/spanflow/spanflow/internal/api/openai"
)

// defaultMaxTurns bounds the conversation so a model that keeps requesting
// tools cannot loop forever.
const defaultMaxTurns = 10

// ToolServer is the subset of an MCP session the agent needs. The MCP
// implementation lives in mcp.go; tests substitute a fake.
type ToolServer interface {
	// ListTools returns the server's tools in chat-completion tool format.
	ListTools(ctx context.Context) ([]openai.Tool, error)
	// CallTool executes a named tool with JSON-encoded arguments and
	// returns its text output. Tool-level failures are returned as output
	// text so the model can react; only transport failures are errors.
	CallTool(ctx context.Context, name, arguments string) (string, error)
}

type Agent struct {
	client   *openai.Client
	tools    ToolServer
	model    string
	maxTurns int
}

func New(client *openai.Client, tools ToolServer, model string) *Agent {
	return &Agent{
		client:   client,
		tools:    tools,
		model:    model,
		maxTurns: defaultMaxTurns,
	}
}

// Run executes one conversational run: the prompt goes in, tool calls are
// executed against the tool server as the model requests them, and the
// model's final text comes out. Any failed call aborts the run.
func (a *Agent) Run(ctx context.Context, prompt string) (string, error) {
	toolDefs, err := a.tools.ListTools(ctx)
	if err != nil {
		return "", fmt.Errorf("discovering tools: %w", err)
	}

	messages := []openai.ChatCompletionMessage{
		{Role: "user", Content: prompt},
	}

	for turn := 0; turn < a.maxTurns; turn++ {
		resp, err := a.client.CreateChatCompletion(ctx, &openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("chat completion returned no choices")
		}

		msg := resp.Choices[0].Message
		messages = append(messages, msg)

		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		for _, call := range msg.ToolCalls {
			output, err := a.tools.CallTool(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				return "", fmt.Errorf("calling tool %q: %w", call.Function.Name, err)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    output,
			})
		}
	}

	return "", fmt.Errorf("conversation did not finish within %d turns", a.maxTurns)
}
