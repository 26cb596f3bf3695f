package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/spanflow/spanflow/internal/api/openai"
)

// MCPServer is a ToolServer backed by an MCP session over streamable HTTP.
type MCPServer struct {
	client  *mcp.Client
	session *mcp.ClientSession
}

// Connect dials the MCP server at url and performs the protocol handshake.
// The underlying HTTP transport is OTel-instrumented so tool traffic shows
// up in the same trace as the model calls.
func Connect(ctx context.Context, url string) (*MCPServer, error) {
	client := mcp.NewClient(
		&mcp.Implementation{
			Name:    "spanflow-agent",
			Version: "1.0.0",
		},
		&mcp.ClientOptions{
			Capabilities: &mcp.ClientCapabilities{},
		},
	)

	transport := &mcp.StreamableClientTransport{
		Endpoint: url,
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server %q: %w", url, err)
	}

	return &MCPServer{client: client, session: session}, nil
}

// ListTools queries the server's tools and converts them to chat-completion
// tool definitions.
func (s *MCPServer) ListTools(ctx context.Context) ([]openai.Tool, error) {
	var tools []openai.Tool
	for tool, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools: %w", err)
		}
		var params json.RawMessage
		if tool.InputSchema != nil {
			data, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("marshaling input schema for %q: %w", tool.Name, err)
			}
			params = data
		}
		tools = append(tools, openai.Tool{
			Type: "function",
			Function: openai.FunctionTool{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

// CallTool executes a tool call on the MCP server and returns the
// concatenated text content of the result. A result flagged IsError is
// still returned as text so the model can react to it.
func (s *MCPServer) CallTool(ctx context.Context, name, arguments string) (string, error) {
	var args map[string]any
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("invalid arguments for tool %q: %w", name, err)
		}
	}

	result, err := s.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("MCP tool call %q: %w", name, err)
	}

	var output string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			if output != "" {
				output += "\n"
			}
			output += tc.Text
		}
	}
	return output, nil
}

// Close closes the MCP session.
func (s *MCPServer) Close() error {
	if s.session != nil {
		return s.session.Close()
	}
	return nil
}
