// Command agent is an example tool-calling agent. It connects to an MCP
// tool server, runs one conversational turn of the given prompt against the
// configured model, and prints the final output.
//
// Usage:
//
//	agent [--model MODEL] [--mcp-url URL] [prompt]
//
// The prompt is read from stdin when no positional argument is given. The
// flags default to the CHAT_MODEL and MCP_URL environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/spanflow/spanflow/internal/agent"
	"github.com/spanflow/spanflow/internal/api/openai"
	"github.com/spanflow/spanflow/internal/config"
	"github.com/spanflow/spanflow/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	model := flag.String("model", os.Getenv("CHAT_MODEL"), "Model to use.")
	mcpURL := flag.String("mcp-url", os.Getenv("MCP_URL"), "MCP server to connect to.")
	flag.Parse()

	if *model == "" {
		log.Fatal("no model given: pass --model or set CHAT_MODEL")
	}
	if *mcpURL == "" {
		log.Fatal("no MCP server given: pass --mcp-url or set MCP_URL")
	}

	prompt := flag.Arg(0)
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("Failed to read prompt from stdin: %v", err)
		}
		prompt = string(data)
	}

	fmt.Printf("Prompt: %s\n", prompt)
	fmt.Printf("Using model: %s\n", *model)
	fmt.Printf("Using MCP URL: %s\n", *mcpURL)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "spanflow-agent", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	server, err := agent.Connect(ctx, *mcpURL)
	if err != nil {
		log.Fatalf("Failed to connect to MCP server: %v", err)
	}
	defer server.Close()

	client := openai.NewClient(cfg.OpenAI.APIKey,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}))

	output, err := agent.New(client, server, *model).Run(ctx, prompt)
	if err != nil {
		log.Fatalf("Agent run failed: %v", err)
	}

	fmt.Println(output)
}
