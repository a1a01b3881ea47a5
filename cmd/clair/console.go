package main

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/easeaico/ctrl-clair/internal/agents"
	"github.com/easeaico/ctrl-clair/internal/llm"
	"github.com/easeaico/ctrl-clair/internal/tools"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/cmd/launcher"
	"google.golang.org/adk/cmd/launcher/full"
	"google.golang.org/adk/model/gemini"
)

var consoleCmd = &cobra.Command{
	Use:   "console [launcher args]",
	Short: "Chat with Clair through the ADK launcher",
	Long: `Starts an LLM agent named "clair" whose tools read and write the memory
graph, classify prompts and generate images. Remaining arguments are passed
to the ADK launcher, e.g. "clair console web api".`,
	DisableFlagParsing: true,
	RunE:               runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to close memory graph", zap.Error(err))
		}
	}()

	llmAgent, err := initializeAgent(ctx, a)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}

	config := &launcher.Config{
		AgentLoader: agent.NewSingleLoader(llmAgent),
	}
	l := full.NewLauncher()
	if err := l.Execute(ctx, config, args); err != nil {
		return fmt.Errorf("failed to run agent: %w\n\n%s", err, l.CommandLineSyntax())
	}
	return nil
}

// initializeAgent creates the chat agent over the app's graph and generator.
func initializeAgent(ctx context.Context, a *app) (agent.Agent, error) {
	clientConfig, err := llm.ClientConfig(genaiSettings(cfg))
	if err != nil {
		return nil, err
	}

	agentTools, err := tools.BuildTools(tools.ToolsConfig{
		Graph:     a.graph,
		Generator: a.generator,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build tools: %w", err)
	}

	llmModel, err := gemini.NewModel(ctx, cfg.ChatModel, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM model: %w", err)
	}

	core := agents.Default()
	llmAgent, err := llmagent.New(llmagent.Config{
		Name:        core.ID,
		Description: core.Description,
		Model:       llmModel,
		Instruction: buildSystemPrompt(agents.Catalog()),
		Tools:       agentTools,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	logger.Info("agent initialized", zap.String("model", cfg.ChatModel), zap.Int("tools", len(agentTools)))
	return llmAgent, nil
}

var systemPromptTmpl = template.Must(template.New("systemPrompt").Funcs(template.FuncMap{"inc": inc}).Parse(`
You are Clair, an AI assistant that coordinates specialized agents. Your job
is to understand what the user wants, route it to the right agent, and keep
a coherent conversation by using your memory.

Agents you coordinate:
{{- range $idx, $a := .Agents }}
{{ inc $idx }}. {{ $a.Name }} ({{ $a.ID }}): {{ $a.Description }}
{{- end }}

When answering:
- Use search_memory or recent_memory before answering questions about earlier conversations
- Use route_prompt when unsure which agent a request belongs to
- Use generate_image for requests to draw, create or render images
- Use store_memory to keep facts the user wants remembered, and connect_memory to link related nodes
- Always give clear, direct answers
`))

// inc is a small helper for incrementing index
func inc(i int) int { return i + 1 }

// buildSystemPrompt lists the agent catalog in the system instruction.
func buildSystemPrompt(catalog []agents.Agent) string {
	data := struct {
		Agents []agents.Agent
	}{
		Agents: catalog,
	}

	var buf bytes.Buffer
	_ = systemPromptTmpl.Execute(&buf, data)
	return buf.String()
}
