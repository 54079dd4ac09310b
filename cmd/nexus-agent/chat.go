package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentrt/internal/activity"
	"github.com/haasonsaas/agentrt/internal/config"
	"github.com/haasonsaas/agentrt/internal/delegation"
	"github.com/haasonsaas/agentrt/internal/llm"
	"github.com/haasonsaas/agentrt/internal/llm/anthropic"
	"github.com/haasonsaas/agentrt/internal/llm/openai"
	"github.com/haasonsaas/agentrt/internal/permission"
	"github.com/haasonsaas/agentrt/internal/runtime"
	"github.com/haasonsaas/agentrt/internal/tool"
	"github.com/haasonsaas/agentrt/internal/tool/builtin"
	"github.com/haasonsaas/agentrt/pkg/models"
)

const baseIdentityPrompt = `You are a terminal coding assistant. You have access to tools for reading and
writing files, running shell commands, and delegating self-contained
sub-tasks to specialized agents. Be direct and concise. Ask before taking
destructive actions when the user hasn't already authorized them.`

// newChatCmd builds the "chat" command: an interactive loop that reads user
// turns from stdin and drives one Agent Runtime Turn Loop per line.
func newChatCmd() *cobra.Command {
	var (
		configPath string
		workspace  string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session with the agent",
		Example: `  # Start with default config
  nexus-agent chat

  # Use a custom config and workspace
  nexus-agent chat --config my.yaml --workspace ./project`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath, workspace)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (defaults built in if omitted)")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", ".", "Workspace root for file and shell tools")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runChat(ctx context.Context, configPath, workspace string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.Default()

	client, err := buildLLMClient(cfg.LLM, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	registry := tool.NewRegistry()
	_ = registry.Register(&tool.BatchTool{})
	_ = registry.Register(builtin.NewReadTool(workspace, 0))
	_ = registry.Register(builtin.NewWriteTool(workspace))
	_ = registry.Register(builtin.NewBashTool(workspace))
	_ = registry.Register(builtin.NewGrepTool(workspace))
	_ = registry.Register(builtin.NewListTool(workspace))
	_ = registry.Register(builtin.NewWebFetchTool())

	stream := activity.New(logger)
	gate := permission.New(stream, permission.Config{
		Timeout:          cfg.Permission.Timeout(),
		Responder:        stdinResponder(),
		SafeTools:        cfg.Permission.SafeTools,
		DestructiveTools: cfg.Permission.DestructiveTools,
	})

	pool := delegation.NewPool(delegation.Config{
		MaxSize:       cfg.AgentPool.MaxSize,
		IdleTimeout:   cfg.AgentPool.IdleTimeout(),
		SweepInterval: cfg.AgentPool.CleanupInterval(),
		Logger:        logger,
	})
	defer pool.Stop()

	runtimeCfg := runtime.Config{
		Logger:                  logger,
		ContextSize:             cfg.Runtime.ContextSize,
		RequiredToolMaxWarnings: cfg.Runtime.RequiredToolMaxWarnings,
		ActivityTimeout:         cfg.Runtime.ActivityTimeout(),
		MaxIterations:           cfg.Runtime.MaxIterations,
	}
	runtimeCfg.ContextThresholds.Informational = cfg.Runtime.ContextThresholds.Informational
	runtimeCfg.ContextThresholds.ReminderSoft = cfg.Runtime.ContextThresholds.ReminderSoft
	runtimeCfg.ContextThresholds.ReminderHard = cfg.Runtime.ContextThresholds.ReminderHard
	runtimeCfg.ContextThresholds.Compact = cfg.Runtime.ContextThresholds.Compact

	agent := runtime.NewAgent(runtimeCfg, client, registry, gate, stream, pool, runtime.NopPersistence{}, baseIdentityPrompt)

	delegateTool := runtime.NewDelegateTool(agent, []runtime.SubAgentSpec{
		{Name: "researcher", BasePrompt: "You are a focused research sub-agent. Investigate the given task using read-only tools and report findings concisely.", AllowedTools: []string{"read", "batch"}},
	})
	_ = registry.Register(delegateTool)

	fmt.Fprintln(os.Stdout, "nexus-agent ready. Type a message and press enter (Ctrl-D to exit).")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(os.Stdout, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reply, err := agent.SendMessage(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(os.Stdout, reply)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func buildLLMClient(cfg config.LLMConfig, logger *slog.Logger) (llm.Client, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return anthropic.New(anthropic.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, DefaultModel: cfg.Model, Logger: logger}), nil
	case "openai":
		return openai.New(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, DefaultModel: cfg.Model, Logger: logger}), nil
	default:
		return nil, errors.New("unknown llm provider: " + cfg.Provider)
	}
}

// stdinResponder prompts the user on stdin/stdout for a permission decision,
// the headless-CLI analogue of the reference project's interactive UI
// approval prompt.
func stdinResponder() permission.Responder {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx context.Context, req models.PermissionRequestData) models.PermissionDecision {
		fmt.Fprintf(os.Stdout, "\npermission requested: %s %v\n[a]llow once / [A]llow always / [d]eny? ", req.ToolName, req.Arguments)
		line, _ := reader.ReadString('\n')
		switch strings.TrimSpace(line) {
		case "A":
			return models.DecisionAllowAlways
		case "a":
			return models.DecisionAllowOnce
		default:
			return models.DecisionDeny
		}
	}
}
