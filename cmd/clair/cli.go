package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/easeaico/ctrl-clair/internal/memory"
	"github.com/easeaico/ctrl-clair/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	actionPayload string
	searchType    string
	recentLimit   int
	clearConfirm  bool
)

var promptCmd = &cobra.Command{
	Use:   "prompt [text]",
	Short: "Process one prompt and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		return writeJSON(out, a.dispatcher.ProcessPrompt(ctx, strings.Join(args, " ")))
	}),
}

var actionCmd = &cobra.Command{
	Use:   "action [agentId] [action]",
	Short: "Execute an explicit agent action (process, delegate, respond, generate, store)",
	Example: `  clair action memory store --payload '{"content":"likes tea"}'
  clair action clair delegate --payload '{"targetAgentId":"flux","action":"generate","actionPayload":{"prompt":"a fox"}}'`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		payload := map[string]any{}
		if actionPayload != "" {
			if err := json.Unmarshal([]byte(actionPayload), &payload); err != nil {
				return fmt.Errorf("invalid --payload: %w", err)
			}
		}
		return writeJSON(out, a.dispatcher.ExecuteAgentAction(ctx, service.Action{
			AgentID:   args[0],
			Action:    service.ActionType(args[1]),
			Payload:   payload,
			Timestamp: time.Now().UnixMilli(),
		}))
	}),
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or reset the memory graph",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show [nodeId]",
	Short: "Print one node, or graph statistics when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		if len(args) == 1 {
			node, ok := a.graph.GetNode(ctx, args[0])
			if !ok {
				return fmt.Errorf("node %s not found", args[0])
			}
			return writeJSON(out, node)
		}

		view := struct {
			memory.Stats
			PersistedAt *time.Time `json:"persistedAt,omitempty"`
		}{Stats: a.graph.Stats(ctx)}
		if s, ok := a.store.(interface {
			UpdatedAt(context.Context) (time.Time, error)
		}); ok {
			if ts, err := s.UpdatedAt(ctx); err == nil && !ts.IsZero() {
				view.PersistedAt = &ts
			}
		}
		return writeJSON(out, view)
	}),
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "List nodes whose content contains the query (case-insensitive)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		if searchType == "" {
			return writeJSON(out, a.graph.SearchNodes(ctx, args[0]))
		}
		kind, ok := memory.ParseKind(searchType)
		if !ok {
			return fmt.Errorf("unknown node type %q", searchType)
		}
		return writeJSON(out, a.graph.SearchKind(ctx, kind, args[0]))
	}),
}

var memoryRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the newest nodes",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		return writeJSON(out, a.graph.RecentNodes(ctx, recentLimit))
	}),
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every node",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, out io.Writer, args []string) error {
		if !clearConfirm {
			return errors.New("refusing to clear memory without --yes")
		}
		a.graph.Clear(ctx)
		_, err := fmt.Fprintln(out, "memory cleared")
		return err
	}),
}

func init() {
	actionCmd.Flags().StringVarP(&actionPayload, "payload", "p", "", "Action payload as a JSON object")
	memorySearchCmd.Flags().StringVarP(&searchType, "type", "t", "", "Restrict to one node type")
	memoryRecentCmd.Flags().IntVarP(&recentLimit, "limit", "n", memory.DefaultRecentLimit, "Maximum number of nodes")
	memoryClearCmd.Flags().BoolVar(&clearConfirm, "yes", false, "Confirm clearing the graph")

	memoryCmd.AddCommand(memoryShowCmd, memorySearchCmd, memoryRecentCmd, memoryClearCmd)
}

// withApp builds the app for one command run and closes it afterwards.
func withApp(run func(ctx context.Context, a *app, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
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
		return run(ctx, a, cmd.OutOrStdout(), args)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
