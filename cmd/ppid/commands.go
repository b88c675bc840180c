package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ppi-control/internal/adapter/auditlog"
	"ppi-control/internal/domain"
	"ppi-control/internal/infra/config"
	"ppi-control/internal/usecase/scheduling"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agents, scheduler and gateway until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.shutdown()

			rt, err := buildRuntime(ctx, e.cfg, e.log, buildOptions{gateway: true})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := rt.Close(shutdownCtx); err != nil {
					e.log.Error("runtime cleanup error", "error", err)
				}
			}()

			if e.cfg.Scheduler.Enabled {
				if err := rt.scheduler.Start(ctx); err != nil {
					return fmt.Errorf("scheduler: %w", err)
				}
				for _, entry := range rt.scheduler.Entries() {
					e.log.Info("trigger armed", "trigger", string(entry.Trigger), "schedule", entry.Schedule, "next", entry.Next)
				}
			}

			gwErr := make(chan error, 1)
			if rt.gateway != nil {
				go func() { gwErr <- rt.gateway.Start(ctx) }()
			}

			e.log.Info("ppid running", "agents", len(rt.router.Agents()), "channels", rt.channels.Channels())
			select {
			case <-ctx.Done():
				e.log.Info("shutting down")
				return nil
			case err := <-gwErr:
				if err != nil {
					return fmt.Errorf("gateway: %w", err)
				}
				return nil
			}
		},
	}
}

func triggerCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "trigger [name]",
		Short: "Run one scheduled trigger now",
		Long: `Runs a trigger once against the configured store, outside its schedule.
Built-in triggers: daily_report, deadline_check, weekly_report, feed_flush,
risk_sweep (and audit_retention when an audit path is set).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.shutdown()

			rt, err := buildRuntime(cmd.Context(), e.cfg, e.log, buildOptions{})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			if list || len(args) == 0 {
				return printTriggers(cmd.OutOrStdout(), rt.scheduler)
			}
			name := scheduling.Trigger(args[0])
			if err := rt.scheduler.RunNow(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trigger %s completed (feed seq %d)\n", name, rt.sink.Seq())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list triggers and their schedules")
	return cmd
}

func printTriggers(w io.Writer, s *scheduling.Scheduler) error {
	armed := make(map[scheduling.Trigger]scheduling.Entry)
	for _, e := range s.Entries() {
		armed[e.Trigger] = e
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Trigger", "Schedule", "Next"})
	for _, name := range s.Triggers() {
		entry, ok := armed[name]
		if !ok {
			tw.AppendRow(table.Row{name, "off", ""})
			continue
		}
		next := "-" // not computed until the scheduler runs
		if !entry.Next.IsZero() {
			next = entry.Next.Format(time.RFC3339)
		}
		tw.AppendRow(table.Row{name, entry.Schedule, next})
	}
	tw.Render()
	return nil
}

func feedCmd() *cobra.Command {
	var (
		limit    int
		asJSON   bool
		mirror   bool
		category string
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the most recent audit entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.shutdown()

			var entries []domain.FeedEntry
			if mirror {
				if e.cfg.Audit.Path == "" {
					return errors.New("audit.path is not configured")
				}
				entries, err = auditlog.Tail(e.cfg.Audit.Path, 0)
				if err != nil {
					return err
				}
				// Tail is oldest first; present newest first like the store.
				sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq > entries[j].Seq })
			} else {
				rt, err := buildRuntime(cmd.Context(), e.cfg, e.log, buildOptions{})
				if err != nil {
					return err
				}
				defer rt.Close(context.Background())
				entries, err = rt.sink.Recent(cmd.Context(), 0)
				if err != nil {
					return err
				}
			}

			entries = filterFeed(entries, category, limit)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			renderFeed(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	cmd.Flags().BoolVar(&mirror, "mirror", false, "read the JSONL audit mirror instead of the store")
	cmd.Flags().StringVar(&category, "category", "", "only entries of this category")
	return cmd
}

// filterFeed keeps entries of category (all when empty), newest first, capped at limit.
func filterFeed(entries []domain.FeedEntry, category string, limit int) []domain.FeedEntry {
	out := make([]domain.FeedEntry, 0, len(entries))
	for _, e := range entries {
		if category != "" && e.Category != category {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func renderFeed(w io.Writer, entries []domain.FeedEntry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Seq", "Time", "Agent", "Category", "Action", "Project", "Task"})
	for _, e := range entries {
		tw.AppendRow(table.Row{
			e.Seq,
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Agent,
			e.Category,
			e.Action,
			e.ProjectID,
			e.TaskID,
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "total", len(entries)})
	tw.Render()
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for the config file with $" + config.KeyEnv,
		Long: `Prints an enc: value for use in the config file. The value is read from
the argument, or from stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv(config.KeyEnv)
			if key == "" {
				return fmt.Errorf("%s is not set", config.KeyEnv)
			}
			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read value: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return errors.New("empty value")
			}
			enc, err := config.EncryptValue(value, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "enc:"+enc)
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", configPath)
			fmt.Fprintf(out, "  store:     %s\n", cfg.Store.Driver)
			fmt.Fprintf(out, "  scheduler: enabled=%t timezone=%s\n", cfg.Scheduler.Enabled, cfg.Scheduler.Timezone)
			fmt.Fprintf(out, "  gateway:   enabled=%t addr=%s tokens=%d\n", cfg.Gateway.Enabled, cfg.Gateway.Addr, len(cfg.Gateway.Tokens))
			fmt.Fprintf(out, "  alerts:    %s\n", strings.Join(cfg.Channels.Alert, ", "))
			return nil
		},
	}
}
