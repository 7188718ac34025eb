package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/corelauncher/pkg/client"
)

type roleOp func(ctx context.Context, c *client.Client, role string) (client.RoleStatus, error)

func roleLaunch(ctx context.Context, c *client.Client, r string) (client.RoleStatus, error) {
	return c.Launch(ctx, r)
}

func roleStop(ctx context.Context, c *client.Client, r string) (client.RoleStatus, error) {
	return c.Stop(ctx, r)
}

func roleRestart(ctx context.Context, c *client.Client, r string) (client.RoleStatus, error) {
	return c.Restart(ctx, r)
}

func createRoleCommand(g *GlobalFlags, use, short string, op roleOp) *cobra.Command {
	return &cobra.Command{
		Use:       use + " <db|auth|world|client>",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"db", "auth", "world", "client"},
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRoleArg(args[0])
			if err != nil {
				return err
			}
			st, err := op(cmd.Context(), g.apiClient(), r)
			if err != nil {
				return fmt.Errorf("%s %s: %w", use, r, err)
			}
			out := cmd.OutOrStdout()
			if g.JSON {
				return printJSON(out, st)
			}
			printStatusTable(out, []client.RoleStatus{st})
			return nil
		},
	}
}

type bulkOp func(ctx context.Context, c *client.Client) (client.Report, error)

func bulkStartAll(ctx context.Context, c *client.Client) (client.Report, error) {
	return c.StartAll(ctx)
}

func bulkStopAll(ctx context.Context, c *client.Client) (client.Report, error) {
	return c.StopAll(ctx)
}

func bulkRestartAll(ctx context.Context, c *client.Client) (client.Report, error) {
	return c.RestartAll(ctx)
}

func createBulkCommand(g *GlobalFlags, use, short string, op bulkOp) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := op(cmd.Context(), g.apiClient())
			if err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			out := cmd.OutOrStdout()
			if g.JSON {
				if err := printJSON(out, rep); err != nil {
					return err
				}
			} else {
				printReport(out, rep)
			}
			if failed := rep.Failed(); len(failed) > 0 {
				return fmt.Errorf("%s: %d stage(s) failed", use, len(failed))
			}
			return nil
		},
	}
}

func createStatusCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [role]",
		Short: "Show the status of every role, or of one role",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.apiClient()
			var sts []client.RoleStatus
			if len(args) == 1 {
				r, err := parseRoleArg(args[0])
				if err != nil {
					return err
				}
				st, err := c.StatusOf(cmd.Context(), r)
				if err != nil {
					return err
				}
				sts = append(sts, st)
			} else {
				var err error
				if sts, err = c.Status(cmd.Context()); err != nil {
					return err
				}
			}
			if g.JSON {
				return printJSON(cmd.OutOrStdout(), sts)
			}
			printStatusTable(cmd.OutOrStdout(), sts)
			return nil
		},
	}
}

func createEventsCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "events [role]",
		Short: "Follow status changes and process output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r string
			if len(args) == 1 {
				var err error
				if r, err = parseRoleArg(args[0]); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			st := newStyles(out)
			err := g.apiClient().Events(cmd.Context(), r, func(e client.Event) error {
				if g.JSON {
					if e.Name != "status" && e.Name != "log" {
						return nil
					}
					_, err := fmt.Fprintln(out, string(e.Raw))
					return err
				}
				printEvent(out, st, e)
				return nil
			})
			if err != nil && cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}

func createHistoryCommand(g *GlobalFlags) *cobra.Command {
	hf := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history [role]",
		Short: "Show persisted status transitions, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r string
			if len(args) == 1 {
				var err error
				if r, err = parseRoleArg(args[0]); err != nil {
					return err
				}
			}
			evs, err := g.apiClient().History(cmd.Context(), r, hf.Limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.JSON {
				return printJSON(out, evs)
			}
			st := newStyles(out)
			for _, e := range evs {
				line := fmt.Sprintf("%s  %-6s %s", e.OccurredAt.Local().Format("2006-01-02 15:04:05"), e.Role, st.status(e.Status))
				if e.Message != "" {
					line += "  " + e.Message
				}
				_, _ = fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&hf.Limit, "limit", 50, "maximum number of entries")
	return cmd
}

func createSchedulesCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List the cron schedules of the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scheds, err := g.apiClient().Schedules(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.JSON {
				return printJSON(out, scheds)
			}
			if len(scheds) == 0 {
				_, _ = fmt.Fprintln(out, "no schedules configured")
				return nil
			}
			st := newStyles(out)
			_, _ = fmt.Fprintln(out, st.header.Render(fmt.Sprintf("%-16s %-14s %-18s %-5s %s", "NAME", "SCHEDULE", "ACTION", "RUNS", "NEXT")))
			for _, s := range scheds {
				action := s.Action
				if s.Role != "" {
					action += " " + s.Role
				}
				next := "-"
				if s.Next != nil {
					next = s.Next.Local().Format("2006-01-02 15:04")
				}
				_, _ = fmt.Fprintf(out, "%-16s %-14s %-18s %-5d %s\n", s.Name, s.Schedule, action, s.Runs, next)
			}
			return nil
		},
	}
}

func printEvent(out io.Writer, st styles, e client.Event) {
	switch {
	case e.Status != nil:
		line := fmt.Sprintf("%s [%s] %s", e.Status.At.Local().Format("15:04:05"), e.Status.Role, st.status(e.Status.Status))
		if e.Status.Message != "" {
			line += ": " + e.Status.Message
		}
		_, _ = fmt.Fprintln(out, line)
	case e.Log != nil:
		text := strings.TrimRight(e.Log.Text, "\n")
		if e.Log.Stream == "error" {
			text = st.failed.Render(text)
		} else if e.Log.Stream == "info" {
			text = st.muted.Render(text)
		}
		_, _ = fmt.Fprintf(out, "%s [%s] %s\n", e.Log.At.Local().Format("15:04:05"), e.Log.Role, text)
	}
}
