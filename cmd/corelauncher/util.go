package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/loykin/corelauncher"
	"github.com/loykin/corelauncher/pkg/client"
)

func (g *GlobalFlags) configPath() string {
	if g.ConfigPath != "" {
		return g.ConfigPath
	}
	return corelauncher.DefaultConfigFile
}

// apiClient returns a daemon client for --api-url, or for the address in the
// config file when the flag is empty.
func (g *GlobalFlags) apiClient() *client.Client {
	base := g.APIUrl
	if base == "" {
		base = resolveAPIURL(g.configPath())
	}
	return client.New(client.Config{BaseURL: base, Timeout: g.APITimeout, Logger: slog.Default()})
}

func resolveAPIURL(configPath string) string {
	cfg, err := corelauncher.LoadConfig(configPath)
	if err != nil {
		return client.DefaultConfig().BaseURL
	}
	return apiURLFor(cfg.Server.Listen, cfg.Server.BasePath)
}

func apiURLFor(listen, basePath string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return client.DefaultConfig().BaseURL
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	base := strings.TrimRight(basePath, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return "http://" + net.JoinHostPort(host, port) + base
}

func parseRoleArg(s string) (string, error) {
	r, err := corelauncher.ParseRole(s)
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type styles struct {
	running lipgloss.Style
	pending lipgloss.Style
	failed  lipgloss.Style
	muted   lipgloss.Style
	header  lipgloss.Style
}

// newStyles renders for out, so colors are dropped when it is not a terminal.
func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		running: r.NewStyle().Foreground(lipgloss.Color("10")),
		pending: r.NewStyle().Foreground(lipgloss.Color("11")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("9")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		header:  r.NewStyle().Bold(true),
	}
}

func (s styles) forStatus(st string) lipgloss.Style {
	switch st {
	case "Running":
		return s.running
	case "Starting":
		return s.pending
	case "Error":
		return s.failed
	}
	return s.muted
}

func (s styles) status(st string) string { return s.forStatus(st).Render(st) }

func printStatusTable(out io.Writer, sts []client.RoleStatus) {
	st := newStyles(out)
	_, _ = fmt.Fprintln(out, st.header.Render(fmt.Sprintf("%-7s %-9s %-8s %s", "ROLE", "STATUS", "PID", "PATH")))
	for _, s := range sts {
		pid := "-"
		if s.PID > 0 {
			pid = fmt.Sprint(s.PID)
		}
		path := s.Path
		if !s.Configured {
			path = "(not set)"
		}
		// pad before coloring so escape codes do not break alignment
		status := st.forStatus(s.Status).Render(fmt.Sprintf("%-9s", s.Status))
		_, _ = fmt.Fprintf(out, "%-7s %s %-8s %s\n", s.Role, status, pid, path)
	}
}

func printReport(out io.Writer, rep client.Report) {
	st := newStyles(out)
	_, _ = fmt.Fprintf(out, "%s %s (%s)\n", rep.Op, rep.ID, rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	for _, o := range rep.Outcomes {
		var result string
		switch o.Result {
		case "failed":
			result = st.failed.Render(o.Result)
		case "skipped":
			result = st.muted.Render(o.Result)
		default:
			result = st.running.Render(o.Result)
		}
		line := fmt.Sprintf("  %-6s %-6s %s", o.Action, o.Role, result)
		if o.Error != "" {
			line += ": " + o.Error
		}
		_, _ = fmt.Fprintln(out, line)
	}
	if rep.Aborted {
		_, _ = fmt.Fprintln(out, st.failed.Render("  aborted"))
	}
}
