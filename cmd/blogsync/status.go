package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/desurestar/RSOD-project/pkg/health"
)

// StatusCmd reports the health checks once.
type StatusCmd struct {
	Format string `help:"Output format: table or json" enum:"table,json" default:"table"`
}

// Run executes the status command
func (s *StatusCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	report := a.Health(ctx)
	if s.Format == "json" {
		if err := cli.printJSON(report); err != nil {
			return err
		}
	} else {
		names := make([]string, 0, len(report.Checks))
		for name := range report.Checks {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHECK\tSTATUS\tCRITICAL\tERROR")
		for _, name := range names {
			res := report.Checks[name]
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", name, res.Status, res.Critical, res.Error)
		}
		w.Flush()
		fmt.Fprintf(cli.out, "\nOverall: %s\n", report.Status)
	}
	if report.Status == health.StatusDown {
		return errors.New("unhealthy")
	}
	return nil
}

// ServeCmd runs the operations endpoint.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides METRICS_ADDR)" default:""`
}

// Run executes the serve command
func (s *ServeCmd) Run(ctx context.Context, cli *CLI) error {
	if s.Addr != "" {
		cli.cfg.MetricsAddr = s.Addr
	}
	if cli.cfg.MetricsAddr == "" {
		cli.cfg.MetricsAddr = ":9090"
	}
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	// Run shuts the app down itself.
	cli.app = nil
	return a.Run(ctx)
}
