package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/stone-age-io/servicehost/internal/config"
	"github.com/stone-age-io/servicehost/internal/metrics"
	"github.com/stone-age-io/servicehost/internal/svcctl"
)

func init() {
	for _, action := range service.ControlAction {
		action := action
		rootCmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the OS service", capitalize(action)),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, _, err := manager()
				if err != nil {
					return err
				}
				if err := m.Control(action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s done\n", m.Platform(), action)
				return nil
			},
		})
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the OS service status and the last run's stop metrics",
		Args:  cobra.NoArgs,
		RunE:  showStatus,
	})
}

func manager() (*svcctl.Manager, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	m, err := svcctl.New(cfg.Service, cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	m, cfg, err := manager()
	if err != nil {
		return err
	}

	status, err := m.Status()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "service:  %s (%s)\n", cfg.Service.Name, m.Platform())
	fmt.Fprintf(out, "status:   %s\n", status)

	if !cfg.Metrics.Enabled {
		return nil
	}

	path := filepath.Join(cfg.Metrics.TextfileDirectory, cfg.Service.Name+".prom")
	families, err := metrics.ReadTextfile(path)
	if err != nil {
		fmt.Fprintf(out, "metrics:  unavailable (%v)\n", err)
		return nil
	}

	if mf, ok := families["servicehost_stops_total"]; ok {
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			fmt.Fprintf(out, "stops:    kind=%s trigger=%s count=%s\n",
				labels["kind"], labels["trigger"], strconv.FormatFloat(metric.GetCounter().GetValue(), 'f', -1, 64))
		}
	}
	if mf, ok := families["servicehost_last_stop_duration_seconds"]; ok && len(mf.GetMetric()) > 0 {
		fmt.Fprintf(out, "last stop duration: %.3fs\n", mf.GetMetric()[0].GetGauge().GetValue())
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
