package cli

import (
	"fmt"
	"strings"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/gateway"
	"github.com/soyeahso/roundtable/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway health and a configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "roundtable %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(out)

			gw := cfg.Gateway
			fmt.Fprintf(out, "Gateway:  %s bind=%s auth=%s\n",
				gatewayURL(gw), gw.Bind, gateway.ResolveAuth(gw.Auth).Mode)

			var health gateway.HealthResponse
			if err := callGateway(cmd.Context(), gw, "GET", "/health", nil, &health); err != nil {
				fmt.Fprintf(out, "Health:   down (%v)\n", err)
			} else {
				fmt.Fprintf(out, "Health:   %s version=%s sessions=%d uptime=%ds\n",
					health.Status, health.Version, health.ActiveSessions, health.Uptime)
			}

			p := cfg.Provider
			chain := append([]string{p.Name}, p.Fallbacks...)
			fmt.Fprintf(out, "Provider: %s model=%s\n", strings.Join(chain, " -> "), p.ModelFor(p.Name))

			o := cfg.Orchestrator
			fmt.Fprintf(out, "Rounds:   exchange=%d roundchat=%d window=%d busy=%s\n",
				o.MaxRounds, o.RoundChatMaxRounds, o.WindowSize, o.BusyPolicy)
			fmt.Fprintf(out, "Session:  store=%s idle=%dm max=%d\n",
				cfg.Session.Store, cfg.Session.IdleMinutes, cfg.Session.MaxSessions)

			dq := "(not configured)"
			if cfg.Tools.DQ.Enabled() {
				dq = cfg.Tools.DQ.URL
			}
			fmt.Fprintf(out, "DQ:       %s\n", dq)

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			return nil
		},
	}

	return cmd
}
