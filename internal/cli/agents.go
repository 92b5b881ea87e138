package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/soyeahso/roundtable/internal/agent"
	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/policy"
	"github.com/soyeahso/roundtable/internal/tools"
	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Show the agent panel and its turn order",
	}

	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsInfoCmd())
	return cmd
}

// panelView loads the configured profiles and transition graph.
func panelView() ([]agent.Profile, *policy.Graph, error) {
	profiles, err := agent.Profiles(cfg.Agents)
	if err != nil {
		return nil, nil, err
	}
	graph, err := policy.FromConfig(cfg.Policy.Transitions)
	if err != nil {
		return nil, nil, err
	}
	return profiles, graph, nil
}

func newAgentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the agents with their roles and successors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, graph, err := panelView()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range profiles {
				fmt.Fprintf(out, "  %-20s %-16s next=%s\n", p.Name, p.Role, roleList(graph.AllowedNext(p.Role)))
			}
			return nil
		},
	}
}

func newAgentsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <role-or-name>",
		Short: "Show details about one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, graph, err := panelView()
			if err != nil {
				return err
			}
			for _, p := range profiles {
				if string(p.Role) == args[0] || strings.EqualFold(p.Name, args[0]) {
					printProfile(cmd.OutOrStdout(), p, graph)
					return nil
				}
			}
			return fmt.Errorf("agent not found: %s", args[0])
		},
	}
}

func printProfile(w io.Writer, p agent.Profile, graph *policy.Graph) {
	caps := p.Role.Capabilities()
	fmt.Fprintf(w, "Agent: %s (%s)\n", p.Name, p.Role)
	if p.Description != "" {
		fmt.Fprintf(w, "  About:     %s\n", p.Description)
	}
	fmt.Fprintf(w, "  Next:      %s\n", roleList(graph.AllowedNext(p.Role)))
	if graph.IsTerminal(p.Role) {
		fmt.Fprintln(w, "  Terminal:  yes")
	}
	switch {
	case caps.RequestsTools:
		fmt.Fprintf(w, "  Tools:     %s\n", strings.Join(tools.RoleTools[p.Role], ", "))
	case caps.ExecutesTools:
		fmt.Fprintln(w, "  Tools:     executes pending calls")
	}
	fmt.Fprintf(w, "  Directive: %s\n", p.Directive)
}

func roleList(roles []domain.Role) string {
	if len(roles) == 0 {
		return "-"
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}
