package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/gateway"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
		demo bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Start the HTTP/WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if demo {
				cfg.Provider.Name = config.ProviderScripted
			}

			if err := validate(); err != nil {
				return err
			}

			// Raw config backs config.get / config.set
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				raw = make(map[string]any)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, paths, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := []gateway.ServerOption{
				gateway.WithConfigRaw(raw),
				gateway.WithConfigFile(paths.Config),
				gateway.WithHooks(rt.hooks),
			}
			if rt.logs != nil {
				opts = append(opts, gateway.WithLogStore(rt.logs))
			}

			srv := gateway.New(cfg, rt.sessions, log, opts...)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&demo, "demo", false, "answer with the scripted SQL demo instead of a hosted model")

	return cmd
}

// validate logs every config issue and fails if there are any.
func validate() error {
	issues := config.Validate(&cfg)
	if len(issues) == 0 {
		return nil
	}
	for _, issue := range issues {
		log.Error().Str("path", issue.Path).Msg(issue.Message)
	}
	return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
}
