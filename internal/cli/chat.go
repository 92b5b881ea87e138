package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/soyeahso/roundtable/internal/config"
	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/orchestrator"
	"github.com/soyeahso/roundtable/internal/window"
	"github.com/spf13/cobra"
)

var (
	speakerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	toolStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	roundStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	contentStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

func newChatCmd() *cobra.Command {
	var (
		sessionID string
		mode      string
		demo      bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Run exchanges in-process and print each round",
		Long: "Runs an exchange without a gateway. With no prompt, reads one prompt per line " +
			"from stdin and keeps the session across lines.",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, ok := domain.ParseMode(mode)
			if !ok {
				return fmt.Errorf("unknown mode %q (want %s or %s)", mode, domain.ModeExchange, domain.ModeRoundChat)
			}
			if demo {
				cfg.Provider.Name = config.ProviderScripted
			}
			if err := validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, paths, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			run := func(prompt string) error {
				var opts []orchestrator.SubmitOption
				if !asJSON {
					opts = append(opts, orchestrator.WithObserver(func(_ string, round int, msg domain.Message) {
						printRound(out, round, msg)
					}))
				}
				res := rt.sessions.Submit(ctx, sessionID, prompt, m, opts...)
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if err := enc.Encode(res); err != nil {
						return err
					}
				} else {
					printSummary(out, res)
				}
				if res.Error {
					return errors.New(res.ErrorMessage)
				}
				return nil
			}

			if len(args) > 0 {
				return run(strings.Join(args, " "))
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				prompt := strings.TrimSpace(scanner.Text())
				if prompt == "" {
					continue
				}
				if err := run(prompt); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(err.Error()))
				}
				if ctx.Err() != nil {
					break
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "cli", "session id")
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeExchange), "exchange or roundchat")
	cmd.Flags().BoolVar(&demo, "demo", false, "answer with the scripted SQL demo instead of a hosted model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the orchestration result as JSON")

	return cmd
}

func printRound(w io.Writer, round int, msg domain.Message) {
	dm := window.Display(msg, round)
	style := speakerStyle
	if dm.Kind != domain.KindPlainText {
		style = toolStyle
	}
	fmt.Fprintf(w, "%s %s\n", style.Render(dm.Name), roundStyle.Render(fmt.Sprintf("round %d", round)))
	fmt.Fprintln(w, contentStyle.Render(dm.Content))
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, res domain.OrchestrationResult) {
	if res.Error {
		fmt.Fprintln(w, errorStyle.Render("exchange failed: "+res.ErrorMessage))
		return
	}
	status := "budget exhausted"
	if res.Terminated {
		status = "terminated"
	}
	fmt.Fprintln(w, roundStyle.Render(fmt.Sprintf("%s after %d round(s), participants: %s",
		status, res.Rounds, strings.Join(res.Participants, ", "))))
}
