package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/soyeahso/roundtable/internal/gateway"
	"github.com/soyeahso/roundtable/internal/store"
	"github.com/soyeahso/roundtable/internal/window"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and clear sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionSearchCmd())
	cmd.AddCommand(newSessionClearCmd())
	return cmd
}

// openLogStore opens the session database read-write. It fails when the
// database was never created.
func openLogStore() (*store.DB, *store.LogStore, error) {
	if _, err := os.Stat(paths.Database); errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("no session database at %s (session.store must be sqlite)", paths.Database)
	}
	db, err := store.Open(paths.Database, log)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewLogStore(db), nil
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, logs, err := openLogStore()
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := logs.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No stored sessions.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "  %-24s messages=%-4d updated=%s\n",
					s.ID, s.Messages, s.UpdatedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func newSessionShowCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the recent view of a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, logs, err := openLogStore()
			if err != nil {
				return err
			}
			defer db.Close()

			msgs, err := logs.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				return fmt.Errorf("session %s not found", args[0])
			}

			out := cmd.OutOrStdout()
			w := window.Restore(msgs, log, window.WithSize(cfg.Orchestrator.WindowSize))
			for _, dm := range w.Recent(limit) {
				fmt.Fprintf(out, "%s %s\n", speakerStyle.Render(dm.Name),
					roundStyle.Render(dm.Timestamp.Local().Format(time.DateTime)))
				fmt.Fprintln(out, contentStyle.Render(dm.Content))
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of messages to show (default orchestrator.windowSize)")
	return cmd
}

func newSessionSearchCmd() *cobra.Command {
	var (
		sessionID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over stored messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, logs, err := openLogStore()
			if err != nil {
				return err
			}
			defer db.Close()

			hits, err := logs.Search(cmd.Context(), sessionID, args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(out, "%s #%d %s\n", h.SessionID, h.Seq, speakerStyle.Render(h.Speaker))
				fmt.Fprintln(out, contentStyle.Render(h.Text))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "restrict to one session")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of hits")
	return cmd
}

func newSessionClearCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Clear a session on the running gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if local {
				db, logs, err := openLogStore()
				if err != nil {
					return err
				}
				defer db.Close()
				removed, err := logs.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(out, "No stored log for session %s\n", args[0])
					return nil
				}
				fmt.Fprintf(out, "Deleted stored log for session %s\n", args[0])
				return nil
			}

			var resp gateway.ClearResponse
			err := callGateway(cmd.Context(), cfg.Gateway, "POST", "/clear",
				gateway.ClearRequest{SessionID: args[0]}, &resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, resp.Message)
			if !resp.Success {
				return fmt.Errorf("session %s not cleared", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "delete the stored log directly instead of asking the gateway")
	return cmd
}
