package main

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/yuku/connpool/internal"
	"github.com/yuku/connpool/pgxsession"
)

func newEvictCommand() *cobra.Command {
	var channel, url string
	cmd := &cobra.Command{
		Use:   "evict [pool]",
		Short: "Soft-evict the sessions of a listening pool",
		Long: `Send a notification asking the named pool, or every pool when the
name is omitted, to replace its sessions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := pgxsession.EvictAll
			if len(args) == 1 {
				name = args[0]
			}
			if url == "" {
				url = internal.ConnString()
			}

			ctx := cmd.Context()
			conn, err := pgx.Connect(ctx, url)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer func() { _ = conn.Close(ctx) }()

			if err := pgxsession.Notify(ctx, conn, channel, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "eviction requested for %s on %s\n", name, channel)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", pgxsession.DefaultEvictionChannel, "Notification channel")
	cmd.Flags().StringVar(&url, "database-url", "", "Connection string (defaults to DATABASE_URL or PG* variables)")
	return cmd
}
