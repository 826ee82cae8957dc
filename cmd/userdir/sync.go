package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sashemishi/userdir/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the remote record set and upsert it into the local store",
	Long: `Perform a one-shot refresh against the configured remote source.

On success the local store holds the fetched record set; on failure the
store keeps its previous content untouched. The command exits non-zero
when the refresh did not complete, so scripts can tell the difference,
but local queries remain fully usable either way.

Example usage:
  userdir sync --url https://example.com/users.json
  userdir sync --snapshot ./users.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		source, err := newSource()
		if err != nil {
			return err
		}

		sync := syncer.New(st, source, log.New(os.Stderr, "[syncer] ", log.LstdFlags))
		sync.Refresh(ctx)

		if err := sync.LastError(); err != nil {
			return fmt.Errorf("refresh did not complete: %w", err)
		}

		count, err := st.Count(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Synced: local store now holds %d records\n", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
