package main

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/edsm-discoveries/internal/config"
	"github.com/Sternrassler/edsm-discoveries/pkg/cache"
	"github.com/spf13/cobra"
)

func newInvalidateCmd(opts *rootOptions) *cobra.Command {
	var (
		after string
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop cached intervals so the next run fetches them again",
		Long: `Drop cached intervals so the next run fetches them again.

Use --after to drop every interval ending after a date, or --all to clear the
cache of the current commander.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all == (after != "") {
				return errors.New("exactly one of --after or --all is required")
			}

			settings, err := opts.loadSettings()
			if err != nil {
				return err
			}
			creds, err := config.LoadCredentials(opts.credentialsFile)
			if err != nil {
				return err
			}
			if creds.Commander == "" {
				return fmt.Errorf("%w: the cache is kept per commander", config.ErrMissingCredentials)
			}

			store, err := cache.Open(settings.Files.Cache, creds.Commander)
			if err != nil {
				return fmt.Errorf("opening cache: %w", err)
			}

			var dropped int
			if all {
				dropped = store.Reset()
			} else {
				t, err := config.ParseDate(after)
				if err != nil {
					return fmt.Errorf("invalid --after: %w", err)
				}
				dropped = store.InvalidateAfter(t)
			}

			if dropped == 0 {
				fmt.Fprintln(opts.stdout, "Nothing to invalidate.")
				return nil
			}
			if err := store.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Invalidated %d interval(s).\n", dropped)
			return nil
		},
	}

	cmd.Flags().StringVar(&after, "after", "", "drop intervals ending after this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&all, "all", false, "drop all cached intervals")

	return cmd
}
