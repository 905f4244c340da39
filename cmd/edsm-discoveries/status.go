package main

import (
	"fmt"
	"time"

	"github.com/Sternrassler/edsm-discoveries/internal/config"
	"github.com/Sternrassler/edsm-discoveries/pkg/cache"
	"github.com/Sternrassler/edsm-discoveries/pkg/interval"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the progress recorded in the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			start, err := settings.Start()
			if err != nil {
				return err
			}
			if settings.Schedule.AlignWeeks {
				start = interval.AlignWeek(start)
			}
			planned, err := interval.Plan(start, time.Now().UTC(), settings.Schedule.IntervalWidth)
			if err != nil {
				return err
			}
			completed := 0
			for _, iv := range planned {
				if entry, ok := store.Get(iv); ok && entry.IsCompleted() {
					completed++
				}
			}

			w := opts.stdout
			fmt.Fprintf(w, "Cache: %s\n", store.Path())
			fmt.Fprintf(w, "Commander: %s\n", store.Commander())
			fmt.Fprintf(w, "Cached intervals: %d\n", store.Len())
			fmt.Fprintf(w, "Progress since %s: %d/%d intervals\n", start.Format(time.DateOnly), completed, len(planned))
			fmt.Fprintf(w, "Systems: %d\n", len(store.AllRecords()))

			if entries := store.Entries(); len(entries) > 0 {
				first, last := entries[0], entries[len(entries)-1]
				fmt.Fprintf(w, "Oldest interval: %s\n", first.Interval())
				fmt.Fprintf(w, "Newest interval: %s (fetched %s)\n", last.Interval(), last.FetchedAt.Format(time.RFC3339))
			}

			if traffic, err := cache.OpenTraffic(settings.Files.TrafficCache); err == nil && traffic.Len() > 0 {
				fmt.Fprintf(w, "Traffic cache: %s (%d systems)\n", settings.Files.TrafficCache, traffic.Len())
			}
			return nil
		},
	}
}
