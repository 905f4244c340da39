package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/edsm-discoveries/internal/config"
	"github.com/Sternrassler/edsm-discoveries/pkg/cache"
	"github.com/Sternrassler/edsm-discoveries/pkg/client"
	"github.com/Sternrassler/edsm-discoveries/pkg/discovery"
	"github.com/Sternrassler/edsm-discoveries/pkg/enrich"
	"github.com/Sternrassler/edsm-discoveries/pkg/export"
	"github.com/Sternrassler/edsm-discoveries/pkg/interval"
	"github.com/Sternrassler/edsm-discoveries/pkg/logging"
	"github.com/Sternrassler/edsm-discoveries/pkg/metrics"
	"github.com/Sternrassler/edsm-discoveries/pkg/scheduler"
	"github.com/spf13/cobra"
)

// ErrTrafficIncomplete reports an export written without the traffic counts
// of some systems.
var ErrTrafficIncomplete = errors.New("traffic enrichment incomplete")

// runOptions holds the flags of the fetch-and-export pipeline.
type runOptions struct {
	root *rootOptions

	from        string
	to          string
	traffic     bool
	sort        string
	output      string
	metricsFile string

	now func() time.Time
}

func (r *runOptions) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.from, "from", "", "first day to fetch, YYYY-MM-DD (default: schedule.start_date)")
	cmd.Flags().StringVar(&r.to, "to", "", "end of the range, exclusive (default: now)")
	cmd.Flags().BoolVar(&r.traffic, "traffic", false, "add EDSM traffic counts (default: traffic.enabled)")
	cmd.Flags().StringVar(&r.sort, "sort", "", "row order: date or traffic (default: export.sort)")
	cmd.Flags().StringVar(&r.output, "output", "", "CSV file to write (default: files.output)")
	cmd.Flags().StringVar(&r.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the run")
}

// window returns the range to fetch.
func (r *runOptions) window(settings *config.Settings) (time.Time, time.Time, error) {
	var (
		from time.Time
		err  error
	)
	if r.from != "" {
		from, err = config.ParseDate(r.from)
	} else {
		from, err = settings.Start()
	}
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}
	if settings.Schedule.AlignWeeks {
		from = interval.AlignWeek(from)
	}

	now := time.Now
	if r.now != nil {
		now = r.now
	}
	to := now().UTC().Truncate(time.Second)
	if r.to != "" {
		to, err = config.ParseDate(r.to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("empty range: %s is not before %s",
			from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return from, to, nil
}

// applyFlags lets run flags override the settings file.
func (r *runOptions) applyFlags(settings *config.Settings) {
	if r.traffic {
		settings.Traffic.Enabled = true
	}
	if r.sort != "" {
		settings.Export.Sort = r.sort
	}
	if r.output != "" {
		settings.Files.Output = r.output
	}
}

func (r *runOptions) execute(ctx context.Context) error {
	settings, err := r.root.loadSettings()
	if err != nil {
		return err
	}
	r.applyFlags(settings)
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	ctx = r.root.setupLogging(ctx, settings)
	logger := loggerFrom(ctx)

	if r.metricsFile != "" {
		defer func() {
			if mErr := metrics.WriteTextfile(r.metricsFile, nil); mErr != nil {
				logger.Warn().Err(mErr).Msg("Failed to write metrics textfile")
			}
		}()
	}

	order, err := export.ParseSortOrder(settings.Export.Sort)
	if err != nil {
		return err
	}
	from, to, err := r.window(settings)
	if err != nil {
		return err
	}

	creds, err := r.root.credentials()
	if err != nil {
		return err
	}

	tracker, closeTracker, err := newTracker(ctx, settings)
	if err != nil {
		return err
	}
	defer closeTracker()

	edsm, err := newClient(settings, creds, tracker)
	if err != nil {
		return fmt.Errorf("creating EDSM client: %w", err)
	}

	store, err := cache.Open(settings.Files.Cache, creds.Commander)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}

	sched, err := scheduler.New(edsm, store, scheduler.Config{
		Width:             settings.Schedule.IntervalWidth,
		SafetyWindow:      settings.Schedule.SafetyWindow,
		HeavyRunThreshold: settings.Schedule.HeavyRunThreshold,
		HeavyRunDelay:     settings.Schedule.HeavyRunDelay,
		Retry:             settings.Retry,
		Pacer:             tracker,
	})
	if err != nil {
		return err
	}

	result, err := sched.Run(logging.WithComponent(ctx, "scheduler"), from, to)
	if err != nil {
		return err
	}
	records := result.Records

	var trafficErr error
	if settings.Traffic.Enabled {
		enriched, err := r.enrich(ctx, settings, edsm, records)
		switch {
		case err == nil:
			records = enriched
		case enriched != nil:
			records = enriched
			trafficErr = fmt.Errorf("%w: %w", ErrTrafficIncomplete, err)
			logger.Warn().Err(err).Msg("Traffic enrichment stopped early, exporting without the missing counts")
		default:
			return err
		}
	}

	sorted := export.Sort(records, order)
	if err := export.WriteFile(settings.Files.Output, sorted); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	logger.Info().
		Str("file", settings.Files.Output).
		Int("records", len(sorted)).
		Msg("Export written")

	printSummary(r.root.stdout, settings.Files.Output, result, export.Summarize(records, export.DefaultTopN), settings.Traffic.Enabled)
	return trafficErr
}

func (r *runOptions) enrich(ctx context.Context, settings *config.Settings, edsm *client.Client, records []discovery.Record) ([]discovery.Record, error) {
	trafficStore, err := cache.OpenTraffic(settings.Files.TrafficCache)
	if err != nil {
		return nil, fmt.Errorf("opening traffic cache: %w", err)
	}

	enricher, err := enrich.New(edsm, trafficStore, enrich.Config{
		MaxAge:     settings.Traffic.MaxAge,
		FlushEvery: settings.Traffic.FlushEvery,
		Retry:      settings.Retry,
	})
	if err != nil {
		return nil, err
	}

	res, err := enricher.Enrich(logging.WithComponent(ctx, "enrich"), records)
	if err != nil {
		if res != nil {
			return res.Records, err
		}
		return nil, err
	}
	return res.Records, nil
}

func printSummary(w io.Writer, output string, result *scheduler.Result, stats export.Stats, withTraffic bool) {
	fmt.Fprintf(w, "Intervals: %d (%d fetched, %d cached)\n", result.Intervals, result.Fetched, result.Skipped)
	fmt.Fprintf(w, "Export: %s (%d systems)\n", output, stats.Total)

	if !withTraffic {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Statistics")
	fmt.Fprintf(w, "  Total systems   : %d\n", stats.Total)
	fmt.Fprintf(w, "  Never revisited : %d\n", stats.NeverRevisited)
	fmt.Fprintf(w, "  Revisited       : %d\n", stats.Revisited)
	fmt.Fprintf(w, "  Intact          : %.2f%%\n", stats.IntactPercent)

	if len(stats.Top) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Top %d most visited systems\n", len(stats.Top))
	for _, rec := range stats.Top {
		fmt.Fprintf(w, "  %s: %d visits\n", rec.SystemName, rec.TotalTraffic())
	}
}

// userMessage turns a run error into a message for the terminal.
func userMessage(err error) string {
	var abort *scheduler.AbortError
	hasAbort := errors.As(err, &abort)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, client.ErrContextCancelled):
		return "interrupted; completed intervals are cached and the next run resumes from there"
	case client.KindOf(err) == client.KindAuthInvalid:
		return "EDSM rejected the commander name or API key; check the credentials file or the COMMANDER and API_KEY variables"
	case errors.Is(err, config.ErrMissingCredentials):
		return err.Error() + "; set COMMANDER and API_KEY or run interactively"
	case errors.Is(err, cache.ErrCommanderMismatch):
		return err.Error() + "; use another cache file per commander"
	case errors.Is(err, ErrTrafficIncomplete):
		return fmt.Sprintf("%v; the export was written, systems without traffic counts are filled in on the next run", err)
	case hasAbort && client.IsFatal(abort.Kind):
		return fmt.Sprintf("%v; completed intervals are cached, fix the cause and run again to resume", err)
	case hasAbort:
		return fmt.Sprintf("%v; completed intervals are cached, run again to resume", err)
	default:
		return err.Error()
	}
}
