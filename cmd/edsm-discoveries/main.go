// Command edsm-discoveries exports the star systems a commander discovered
// first, as recorded by EDSM, to CSV.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/edsm-discoveries/internal/config"
	"github.com/spf13/cobra"
)

// rootOptions holds the flags shared by all commands.
type rootOptions struct {
	configFile      string
	credentialsFile string
	logLevel        string

	stdin  *os.File
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdin *os.File, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdin: stdin, stdout: stdout, stderr: stderr}
	run := &runOptions{root: opts}

	cmd := &cobra.Command{
		Use:   "edsm-discoveries",
		Short: "Export your EDSM first discoveries to CSV",
		Long: `Fetches the systems you discovered first from the EDSM flight log, week by
week, caching every completed interval so an interrupted run resumes where it
stopped. Optionally adds EDSM traffic counts and prints how many of your
discoveries were never visited again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run.execute(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", config.DefaultSettingsFile, "settings file (optional)")
	cmd.PersistentFlags().StringVar(&opts.credentialsFile, "credentials", config.DefaultCredentialsFile, "credentials file with COMMANDER and API_KEY")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the settings file")

	run.bindFlags(cmd)

	cmd.AddCommand(
		newStatusCmd(opts),
		newInvalidateCmd(opts),
		newVersionCmd(opts),
	)

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", userMessage(err))
		os.Exit(1)
	}
}
