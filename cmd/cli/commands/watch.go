package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inferloop/dart/internal/runner"
	"github.com/inferloop/dart/internal/storage"
	"github.com/inferloop/dart/internal/watch"
)

type WatchOptions struct {
	Inbox   string
	Outbox  string
	Profile string
	Format  string
	NoLog   bool
	Persist bool
	SkipOld bool
}

func NewWatchCmd(g *GlobalOptions) *cobra.Command {
	opts := &WatchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Redact every table dropped into an inbox directory",
		Long: `Watch an inbox directory and redact each .csv, .json or .xlsx file written
to it with a configured profile. Results and logs are written to the outbox; a
file that cannot be redacted leaves a <name>.error.txt report instead.`,
		Example: `  # Redact files dropped into ./in with the schools profile
  dart watch --inbox ./in --outbox ./out --profile schools

  # Write workbooks, skipping the files already present
  dart watch --inbox ./in --outbox ./out --format xlsx --skip-existing`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Inbox, "inbox", "", "Directory to watch (default watch.inbox)")
	cmd.Flags().StringVar(&opts.Outbox, "outbox", "", "Directory for results (default watch.outbox)")
	cmd.Flags().StringVarP(&opts.Profile, "profile", "p", "", "Suppression profile (default watch.profile)")
	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (csv, json, xlsx); default keeps the input format")
	cmd.Flags().BoolVar(&opts.NoLog, "no-log", false, "Do not write redaction logs")
	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "Record runs in the configured storage backends")
	cmd.Flags().BoolVar(&opts.SkipOld, "skip-existing", false, "Ignore files already in the inbox")

	return cmd
}

func runWatch(cmd *cobra.Command, g *GlobalOptions, opts *WatchOptions) error {
	cfg, err := g.Load()
	if err != nil {
		return err
	}
	logger := g.Logger(cfg)

	wc := cfg.Watch
	if opts.Inbox != "" {
		wc.Inbox = opts.Inbox
	}
	if opts.Outbox != "" {
		wc.Outbox = opts.Outbox
	}
	if opts.Profile != "" {
		wc.Profile = opts.Profile
	}
	if opts.Format != "" {
		wc.Format = opts.Format
	}
	if opts.NoLog {
		wc.WriteLog = false
	}
	if opts.SkipOld {
		wc.ProcessExisting = false
	}

	sc, err := cfg.Profile(wc.Profile)
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("profile %q: %w", wc.Profile, err)
	}

	ctx, cancel := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backends := &storage.Backends{}
	if opts.Persist {
		backends, err = storage.NewFactory(logger).Open(ctx, &cfg.Storage)
		if err != nil {
			return err
		}
		defer backends.Close()
	}

	w, err := watch.NewWatcher(&wc, sc, runner.NewRunner(&cfg.Runner, backends, nil, logger), logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s, writing to %s (Ctrl+C to stop)\n", wc.Inbox, wc.Outbox)
	go func() {
		for result := range w.Results() {
			if result.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", result.Path, result.Err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %v\n", result.Path, result.Outputs)
		}
	}()

	if err := w.Run(ctx); err != nil {
		return err
	}

	processed, failed := w.Counts()
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped: %d files redacted, %d failed\n", processed, failed)
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
