package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/developingchet/replybot/internal/bot"
	"github.com/developingchet/replybot/internal/config"
	"github.com/developingchet/replybot/internal/ledger"
	"github.com/developingchet/replybot/internal/logger"
	"github.com/developingchet/replybot/internal/ratelimit"
	"github.com/developingchet/replybot/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "replybot",
		Short:         "Quota-aware reply bot for build-in-public accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(),
		onceCmd(),
		statsCmd(),
		healthcheckCmd(),
		versionCmd(),
	)
	return root
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the polling daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg, os.Stderr)
	log.Info().Str("version", Version).Msg("replybot starting")

	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	bot.BinaryVersion = Version
	b, err := bot.New(cfg, store, log)
	if err != nil {
		return fmt.Errorf("build bot: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := b.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("replybot stopped")
	return nil
}

// onceCmd runs a single cycle. Without --live nothing is published.
func onceCmd() *cobra.Command {
	var live bool
	var maxDelay time.Duration
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run one polling cycle and exit (test mode unless --live)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !live {
				if err := os.Setenv("TEST_MODE", "true"); err != nil {
					return err
				}
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !live {
				cfg.AccountDelayMin = 0
				cfg.AccountDelayMax = maxDelay
			}
			return runOnce(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "publish replies instead of logging them")
	cmd.Flags().DurationVar(&maxDelay, "max-delay", 2*time.Second, "upper bound of the inter-account delay in test mode")
	return cmd
}

func runOnce(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := buildLogger(cfg, os.Stderr)

	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	bot.BinaryVersion = Version
	b, err := bot.New(cfg, store, log)
	if err != nil {
		return fmt.Errorf("build bot: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res := b.RunOnce(ctx)
	if res.QuotaIdle {
		fmt.Fprintln(out, "poll budget exhausted; nothing checked")
		return nil
	}
	for _, a := range res.Accounts {
		status := "no new post"
		switch {
		case a.Err != nil:
			status = "error: " + a.Err.Error()
		case a.Reply != nil:
			status = string(a.Reply.Status)
			if a.Reply.Reason != "" {
				status += " (" + a.Reply.Reason + ")"
			}
		}
		fmt.Fprintf(out, "%s\tposts=%d\tnewest=%s\t%s\n", a.Account, a.PostsFound, a.Newest, status)
	}
	if res.Aborted {
		fmt.Fprintln(out, "cycle aborted before the batch finished")
	}
	return nil
}

// statsCmd prints per-account stats and quota usage from the database.
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print per-account stats and quota usage (stop the daemon first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The stats command only reads; credentials are not needed.
			if err := os.Setenv("TEST_MODE", "true"); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := storage.NewBboltStore(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()
			return printStats(cmd.OutOrStdout(), cfg, store)
		},
	}
}

func printStats(out io.Writer, cfg *config.Config, store storage.Store) error {
	log := zerolog.Nop()
	limiter := ratelimit.New(store, ratelimit.Config{
		PollLimitPerDay:    cfg.PollLimitPerDay,
		ReplyLimitPerDay:   cfg.ReplyLimitPerDay,
		ReplyLimitPerMonth: cfg.ReplyLimitPerMonth,
	}, log)
	snap := ledger.NewStats(store, nil, log).Snapshot()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WINDOW\tUSED\tLIMIT\tRESETS")
	for _, u := range limiter.Usage() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", u.Window, u.Used, u.Limit, u.Resets.Format(time.RFC3339))
	}
	fmt.Fprintln(tw)

	accounts := make([]string, 0, len(snap.Accounts))
	for a := range snap.Accounts {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)

	fmt.Fprintf(tw, "ACCOUNT\tPOLLS\tPOSTS\tNEW\tHIT RATE\t(since %s)\n", snap.LastReset.Format(time.RFC3339))
	for _, a := range accounts {
		st := snap.Accounts[a]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\t\n", a, st.TotalPolls, st.TotalPostsSeen, st.NewPostsSeen, st.HitRate)
	}

	if n, err := store.CountSeen(); err == nil {
		fmt.Fprintf(tw, "\nseen records:\t%d\n", n)
	}
	return tw.Flush()
}

// healthcheckCmd exits 0 if the health endpoint answers.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.Setenv("TEST_MODE", "true"); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + healthHost(cfg.HealthAddr) + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// healthHost turns a listen address such as ":8081" into a dialable one.
func healthHost(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("replybot %s\n", Version)
		},
	}
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(w)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(w)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}
