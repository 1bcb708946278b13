package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/app"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/memory"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/version"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "corebrain",
	Short:         "corebrain - Arabic assistant with long-term memory",
	Long:          `corebrain answers questions from its own memory and the web, generates small code projects, and keeps learning in the background.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default <data dir>/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror logs to stderr")

	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 10, "number of turns to show")
	pruneCmd.Flags().IntVar(&pruneMax, "max", 0, "maximum facts to keep (default from config)")
	learnCmd.Flags().StringSliceVarP(&learnTopics, "topic", "t", nil, "topic to learn about (repeatable)")
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 10, "maximum pages to fetch")
	crawlCmd.Flags().BoolVar(&crawlLearn, "learn", false, "store summarized crawl results as facts")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "do not run the learning loop on a timer")
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check for a newer release")

	chatCmd.RunE = newAppRunner(runChatCmd)
	learnCmd.RunE = newAppRunner(runLearnCmd)
	serveCmd.RunE = newAppRunner(runServeCmd)
	recentCmd.RunE = newAppRunner(runRecentCmd)
	statsCmd.RunE = newAppRunner(runStatsCmd)
	pruneCmd.RunE = newAppRunner(runPruneCmd)
	crawlCmd.RunE = newAppRunner(runCrawlCmd)
	healthCmd.RunE = newAppRunner(runHealthCmd)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

// newAppRunner builds the application for the duration of one command.
func newAppRunner(runFunc func(*app.App, *cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := app.NewApp(app.Options{ConfigPath: configPath, Stderr: verbose})
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		defer a.Close()
		return runFunc(a, cmd, args)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "corebrain v%s\n", version.Version)
		if !versionCheck {
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		up, err := version.NewChecker(nil, version.ReleasesURL).Check(ctx)
		if err != nil {
			return fmt.Errorf("update check failed: %w", err)
		}
		if up.Available {
			fmt.Fprintf(cmd.OutOrStdout(), "A newer release is available: v%s\n%s\n", up.Latest, up.URL)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "You are running the latest release.")
		}
		return nil
	},
}

var versionCheck bool

var learnTopics []string

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Run the learning loop once",
}

func runLearnCmd(a *app.App, cmd *cobra.Command, _ []string) error {
	report, err := a.Learner.RunOnce(cmd.Context(), learnTopics)
	if err != nil {
		a.Core.Logger.Warn("Learning run incomplete", zap.Error(err))
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, fmt.Sprintf(a.Core.Lexicon.Messages.LearnSummary, report.Learned()))
	fmt.Fprintf(out, "Run: %s\n", report.RunID)
	fmt.Fprintf(out, "Topics: %s\n", strings.Join(report.Topics, "، "))
	fmt.Fprintf(out, "From the web: %d\nFrom conversations: %d\nPruned: %d\n", report.Web, report.Conversation, report.Pruned)
	return err
}

var recentLimit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent conversation turns",
}

func runRecentCmd(a *app.App, cmd *cobra.Command, _ []string) error {
	turns, err := a.Memory.RecentTurns(cmd.Context(), recentLimit)
	if err != nil {
		a.Core.Logger.Error("Failed to get recent turns", zap.Error(err))
		return err
	}
	out := cmd.OutOrStdout()
	if len(turns) == 0 {
		fmt.Fprintln(out, "No conversation yet.")
		return nil
	}
	for _, t := range turns {
		fmt.Fprintf(out, "[%s] #%d\n> %s\n%s\n\n", t.Timestamp.Format(time.RFC3339), t.ID, t.User, t.Assistant)
	}
	return nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics",
}

func runStatsCmd(a *app.App, cmd *cobra.Command, _ []string) error {
	stats, summary, err := a.Stats(cmd.Context())
	if err != nil {
		a.Core.Logger.Error("Failed to collect stats", zap.Error(err))
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total facts: %d (indexed: %d)\n", stats.Facts, stats.Indexed)
	fmt.Fprintln(out, "By source:")
	for _, source := range []string{memory.SourceAutolearn, memory.SourceConversation, memory.SourceCodegen, memory.SourceCrawl, memory.SourceManual} {
		if n := stats.FactsBySource[source]; n > 0 {
			fmt.Fprintf(out, "  %s: %d\n", source, n)
		}
	}
	fmt.Fprintf(out, "Average quality: %.2f\n", stats.AverageQuality)
	fmt.Fprintf(out, "Conversation turns: %d\n", stats.Turns)
	fmt.Fprintf(out, "\nMemory searches: %d (empty queries: %d, zero hits: %d)\n", summary.Searches, summary.EmptyQueries, summary.ZeroHit)
	fmt.Fprintf(out, "Average hits: %.2f\nAverage duration: %.1f ms\n", summary.AvgHits, summary.AvgDurationMs)
	return nil
}

var pruneMax int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete the oldest facts beyond the size cap",
}

func runPruneCmd(a *app.App, cmd *cobra.Command, _ []string) error {
	limit := pruneMax
	if limit <= 0 {
		limit = a.Core.Config.MaxFacts
	}
	removed, err := a.Memory.Prune(cmd.Context(), limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d facts (cap %d)\n", removed, limit)
	return nil
}

var (
	crawlMaxPages int
	crawlLearn    bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Crawl a site within its registered domain",
	Args:  cobra.ExactArgs(1),
}

func runCrawlCmd(a *app.App, cmd *cobra.Command, args []string) error {
	pages := a.Web.Crawler.Crawl(cmd.Context(), args[0], crawlMaxPages)
	out := cmd.OutOrStdout()
	for _, p := range pages {
		fmt.Fprintf(out, "%s\t%d chars\t%s\n", p.URL, len([]rune(p.Text)), p.Title)
	}
	fmt.Fprintf(out, "Fetched %d pages\n", len(pages))
	if !crawlLearn {
		return nil
	}
	n, err := a.Learner.LearnPages(cmd.Context(), args[0], memory.SourceCrawl, pages)
	fmt.Fprintln(out, fmt.Sprintf(a.Core.Lexicon.Messages.LearnSummary, n))
	return err
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check storage and server health",
}

func runHealthCmd(a *app.App, cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	healthy := true

	if err := a.Core.DB.Ping(cmd.Context()); err != nil {
		a.Core.Logger.Error("Database connectivity check failed", zap.Error(err))
		fmt.Fprintf(out, "❌ Database connectivity: %v\n", err)
		healthy = false
	} else {
		fmt.Fprintln(out, "✅ Database connectivity: OK")
	}

	report, err := a.Core.DB.Check(cmd.Context())
	switch {
	case err != nil:
		a.Core.Logger.Error("Storage check failed", zap.Error(err))
		fmt.Fprintf(out, "❌ Storage check: %v\n", err)
		healthy = false
	case !report.Healthy():
		fmt.Fprintf(out, "❌ Storage integrity: %s\n", report.Integrity)
		for _, v := range report.Pending {
			fmt.Fprintf(out, "   pending migration %s\n", v)
		}
		for _, p := range report.Problems {
			fmt.Fprintf(out, "   %s\n", p)
		}
		healthy = false
	default:
		fmt.Fprintf(out, "✅ Storage integrity: %d facts, %d turns, schema %s\n",
			report.Facts, report.Turns, report.Migrations[len(report.Migrations)-1])
	}

	if n, err := a.Memory.CountFacts(cmd.Context()); err != nil {
		fmt.Fprintf(out, "❌ Memory index: %v\n", err)
		healthy = false
	} else if stats, err := a.Memory.Stats(cmd.Context()); err == nil && stats.Indexed != n {
		fmt.Fprintf(out, "! Memory index holds %d of %d facts\n", stats.Indexed, n)
	} else {
		fmt.Fprintf(out, "✅ Memory index: %d facts\n", n)
	}

	addr := a.Core.Config.ListenAddress
	if conn, err := net.DialTimeout("tcp", addr, time.Second); err != nil {
		fmt.Fprintf(out, "! Server not listening on %s\n", addr)
	} else {
		conn.Close()
		fmt.Fprintf(out, "✅ Server listening on %s\n", addr)
	}

	if !healthy {
		return errors.New("health check failed")
	}
	fmt.Fprintln(out, "Health check complete.")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
