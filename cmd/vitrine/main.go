package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath string
		jsonOutput bool
		addr       string
		schedule   bool
		limit      int
		pageURL    string
		pageTitle  string
		since      time.Duration
	)

	rootCmd := &cobra.Command{
		Use:           "vitrine",
		Short:         "Retrieval-augmented shopping assistant for the RAK Porcelain catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (YAML, optional)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, addr, schedule)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&schedule, "schedule", false, "Also run the nightly index refresh")

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question, or start an interactive session without one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), configPath, args, jsonOutput)
		},
	}
	askCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print answers as JSON")

	imageCmd := &cobra.Command{
		Use:   "image <url>",
		Short: "Describe a photo and suggest similar products",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(cmd.Context(), configPath, args[0])
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the built-in pages to an empty content index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), configPath)
		},
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Chunk text files and add them to the content index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), configPath, args, pageURL, pageTitle)
		},
	}
	ingestCmd.Flags().StringVar(&pageURL, "url", "", "Source URL of the page (defaults to the file path)")
	ingestCmd.Flags().StringVar(&pageTitle, "title", "", "Page title (defaults to the file name)")

	indexCmd := &cobra.Command{
		Use:       "index content|aesthetic|visual|all",
		Short:     "Rebuild vector indexes from the catalog",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"content", "aesthetic", "visual", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), configPath, args[0], limit)
		},
	}
	indexCmd.Flags().IntVar(&limit, "limit", 0, "Maximum products to index (0 uses the configured limit)")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the nightly index refresh until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), configPath)
		},
	}

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}
	cacheCmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cached answers",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCacheStats(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every cached answer",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCacheClear(cmd.Context(), configPath)
			},
		},
	)

	analyticsCmd := &cobra.Command{
		Use:   "analytics",
		Short: "Summarize recorded chat turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalytics(cmd.Context(), configPath, since)
		},
	}
	analyticsCmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Look-back window")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("vitrine " + version)
		},
	}

	rootCmd.AddCommand(serveCmd, askCmd, imageCmd, seedCmd, ingestCmd, indexCmd,
		scheduleCmd, cacheCmd, analyticsCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
