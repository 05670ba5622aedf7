// Command feedcheck downloads the predictions feed once, runs it through the
// normalization pipeline and prints a summary. It exits non-zero when the feed
// cannot be fetched or does not match the schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"fixturefeed/config"
	"fixturefeed/internal/cache"
	"fixturefeed/internal/query"
	"fixturefeed/logger"
	"fixturefeed/models"
	"fixturefeed/processor"
	"fixturefeed/reader"
	"fixturefeed/writer"
)

func main() {
	log := logger.GetLogger()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file; defaults are used when empty")
	feedURL := flag.String("url", "", "Feed URL (http, https, file or s3), overrides the configuration")
	fixture := flag.String("fixture", "", "Print the rows and chart series for this fixture")
	out := flag.String("parquet", "", "Write the normalized table to this parquet file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.WithError(err).Error("failed to load configuration")
			os.Exit(2)
		}
		cfg = *loaded
	}
	if *feedURL != "" {
		cfg.Feed.URL = *feedURL
	}
	if cfg.Feed.URL == "" {
		fmt.Fprintln(os.Stderr, "feedcheck: a feed URL is required (-url or -config)")
		os.Exit(2)
	}

	// Summaries go to stdout; keep the log quiet unless asked otherwise.
	if err := log.Configure("warn", "text", "stderr", 0); err != nil {
		log.WithError(err).Error("failed to configure logger")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Feed.Timeout)
	defer cancel()

	fetcher, err := reader.NewFetcher(ctx, cfg.Feed)
	if err != nil {
		log.WithError(err).Error("failed to create feed fetcher")
		os.Exit(2)
	}

	pipeline := processor.NewPipeline(fetcher, models.FeedSchema)
	table, err := pipeline.Run(ctx, cache.TokenAt(time.Now(), cfg.Feed.RefreshWindow))
	if err != nil {
		fmt.Fprintf(os.Stderr, "feedcheck: %s error: %v\n", processor.ErrorKind(err), err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.Display.Timezone)
	if err != nil {
		loc = time.UTC
	}
	fmt.Printf("feed:      %s\n", fetcher.URL())
	fmt.Printf("schema:    %s\n", table.Schema.Version)
	fmt.Printf("checked:   %s\n", time.Now().In(loc).Format(cfg.Display.DateTimeLayout+" MST"))
	fmt.Printf("rows:      %d\n", table.Len())
	fmt.Printf("fixtures:  %d\n", len(query.Fixtures(table)))
	fmt.Printf("skipped:   %d\n", table.Skipped)
	fmt.Printf("dropped:   %d\n", table.Dropped)
	fmt.Printf("issues:    %d\n", len(table.Issues))
	for _, issue := range table.Issues {
		fmt.Printf("  line %d %s=%q: %s\n", issue.Line, issue.Column, issue.Value, issue.Reason)
	}

	if *fixture != "" {
		printFixture(table, *fixture, cfg.Display.DateLayout)
	}

	if *out != "" {
		data, err := writer.EncodeTable(table, "snappy")
		if err != nil {
			log.WithError(err).Error("failed to encode parquet")
			os.Exit(1)
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			log.WithError(err).Error("failed to write parquet file")
			os.Exit(1)
		}
		fmt.Printf("parquet:   %s (%d bytes)\n", *out, len(data))
	}
}

func printFixture(table *models.NormalizedTable, name, layout string) {
	rows := query.RowsForFixture(table, name)
	fmt.Printf("\n%s: %d row(s)\n", name, len(rows))
	for _, r := range query.SortByMatchDate(rows) {
		fmt.Printf("  line %d  match %s  run %s\n", r.Line, orDash(r.MatchDateDisplay(layout)), orDash(r.RunDateDisplay(layout)))
	}
	row, ok := query.FirstForFixture(table, name)
	if !ok {
		return
	}
	for _, p := range query.ChartSeries(row) {
		value := "-"
		if p.Probability != nil {
			value = fmt.Sprintf("%.2f", *p.Probability)
		}
		fmt.Printf("  %-9s %-10s %s\n", p.Outcome, p.Source, value)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
