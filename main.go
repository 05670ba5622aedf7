package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fixturefeed/config"
	"fixturefeed/internal/cache"
	"fixturefeed/internal/dashboard"
	"fixturefeed/internal/history"
	"fixturefeed/internal/metrics"
	"fixturefeed/logger"
	"fixturefeed/models"
	"fixturefeed/processor"
	"fixturefeed/reader"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": env,
		"feed":        cfg.Feed.URL,
	}).Info("starting fixturefeed")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	metrics.Configure(cfg.Metrics)
	if cfg.Metrics.CloudWatch.Enabled {
		if err := metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace); err != nil {
			if config.IsProductionLike(env) {
				log.WithError(err).Error("CloudWatch metrics unavailable")
				os.Exit(1)
			}
			log.WithError(err).Warn("CloudWatch metrics disabled")
		}
	}

	var exporter *metrics.PromExporter
	if cfg.Metrics.Prometheus {
		exporter = metrics.NewPromExporter()
		defer exporter.Close()
	}

	fetcher, err := reader.NewFetcher(ctx, cfg.Feed)
	if err != nil {
		log.WithError(err).Error("failed to create feed fetcher")
		os.Exit(1)
	}

	var trail *history.Store
	if cfg.History.Enabled {
		trail, err = history.Open(ctx, cfg.History)
		if err != nil {
			log.WithError(err).Error("failed to open refresh history")
			os.Exit(1)
		}
		defer trail.Close()
	}

	pipeline := processor.NewPipeline(fetcher, models.FeedSchema)
	hub := dashboard.NewHub(log)
	onFill := func(entry *models.CacheEntry) {
		hub.PublishRefresh(entry)
		trail.Observe(entry)
	}
	feed := cache.New(pipeline.Run, cfg.Feed.RefreshWindow, cfg.Feed.TTL, cache.WithOnFill(onFill))
	defer feed.Wait()

	opts := []dashboard.Option{dashboard.WithHub(hub)}
	if exporter != nil {
		opts = append(opts, dashboard.WithMetricsHandler(exporter.Handler()))
	}
	if trail != nil {
		opts = append(opts, dashboard.WithHistory(trail))
	}
	server, err := dashboard.NewServer(cfg.Dashboard, cfg.Display, feed, log, opts...)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	if server == nil {
		log.WithComponent("main").Info("dashboard disabled; loading feed once")
		if err := loadOnce(ctx, feed, log); err != nil {
			feed.Wait()
			trail.Close()
			os.Exit(1)
		}
		log.Info("fixturefeed stopped")
		return
	}

	// Warm the cache so the first page load does not wait on the download.
	// A failure here is not fatal; the dashboard reports it per request.
	_ = loadOnce(ctx, feed, log)

	if err := server.Run(ctx, cfg.App.Name); err != nil {
		log.WithError(err).Error("dashboard stopped with error")
		os.Exit(1)
	}

	log.Info("fixturefeed stopped")
}

type refresher interface {
	GetOrRefresh(ctx context.Context) (*models.CacheEntry, error)
}

// loadOnce runs a single synchronous refresh and logs its outcome.
func loadOnce(ctx context.Context, feed refresher, log *logger.Log) error {
	entry, err := feed.GetOrRefresh(ctx)
	if err != nil {
		log.WithComponent("main").WithError(err).WithFields(logger.Fields{"kind": processor.ErrorKind(err)}).Warn("feed load failed")
		return err
	}
	log.WithComponent("main").WithRun(entry.RunID).WithFields(logger.Fields{
		"rows":    entry.Table.Len(),
		"skipped": entry.Table.Skipped,
		"issues":  len(entry.Table.Issues),
	}).Info("feed loaded")
	return nil
}
