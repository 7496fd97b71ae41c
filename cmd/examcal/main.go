package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"examcal/internal/app"
	"examcal/internal/config"
	appLog "examcal/internal/log"
	"examcal/internal/selection"
	"examcal/internal/source"
	"examcal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	appLog.Info("examcal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"source", conf.Source.Location,
		"refresh", conf.Source.Refresh,
		"store_driver", conf.Store.Driver,
		"store_path", conf.Store.Path,
		"export_prefix", conf.Export.PathPrefix,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("examcal failed", err)
		os.Exit(1)
	}
	appLog.Info("examcal exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	store, err := selection.Open(conf.Store.Driver, conf.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLog.Error("failed to close selection store", err)
		}
	}()

	loc := conf.Location()
	a := app.New(store, app.Options{
		SourceLocation: conf.Source.Location,
		Delimiter:      conf.DelimiterRune(),
		Fetcher:        source.NewFetcher(conf.Source.CacheDir),
		Location:       loc,
		ProductID:      conf.Export.ProductID,
		PathPrefix:     conf.Export.PathPrefix,
	})

	diag, err := a.Reload(ctx)
	if err != nil {
		return err
	}

	// --once: load and validate the source, then exit.
	if once {
		appLog.Info("source check finished", "records", a.Repository().Len(), "skipped", len(diag))
		return nil
	}

	if conf.Source.Refresh != "" {
		c := cron.New(cron.WithLocation(loc))
		_, err := c.AddFunc(conf.Source.Refresh, func() {
			if _, err := a.Reload(ctx); err != nil {
				appLog.Error("scheduled reload failed; keeping previous schedule", err)
			}
		})
		if err != nil {
			return err
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		appLog.Info("scheduled source reload", "spec", conf.Source.Refresh)
	}

	return web.Serve(ctx, conf, a)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load the source once, report skipped rows and exit")

	flag.Parse()

	return cfg
}
