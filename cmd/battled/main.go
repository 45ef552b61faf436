package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/battlewager/config"
	"github.com/alejandrodnm/battlewager/internal/adapters/httpapi"
	"github.com/alejandrodnm/battlewager/internal/adapters/notify"
	"github.com/alejandrodnm/battlewager/internal/adapters/scorefeed"
	"github.com/alejandrodnm/battlewager/internal/adapters/storage"
	"github.com/alejandrodnm/battlewager/internal/adapters/wallet"
	"github.com/alejandrodnm/battlewager/internal/application/wagering"
	"github.com/alejandrodnm/battlewager/internal/ports"
	"github.com/alejandrodnm/battlewager/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "configs/battlewager.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug and print every vote")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	simulate := flag.Bool("simulate", false, "run one in-memory battle end to end and exit")
	report := flag.Bool("report", false, "print settled battles from storage and exit")
	flag.Parse()

	var cfg *config.Config
	if *simulate {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err, "path", *configPath)
			os.Exit(1)
		}
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *simulate {
		if err := runSimulation(ctx, cfg, *verbose); err != nil {
			slog.Error("simulation failed", "err", err)
			os.Exit(1)
		}
		return
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	if *report {
		if err := runReport(ctx, store, notify.NewConsole(false)); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("battlewager starting",
		"config", *configPath,
		"http_addr", cfg.HTTP.Addr,
		"tick_interval", cfg.TickInterval(),
		"wallet", orDefault(cfg.Wallet.BaseURL, "memory"),
		"score_feed", orDefault(cfg.ScoreFeed.Addr, "memory"),
		"kafka_brokers", cfg.Kafka.Brokers,
	)

	w := buildWallet(cfg.Wallet)

	feed, closeFeed, err := buildFeed(ctx, cfg.ScoreFeed)
	if err != nil {
		slog.Error("failed to connect score feed", "err", err, "addr", cfg.ScoreFeed.Addr)
		os.Exit(1)
	}
	defer closeFeed()

	notifier, closeNotifier := buildNotifier(cfg, *verbose)
	defer closeNotifier()

	engine := wagering.New(cfg.Engine(), w, feed, store, notifier)
	restored, err := engine.Recover(ctx)
	if err != nil {
		slog.Error("failed to recover battles", "err", err)
		os.Exit(1)
	}
	slog.Info("battles recovered from storage", "count", restored)

	server := httpapi.NewServer(httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		Mode:            cfg.HTTP.Mode,
		ShutdownTimeout: ms(cfg.HTTP.ShutdownTimeoutMS),
	}, engine)
	clock := scheduler.New(scheduler.Config{
		Interval: cfg.TickInterval(),
		Workers:  cfg.Clock.Workers,
	}, engine)

	errCh := make(chan error, 2)
	go func() { errCh <- server.Run(ctx) }()
	go func() { errCh <- clock.Run(ctx) }()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			slog.Error("component exited with error", "err", err)
			cancel()
		}
	}

	slog.Info("battlewager stopped cleanly")
}

func buildWallet(cfg config.WalletConfig) ports.Wallet {
	if cfg.BaseURL == "" {
		slog.Warn("no wallet base_url configured, using in-memory wallet")
		return wallet.NewMemoryWallet(decimal.NewFromInt(1_000))
	}
	return wallet.NewHTTPWallet(wallet.HTTPConfig{
		BaseURL:    cfg.BaseURL,
		Timeout:    ms(cfg.TimeoutMS),
		RatePerSec: cfg.RatePerSec,
		Burst:      cfg.Burst,
	})
}

func buildFeed(ctx context.Context, cfg config.ScoreFeedConfig) (ports.ScoreFeed, func(), error) {
	if cfg.Addr == "" {
		slog.Warn("no score_feed addr configured, using in-memory feed")
		return scorefeed.NewMemoryFeed(), func() {}, nil
	}
	feed, err := scorefeed.NewRedisFeed(ctx, scorefeed.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.Prefix,
		PoolSize: cfg.PoolSize,
	})
	if err != nil {
		return nil, nil, err
	}
	return feed, func() { _ = feed.Close() }, nil
}

func buildNotifier(cfg *config.Config, verbose bool) (ports.Notifier, func()) {
	console := notify.NewConsole(verbose)
	if len(cfg.Kafka.Brokers) == 0 {
		return console, func() {}
	}
	kafka := notify.NewKafkaPublisher(notify.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		WriteTimeout: ms(cfg.Kafka.WriteTimeoutMS),
	})
	return notify.NewFanout(console, kafka), func() {
		if err := kafka.Close(); err != nil {
			slog.Warn("kafka close failed", "err", err)
		}
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
