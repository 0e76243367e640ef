package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"licensed/internal/clock"
	"licensed/internal/config"
	"licensed/internal/httpapi"
	"licensed/internal/license"
	"licensed/internal/lifecycle"
	"licensed/internal/logging"
	"licensed/internal/metrics"
	"licensed/internal/seed"
	"licensed/internal/store"
	"licensed/internal/telegram"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	addr   string
	driver string
	dbPath string
}

func (o *serveOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.addr, "addr", "", "HTTP listen address (overrides http.addr)")
	fs.StringVar(&o.driver, "store", "", "store driver: bbolt or memory (overrides store.driver)")
	fs.StringVar(&o.dbPath, "db", "", "bbolt database path (overrides store.path)")
}

func (o *serveOptions) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	if fs.Changed("addr") {
		cfg.HTTP.Addr = o.addr
	}
	if fs.Changed("store") {
		cfg.Store.Driver = o.driver
	}
	if fs.Changed("db") {
		cfg.Store.Path = o.dbPath
	}
	return cfg.Validate()
}

func newServeCmd(root *rootOptions) *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when configured, the Telegram admin bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if err := o.apply(cmd.Flags(), cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logging.New(cfg.Logging, os.Stderr))
		},
	}
	o.addFlags(cmd.Flags())
	return cmd
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "bbolt":
		return store.OpenBBolt(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func seedStore(st store.Store, cfg config.SeedConfig, now time.Time) (int, error) {
	var lics []license.License
	if cfg.Builtin {
		lics = append(lics, seed.Builtin(now)...)
	}
	if cfg.File != "" {
		fromFile, err := seed.LoadFile(cfg.File, now)
		if err != nil {
			return 0, err
		}
		lics = append(lics, fromFile...)
	}
	return seed.Apply(st, lics)
}

type botRunner interface {
	Run(ctx context.Context) error
}

// newBot connects the admin bot. It runs before any serve goroutine starts.
var newBot = func(cfg config.TelegramConfig, engine telegram.Engine, st store.Store, log *slog.Logger) (botRunner, error) {
	bot, err := telegram.NewBot(cfg.Token, cfg.AdminChatID, engine, st, log)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	st, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	clk := clock.System()
	added, err := seedStore(st, cfg.Seed, clk.Now())
	if err != nil {
		return fmt.Errorf("seed store: %w", err)
	}
	log.Info("store ready", slog.String("driver", cfg.Store.Driver), slog.Int("seeded", added))

	engine := lifecycle.New(st, clk)
	api := httpapi.New(engine, httpapi.Options{
		Logger:         log,
		Metrics:        metrics.New(engine),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	var bot botRunner
	if cfg.Telegram.Token != "" {
		if bot, err = newBot(cfg.Telegram, engine, st, log); err != nil {
			return fmt.Errorf("telegram bot: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", slog.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if bot != nil {
		g.Go(func() error {
			log.Info("telegram bot running", slog.Int64("admin_chat_id", cfg.Telegram.AdminChatID))
			return bot.Run(gctx)
		})
	}

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}
