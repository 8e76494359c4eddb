package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/jrsteele09/go-oauth-engine/auth"
	clientmemrepo "github.com/jrsteele09/go-oauth-engine/clients/memrepo"
	"github.com/jrsteele09/go-oauth-engine/internal/config"
	"github.com/jrsteele09/go-oauth-engine/internal/telemetry"
	"github.com/jrsteele09/go-oauth-engine/server"
	sessionmemrepo "github.com/jrsteele09/go-oauth-engine/sessions/memrepo"
	usermemrepo "github.com/jrsteele09/go-oauth-engine/users/memrepo"
)

var revision = "unknown"

// Opts with all cli flags. Every flag overrides the matching config file value.
type Opts struct {
	Config  string `long:"config" env:"CONFIG" description:"path to the yaml config file"`
	Port    string `long:"port" env:"PORT" description:"http listen port"`
	Store   string `long:"store" env:"STORE_TYPE" choice:"memory" choice:"bolt" choice:"sqlite" choice:"postgres" choice:"mysql" description:"credential store backend"`
	DSN     string `long:"dsn" env:"STORE_DSN" description:"sql store data source name"`
	Path    string `long:"path" env:"STORE_PATH" description:"bolt store file"`
	Metrics bool   `long:"metrics" env:"METRICS" description:"serve prometheus metrics"`
	Dbg     bool   `long:"dbg" env:"DEBUG" description:"debug logging"`
}

func main() {
	var opts Opts
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	setupLog(opts.Dbg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, opts Opts) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stack", string(debug.Stack())).Msgf("recovered from panic: %v", r)
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	displayAppname(cfg.GetAppName())

	st, err := openStore(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}()

	tel, serverOpts, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}

	engine, err := auth.New(auth.Repos{
		Users:        usermemrepo.New(),
		Clients:      clientmemrepo.New(),
		Transactions: sessionmemrepo.New(cfg.GetMaxTransactionAge()),
	}, st, cfg, auth.WithLogger(log.Logger), auth.WithTelemetry(tel))
	if err != nil {
		return errors.Wrap(err, "[run] auth engine")
	}
	if err := engine.Seed(ctx, cfg); err != nil {
		return errors.Wrap(err, "[run] seed")
	}

	srv, err := server.New(cfg, engine, serverOpts...)
	if err != nil {
		return errors.Wrap(err, "[run] server")
	}

	go reap(ctx, engine, cfg.GetReapInterval())
	return srv.Run(ctx)
}

// loadConfig reads the config file and applies the command line overrides.
func loadConfig(opts Opts) (*config.Settings, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Port != "" {
		cfg.Server.Port = opts.Port
	}
	if opts.Store != "" {
		cfg.Store.Type = config.StoreType(opts.Store)
	}
	if opts.DSN != "" {
		cfg.Store.DSN = opts.DSN
	}
	if opts.Path != "" {
		cfg.Store.Path = opts.Path
	}
	if opts.Metrics {
		cfg.Telemetry.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupTelemetry records into a Prometheus-scraped SDK meter provider when telemetry is
// enabled, otherwise into the global providers. Spans always go to the global tracer provider.
func setupTelemetry(ctx context.Context, cfg *config.Settings) (*telemetry.Telemetry, []server.Option, error) {
	if !cfg.GetTelemetryEnabled() {
		tel, err := telemetry.New(otel.GetMeterProvider(), otel.GetTracerProvider())
		return tel, nil, errors.Wrap(err, "[setupTelemetry]")
	}

	providers, err := telemetry.NewProviders(ctx, cfg.GetServiceName(), revision)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[setupTelemetry]")
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to shut down metrics")
		}
	}()

	tel, err := telemetry.New(providers.MeterProvider(), otel.GetTracerProvider())
	if err != nil {
		return nil, nil, errors.Wrap(err, "[setupTelemetry]")
	}
	log.Info().Str("path", cfg.GetMetricsPath()).Msg("prometheus metrics enabled")
	return tel, []server.Option{server.WithMetricsHandler(cfg.GetMetricsPath(), providers.MetricsHandler())}, nil
}

// reap periodically removes expired credentials and abandoned consent transactions.
// Lookups already ignore expired rows; this only bounds storage.
func reap(ctx context.Context, engine *auth.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			credentials, transactions, err := engine.ReapExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("reaper failed")
				continue
			}
			if credentials+transactions > 0 {
				log.Debug().Int("credentials", credentials).Int("transactions", transactions).Msg("reaped expired entries")
			}
		}
	}
}

func setupLog(dbg bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if dbg {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
