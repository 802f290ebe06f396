package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-chatstream/internal/api"
	"github.com/npezzotti/go-chatstream/internal/auth"
	"github.com/npezzotti/go-chatstream/internal/config"
	"github.com/npezzotti/go-chatstream/internal/emotion"
	"github.com/npezzotti/go-chatstream/internal/logging"
	"github.com/npezzotti/go-chatstream/internal/producer"
	"github.com/npezzotti/go-chatstream/internal/server"
	"github.com/npezzotti/go-chatstream/internal/stats"
	"github.com/rs/zerolog"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

var (
	configPath string
	envFile    string
	port       int
	path       string
	signingKey string
	logLevel   string
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file to load if present")
	flag.IntVar(&port, "port", 0, "listen port (overrides config)")
	flag.StringVar(&path, "path", "", "websocket path (overrides config)")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded signing key (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	flag.Parse()

	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		bootLog.Fatal().Err(err).Str("file", envFile).Msg("load env file")
	}

	cfg, err := loadConfig()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("config")
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("logger")
	}

	p, err := newProducer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("producer")
	}

	statsUpdater := stats.NewStatsUpdater()

	chatServer, err := server.NewChatServer(logger, cfg, auth.NewJWTVerifier(cfg.SigningKey), p,
		emotion.NewKeywordScorer(), statsUpdater)
	if err != nil {
		logger.Fatal().Err(err).Msg("new chat server")
	}

	srv := api.NewChatStreamApp(logger, chatServer, statsUpdater, cfg)

	statsUpdater.Run()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Stringer("signal", sig).Msg("received signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
		}
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatal().Err(err).Msg("HTTP server shutdown")
	}

	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatal().Err(err).Msg("chat server shutdown")
	}

	statsUpdater.Stop()
	logger.Info().Msg("shutdown complete")
}

// loadConfig layers defaults, the config file, the environment and flags,
// in that order.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	cfg.SigningSecret = defaultSigningKey

	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if port != 0 {
		cfg.Port = port
	}
	if path != "" {
		cfg.Path = path
	}
	if signingKey != "" {
		cfg.SigningSecret = signingKey
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newProducer(cfg *config.Config, logger zerolog.Logger) (producer.Producer, error) {
	if !cfg.Producer.Enabled() {
		logger.Warn().Msg("no chat model configured, using echo producer")
		return producer.NewEchoProducer(), nil
	}

	p, err := producer.NewArkProducer(context.Background(), cfg.Producer)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("model", cfg.Producer.Model).Msg("using ark chat model")
	return p, nil
}
