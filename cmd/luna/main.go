// Luna is the journaling engine binary.
//
// It loads configuration from a YAML file (optional) and the environment,
// opens the per-user entry stores, wires the classifier and chat adapters,
// and serves the control HTTP API until interrupted.
//
// Usage:
//
//	luna [-config luna.yaml]
//
// Environment variables override the file:
//
//	LUNA_LISTEN              - control server address (default "127.0.0.1:8780")
//	LUNA_TOKEN               - bearer token for the control API (empty disables auth)
//	LUNA_DATA_DIR            - directory for per-user databases (default "data")
//	LUNA_LOG_LEVEL           - "debug", "info", "warn", "error" (default: "info")
//	LUNA_LOG_FORMAT          - "text" or "json" (default: "text")
//	HUGGINGFACE_API_KEY      - inference API key for sentiment/theme analysis
//	GROQ_API_KEY             - chat completions API key (replies, wraps, transcription)
//	LUNA_RETRY_MAX_ATTEMPTS  - attempts per external adapter call (default: 3)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/luna/common/retry"
	"github.com/bdobrica/luna/common/version"
	"github.com/bdobrica/luna/internal/luna/app"
	"github.com/bdobrica/luna/internal/luna/chat"
	"github.com/bdobrica/luna/internal/luna/classify"
	"github.com/bdobrica/luna/internal/luna/config"
	"github.com/bdobrica/luna/internal/luna/control"
	"github.com/bdobrica/luna/internal/luna/metrics"
	"github.com/bdobrica/luna/internal/luna/observability"
	"github.com/bdobrica/luna/internal/luna/store"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("luna " + version.Info())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	observability.Setup(cfg.Log.Level, cfg.Log.Format)
	slog.Info("starting luna", "version", version.Version, "listen", cfg.Listen, "data_dir", cfg.DataDir)

	if err := run(cfg); err != nil {
		slog.Error("luna exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	stores, err := store.NewManager(cfg.DataDir, nil)
	if err != nil {
		return err
	}
	defer stores.Close()

	var classifier classify.Classifier = classify.Noop{}
	if cfg.Classifier.APIKey != "" {
		classifier = classify.NewHuggingFace(classify.HuggingFaceConfig{
			APIKey:         cfg.Classifier.APIKey,
			BaseURL:        cfg.Classifier.BaseURL,
			SentimentModel: cfg.Classifier.SentimentModel,
			ThemeModel:     cfg.Classifier.ThemeModel,
			ThemeLabels:    cfg.Classifier.ThemeLabels,
			Timeout:        cfg.ClassifierTimeout(),
		})
	} else {
		slog.Warn("no inference API key configured, entries will not be analysed")
	}

	var (
		responder   chat.Responder
		wrapper     chat.WrapSummariser
		transcriber chat.Transcriber
	)
	if cfg.Chat.APIKey != "" {
		client := chat.NewOpenAI(chat.OpenAIConfig{
			APIKey:       cfg.Chat.APIKey,
			BaseURL:      cfg.Chat.BaseURL,
			ChatModel:    cfg.Chat.Model,
			WhisperModel: cfg.Chat.WhisperModel,
		})
		responder = client
		wrapper = client
		transcriber = client
	} else {
		slog.Warn("no chat API key configured, replies fall back to the apology message")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	engine, err := app.New(app.Config{
		Stores:      stores,
		Classifier:  classifier,
		Responder:   responder,
		Wrapper:     wrapper,
		Transcriber: transcriber,
		Metrics:     m,
		Retry: retry.Config{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
			Jitter:       retry.DefaultConfig.Jitter,
		},
	})
	if err != nil {
		return err
	}

	server, err := control.New(cfg.Listen, control.Config{
		App:            engine,
		Token:          cfg.Token,
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down")
	server.Stop()
	return nil
}
