// Command lektio runs an interactive scripted language lesson against the
// content backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lektio/lektio/internal/audio"
	"github.com/lektio/lektio/internal/config"
	"github.com/lektio/lektio/internal/content"
	"github.com/lektio/lektio/internal/content/postgres"
	"github.com/lektio/lektio/internal/gate"
	"github.com/lektio/lektio/internal/grader"
	"github.com/lektio/lektio/internal/observe"
	"github.com/lektio/lektio/internal/runtime"
	"github.com/lektio/lektio/pkg/provider/llm/anyllm"
	"github.com/lektio/lektio/pkg/provider/stt"
	oaistt "github.com/lektio/lektio/pkg/provider/stt/openai"
	"github.com/lektio/lektio/pkg/provider/stt/whisper"
	"github.com/lektio/lektio/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lektio: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lektio: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	key := types.LessonKey{
		Day:      cfg.Lesson.Day,
		Lesson:   cfg.Lesson.Lesson,
		Level:    cfg.Lesson.Level,
		Language: cfg.Lesson.Language,
	}
	slog.Info("lektio starting", "config", *configPath, "lesson", key, "log_level", cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider()
	if err != nil {
		slog.Error("failed to init metrics provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics provider shutdown", "err", err)
		}
	}()
	metrics := observe.Default()

	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(cfg.Server.MetricsAddr)
	}

	// ── Content backend ───────────────────────────────────────────────────────
	store, err := postgres.New(ctx, cfg.Content.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect content store", "err", err)
		return 1
	}
	defer store.Close()

	var subscriber content.Subscriber
	if cfg.Content.RealtimeURL != "" {
		rt := content.NewRealtime(cfg.Content.RealtimeURL, content.WithRealtimeLogger(logger))
		go rt.Run(ctx)
		subscriber = rt
	}

	// ── Audio ─────────────────────────────────────────────────────────────────
	queue, closeAudio, err := buildAudio(cfg.Audio, store, metrics)
	if err != nil {
		slog.Error("failed to build audio queue", "err", err)
		return 1
	}
	if closeAudio != nil {
		defer closeAudio()
	}

	// ── Grading ───────────────────────────────────────────────────────────────
	answerGrader, err := buildGrader(cfg.Grader, metrics)
	if err != nil {
		slog.Error("failed to build grader", "err", err)
		return 1
	}

	transcriber, err := buildSTT(cfg.STT)
	if err != nil {
		slog.Error("failed to build speech provider", "err", err)
		return 1
	}

	// ── Gate state ────────────────────────────────────────────────────────────
	stateStore, err := gate.NewStateStore(cfg.Lesson.StateDir)
	if err != nil {
		slog.Error("failed to open gate state store", "err", err)
		return 1
	}
	controller, err := gate.NewController(stateStore, key)
	if err != nil {
		slog.Error("failed to load gate state", "err", err)
		return 1
	}

	// ── Session ───────────────────────────────────────────────────────────────
	session, err := runtime.NewSession(key, runtime.Deps{
		Store:      store,
		Subscriber: subscriber,
		Gate:       controller,
		Audio:      queue,
		Grader:     answerGrader,
		STT:        transcriber,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}
	if err := session.Start(ctx); err != nil {
		slog.Error("failed to start session", "err", err)
		return 1
	}
	defer session.Close()

	view := session.View()
	slog.Info("lesson ready",
		"visible_messages", len(view.Visible),
		"input_mode", view.Input,
		"goal_pending", view.GoalPending,
		"completed", session.Completed(),
	)

	<-ctx.Done()
	slog.Info("shutting down")
	return 0
}

// assetSource bridges the content store to the audio queue's asset lookup.
type assetSource struct {
	store content.Store
}

func (a assetSource) Resolve(ctx context.Context, contentHash, textHash string) (string, error) {
	return a.store.ResolveAudioAsset(ctx, contentHash, textHash)
}

func (a assetSource) Fetch(ctx context.Context, url string) ([]byte, error) {
	return a.store.FetchAudioBytes(ctx, url)
}

// buildAudio assembles the playback queue over the configured cache tiers.
// A missing voice disables audio entirely.
func buildAudio(cfg config.AudioConfig, store content.Store, metrics *observe.Metrics) (*audio.Queue, func(), error) {
	if cfg.Voice == "" {
		return nil, nil, nil
	}

	var cache audio.Cache = audio.NewMemoryCache()
	var closer func()
	if cfg.CachePath != "" {
		durable, err := audio.NewSQLiteCache(cfg.CachePath)
		if err != nil {
			return nil, nil, err
		}
		cache = audio.NewTieredCache(cache, durable)
		closer = func() {
			if err := durable.Close(); err != nil {
				slog.Warn("audio cache close", "err", err)
			}
		}
	}

	player := audio.NewPCMPlayer(os.Stdout)
	queue := audio.NewQueue(cache, assetSource{store: store}, audio.NewOpusDecoder(), player, cfg.Voice,
		audio.WithMetrics(metrics))
	return queue, closer, nil
}

// buildGrader composes the LLM grader with the phonetic fallback. Without
// an LLM entry the phonetic grader runs alone.
func buildGrader(cfg config.GraderConfig, metrics *observe.Metrics) (grader.Grader, error) {
	opts := []grader.ChainOption{grader.WithMetrics(metrics)}
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, grader.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
	}

	phonetic := grader.NamedGrader{Name: "phonetic", Grader: grader.NewPhoneticGrader()}
	if cfg.LLM.Name == "" {
		return grader.NewChain(opts, phonetic), nil
	}

	var llmOpts []anyllmlib.Option
	if cfg.LLM.APIKey != "" {
		llmOpts = append(llmOpts, anyllmlib.WithAPIKey(cfg.LLM.APIKey))
	}
	if cfg.LLM.BaseURL != "" {
		llmOpts = append(llmOpts, anyllmlib.WithBaseURL(cfg.LLM.BaseURL))
	}
	provider, err := anyllm.New(cfg.LLM.Name, cfg.LLM.Model, llmOpts...)
	if err != nil {
		return nil, err
	}
	return grader.NewChain(opts,
		grader.NamedGrader{Name: "llm", Grader: grader.NewLLMGrader(provider)},
		phonetic,
	), nil
}

func buildSTT(cfg config.STTConfig) (stt.Provider, error) {
	switch cfg.Provider.Name {
	case "":
		return nil, nil
	case "whisper":
		opts := []whisper.Option{}
		if cfg.Provider.Model != "" {
			opts = append(opts, whisper.WithModel(cfg.Provider.Model))
		}
		return whisper.New(cfg.Provider.BaseURL, opts...)
	case "openai":
		var opts []oaistt.Option
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(cfg.Provider.BaseURL))
		}
		return oaistt.New(cfg.Provider.APIKey, cfg.Provider.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider.Name)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics endpoint failed", "err", err)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
