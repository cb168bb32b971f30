package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/park285/Cheese-EngineHost/internal/chess/engine"
	"github.com/park285/Cheese-EngineHost/internal/chess/engineconf"
	"github.com/park285/Cheese-EngineHost/internal/chess/openingbook"
	appcfg "github.com/park285/Cheese-EngineHost/internal/config"
	"github.com/park285/Cheese-EngineHost/internal/match"
	"github.com/park285/Cheese-EngineHost/internal/metrics"
	"github.com/park285/Cheese-EngineHost/internal/monitor"
	"github.com/park285/Cheese-EngineHost/internal/notify"
	"github.com/park285/Cheese-EngineHost/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	engines, err := engineconf.Load(cfg.EnginesFile)
	if err != nil {
		log.Fatalf("engines file error: %v", err)
	}
	white, err := engineconf.Find(engines, cfg.WhiteEngine)
	if err != nil {
		log.Fatalf("white engine: %v", err)
	}
	black, err := engineconf.Find(engines, cfg.BlackEngine)
	if err != nil {
		log.Fatalf("black engine: %v", err)
	}
	tc, err := engine.ParseTimeControl(cfg.TimeControl)
	if err != nil {
		log.Fatalf("time control: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.NewEngine(reg)

	pool := match.NewPool(match.PoolConfig{
		Deps:         engine.Deps{Logger: logger.Named("engine"), Metrics: engineMetrics},
		TimeoutScale: cfg.TimeoutScale,
	})
	defer pool.Close()

	rc := match.RunnerConfig{Pool: pool}

	// Redis record store (optional)
	if cfg.RedisURL != "" {
		rdb, err := match.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis init error: %v", err)
		}
		defer rdb.Close()
		rc.Store = match.NewRedisStore(rdb, cfg.RecordTTL)
	}
	// Postgres archive (optional)
	if cfg.DatabaseURL != "" {
		repo, err := match.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		defer repo.Close()
		rc.Archive = repo
	}
	if cfg.ResultWebhookURL != "" {
		rc.Notifier = notify.NewClient(cfg.ResultWebhookURL, notify.WithBearerToken(cfg.ResultWebhookToken))
	}
	if cfg.MonitorAddr != "" {
		hub := monitor.NewHub()
		rc.Publisher = hub
		go func() {
			if err := hub.Run(ctx, cfg.MonitorAddr, reg); err != nil {
				logger.Error("monitor_error", zap.Error(err))
			}
		}()
	}
	runner := match.NewRunner(rc)

	var book *openingbook.Book
	if cfg.OpeningBook != "" {
		book, err = openingbook.Open(cfg.OpeningBook)
		if err != nil {
			log.Fatalf("opening book error: %v", err)
		}
	}
	rnd := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	score := newScoreboard(white.Name, black.Name)
	logger.Info("match_start",
		zap.String("white", white.Name),
		zap.String("black", black.Name),
		zap.String("time_control", tc.String()),
		zap.Int("games", cfg.Games),
	)
	var line []string
	for round := 1; round <= cfg.Games; round++ {
		// colors alternate every game
		w, b := white, black
		if round%2 == 0 {
			w, b = black, white
		}
		// both games of a pair start from the same book line
		if book != nil && round%2 == 1 {
			line, err = book.RandomLine(cfg.StartFEN, cfg.BookDepth, rnd)
			if err != nil {
				logger.Warn("opening_book_error", zap.Int("round", round), zap.Error(err))
				line = nil
			}
		}
		rec, err := runner.Play(ctx, w, b, tc, match.GameOptions{
			Round:    round,
			StartFEN: cfg.StartFEN,
			Opening:  line,
			MaxPlies: cfg.MaxPlies,
		})
		if rec != nil {
			score.add(w.Name, b.Name, rec.Result)
			fmt.Printf("Game %d: %s\n", round, notify.Summary(rec))
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Info("match_interrupted", zap.Int("round", round))
				break
			}
			logger.Error("match_game_error", zap.Int("round", round), zap.Error(err))
		}
	}

	fmt.Println(score.String())
	logger.Info("match_finished", zap.String("score", score.String()))
}
