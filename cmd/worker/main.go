package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/lifecycle-engine/internal/api"
	"github.com/ignite/lifecycle-engine/internal/automation"
	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/distlock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"github.com/ignite/lifecycle-engine/internal/render"
	"github.com/ignite/lifecycle-engine/internal/service/enrollment"
	"github.com/ignite/lifecycle-engine/internal/service/nudge"
	"github.com/ignite/lifecycle-engine/internal/service/outreach"
	"github.com/ignite/lifecycle-engine/internal/service/routing"
	"github.com/ignite/lifecycle-engine/internal/service/sequence"
	"github.com/ignite/lifecycle-engine/internal/service/tagging"
	"github.com/ignite/lifecycle-engine/internal/worker"
)

func main() {
	log.Println("Starting lifecycle engine...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	db, err := openDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if db != nil {
		defer db.Close()
		log.Println("Connected to database")
	}

	rdb, err := openRedis(cfg.Redis)
	if err != nil {
		log.Printf("Redis unavailable, using local locks: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
		log.Println("Connected to Redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newStores(db)
	source, err := sequenceSource(ctx, cfg.Sequences, st)
	if err != nil {
		log.Fatalf("Failed to configure sequence source: %v", err)
	}
	registry := sequence.NewRegistry(source)
	registry.SetTTL(cfg.Sequences.CacheTTL.D())
	if err := registry.Reload(ctx); err != nil {
		log.Printf("Sequences: initial load failed, will retry on demand: %v", err)
	}
	for id, verr := range registry.Invalid() {
		log.Printf("Sequences: excluded %s: %v", id, verr)
	}

	locker := distlock.NewLocker(rdb, cfg.Redis.LockTTL.D())

	tags := tagging.NewService(st.tags)
	enrollments := enrollment.NewService(st.enrollments, registry)
	enrollments.SetLocker(locker)
	enrollments.SetMinStepGap(cfg.Automation.MinStepGap.D())
	enrollments.SetBatchSize(cfg.Automation.BatchSize)

	engine := automation.NewEngine(tags, registry, enrollments, routing.NewService(st.resources, st.subjects), st.subjects)

	send, err := buildSender(ctx, cfg.Sender, rdb)
	if err != nil {
		log.Fatalf("Failed to configure sender: %v", err)
	}
	renderer := render.New()
	ledger := outreach.NewLedger(st.tags)

	dispatcher := worker.NewDispatchScheduler(enrollments, registry, st.subjects, send, renderer, ledger)
	dispatcher.SetLocker(locker)
	dispatcher.SetRecorder(st.ticks)
	dispatcher.SetConfig(worker.DispatchConfig{
		Workers:      cfg.Automation.Workers,
		SendTimeout:  cfg.Automation.SendTimeout.D(),
		SoftDeadline: cfg.Automation.SoftDeadline.D(),
	})
	if rdb != nil || db != nil {
		dispatcher.SetTickLock(distlock.NewLock(rdb, db, "tick:"+domain.TickDispatch, cfg.Automation.SoftDeadline.D()+time.Minute))
	}

	var behavioral *worker.BehavioralWorker
	if cfg.Nudges.Enabled {
		evaluator, err := nudge.NewEvaluator(nudgeRules(cfg.Nudges.Rules))
		if err != nil {
			log.Fatalf("Invalid nudge rules: %v", err)
		}
		nudges := nudge.NewService(evaluator, st.activity, ledger, send, renderer)
		nudges.SetChannel(cfg.Nudges.Channel)
		nudges.SetQuietPeriod(cfg.Nudges.QuietPeriod.D())
		nudges.SetSendTimeout(cfg.Automation.SendTimeout.D())

		behavioral = worker.NewBehavioralWorker(nudges)
		behavioral.SetRecorder(st.ticks)
		behavioral.SetConfig(worker.NudgeConfig{
			BatchSize:    cfg.Nudges.BatchSize,
			Workers:      cfg.Automation.Workers,
			SoftDeadline: cfg.Automation.SoftDeadline.D(),
		})
		if rdb != nil || db != nil {
			behavioral.SetTickLock(distlock.NewLock(rdb, db, "tick:"+domain.TickNudge, cfg.Automation.SoftDeadline.D()+time.Minute))
		}
	}

	if cfg.Automation.Enabled {
		go worker.NewLoop("DispatchScheduler", cfg.Automation.DispatchInterval.D(), dispatcher).Start(ctx)
		log.Printf("Dispatch scheduler started (every %s, %d workers)", cfg.Automation.DispatchInterval.D(), cfg.Automation.Workers)
		if behavioral != nil {
			go worker.NewLoop("BehavioralWorker", cfg.Automation.NudgeInterval.D(), behavioral).Start(ctx)
			log.Printf("Behavioral worker started (every %s)", cfg.Automation.NudgeInterval.D())
		}
	} else {
		log.Println("Automation loops disabled; ticks run only via /api/ticks")
	}

	if cfg.Cleanup.Enabled && db != nil {
		cleanup := worker.NewDataCleanupWorker(db, worker.Retention{
			TickRuns:            cfg.Cleanup.TickRuns.D(),
			FinishedEnrollments: cfg.Cleanup.FinishedEnrollments.D(),
			OutreachMarkers:     cfg.Cleanup.OutreachMarkers.D(),
		})
		cleanup.SetInterval(cfg.Cleanup.Interval.D())
		go cleanup.Start(ctx)
		log.Printf("Data Cleanup Worker started (runs every %s)", cfg.Cleanup.Interval.D())
	}

	var nudgeTicker worker.Ticker
	if behavioral != nil {
		nudgeTicker = behavioral
	}
	handlers := api.NewHandlers(engine, enrollments, dispatcher, nudgeTicker, api.NewHealthChecker(db, rdb, st.ticks))
	server := api.NewServer(cfg.Server, handlers)
	go func() {
		log.Printf("Admin API listening on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down lifecycle engine...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Lifecycle engine stopped")
}
