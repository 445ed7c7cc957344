// Command kiosk is the kiosk attendance engine's process entrypoint: it
// wires the directory, record store, settings source, location picker,
// outcome bus, engine, intake adapters, and the ambient HTTP surface
// together, then serves until told to stop.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/attendo/kiosk-engine/internal/boundary"
	"github.com/attendo/kiosk-engine/internal/clock"
	"github.com/attendo/kiosk-engine/internal/config"
	"github.com/attendo/kiosk-engine/internal/directory"
	"github.com/attendo/kiosk-engine/internal/engine"
	"github.com/attendo/kiosk-engine/internal/groupbuffer"
	"github.com/attendo/kiosk-engine/internal/health"
	"github.com/attendo/kiosk-engine/internal/httpapi"
	"github.com/attendo/kiosk-engine/internal/location"
	"github.com/attendo/kiosk-engine/internal/metrics"
	"github.com/attendo/kiosk-engine/internal/outcome"
	"github.com/attendo/kiosk-engine/internal/settings"
	"github.com/attendo/kiosk-engine/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("kiosk: no .env file found, continuing with process environment")
	}
	cfg := config.Get()

	healthRecorder := health.NewRecorder()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	dir := buildDirectory(cfg, redisClient)
	recordStore := buildStore(cfg)
	settingsSource := buildSettingsSource(cfg, redisClient)

	watcher := settings.NewWatcher(settingsSource, time.Duration(cfg.Shift.RefreshIntervalSec)*time.Second)
	watcher.Health = healthRecorder

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	go watcher.Run(shutdownCtx)

	// The location picker assumes a geocoding client is out of scope for
	// this deployment; a single fixed site is the production default for
	// a single-kiosk installation.
	picker := location.NewManualPicker(store.Location{Name: cfg.Server.Env + "-site"})

	bus := buildOutcomeBus(cfg, redisClient)
	defer bus.Close()

	buf := groupbuffer.New()
	eng := engine.New(dir, recordStore, watcher, picker, bus, buf, clock.SystemClock{})
	eng.Health = healthRecorder

	m := metrics.New()
	unsubMetrics := bus.Subscribe(func(_ context.Context, o *outcome.Outcome) error {
		m.Observe(o)
		return nil
	})
	defer unsubMetrics()

	manual := newManualAdapter(eng)

	server := httpapi.NewServer(bus, healthRecorder, manual, cfg.Server.AllowedOrigins)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("kiosk: shutdown signal received")
		shutdownCancel()

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("kiosk: http server shutdown error", "error", err)
		}
	}()

	slog.Info("kiosk: listening", "port", cfg.Server.Port, "env", cfg.Server.Env)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("kiosk: server failed: %v", err)
	}
	slog.Info("kiosk: stopped")
}

// emptyDirectory is the fallback when no database is configured: every
// lookup reports subject_not_found rather than panicking on a nil driver.
type emptyDirectory struct{}

func (emptyDirectory) Lookup(ctx context.Context, subjectID string) (*directory.Subject, error) {
	return nil, directory.ErrNotFound
}

func (emptyDirectory) AllWithEmbeddings(ctx context.Context) ([]*directory.Subject, error) {
	return nil, nil
}

func buildDirectory(cfg *config.Config, redisClient *redis.Client) directory.Directory {
	if cfg.Database.DSN == "" {
		slog.Warn("kiosk: no database DSN configured, directory has no enrolled subjects")
		return emptyDirectory{}
	}
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		slog.Error("kiosk: failed to open database, directory has no enrolled subjects", "error", err)
		return emptyDirectory{}
	}
	base := directory.Directory(directory.NewPostgresDirectory(db))
	if redisClient != nil {
		cache := &directory.RedisCache{Client: redisClient}
		base = directory.NewCachedDirectory(base, cache, 5*time.Minute)
	}
	return base
}

func buildStore(cfg *config.Config) store.Store {
	if cfg.Database.DSN == "" {
		slog.Warn("kiosk: no database DSN configured, attendance records are in-memory only")
		return store.NewMemory()
	}
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		slog.Error("kiosk: failed to open database, falling back to in-memory store", "error", err)
		return store.NewMemory()
	}
	return store.NewBatchedStore(store.NewPostgresStore(db), nil)
}

func buildSettingsSource(cfg *config.Config, redisClient *redis.Client) settings.Source {
	if redisClient == nil {
		slog.Warn("kiosk: redis disabled, shift settings come from config.yaml only")
		return staticSource{shift: cfg.Shift.ToShift()}
	}
	return settings.NewRedisSource(&settings.RedisClientAdapter{Client: redisClient}, "kiosk:settings")
}

type staticSource struct{ shift settings.Shift }

func (s staticSource) Read(ctx context.Context) (settings.Shift, error) { return s.shift, nil }

func buildOutcomeBus(cfg *config.Config, redisClient *redis.Client) outcome.Bus {
	if redisClient == nil {
		return outcome.NewLocalBus()
	}
	return outcome.NewRedisBus(outcome.RedisClientAdapter{Client: redisClient}, "kiosk:outcomes")
}

// manualAdapter is the one intake path that needs no device: the kiosk
// screen's typed-id fallback. Its Submit method is invoked by whatever
// handler the deployment wires to the "type your ID" UI affordance.
//
// Concrete camera frame acquisition and code-scanner hardware drivers are
// out of scope here: wiring a CameraAdapter/ScannerAdapter requires a
// deployment-specific recognizer.Embedder/Matcher pair and scanner code
// channel, which this entrypoint has no way to manufacture on its own.
func newManualAdapter(eng *engine.Engine) *boundary.ManualAdapter {
	slog.Warn("kiosk: camera and code-scanner intake require a device-specific Embedder/Matcher/scanner channel, not started")
	return boundary.NewManualAdapter(eng)
}
