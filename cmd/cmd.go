package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/lacrosse-integration/internal/pkg/accessory"
	"github.com/anicoll/lacrosse-integration/internal/pkg/config"
	"github.com/anicoll/lacrosse-integration/internal/pkg/database"
	"github.com/anicoll/lacrosse-integration/internal/pkg/database/migration"
	"github.com/anicoll/lacrosse-integration/internal/pkg/lacrosse"
	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
	"github.com/anicoll/lacrosse-integration/internal/pkg/mqtt"
	"github.com/anicoll/lacrosse-integration/internal/pkg/publisher"
	"github.com/anicoll/lacrosse-integration/internal/pkg/refresh"
	"github.com/anicoll/lacrosse-integration/internal/pkg/server"
	"github.com/anicoll/lacrosse-integration/internal/pkg/stream"
)

const cleanupSchedule = "0 3 * * *"

var errCron = errors.New("cron error")

func LacrosseCommand(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("env-file"))
	if err != nil {
		return err
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	return run(ctx.Context, cfg)
}

func newLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = lvl
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	errorChan := make(chan error, 100)
	eg, ctx := errgroup.WithContext(ctx)

	pub := publisher.New()
	hub := stream.NewHub()
	if err := pub.RegisterPublisher("stream", hub); err != nil {
		return err
	}

	var store historyStore
	if cfg.DatabaseCfg.Enabled() {
		if err := migration.Migrate(cfg.DatabaseCfg.URL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		db, err := database.NewDatabase(ctx, cfg.DatabaseCfg.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := pub.RegisterPublisher("postgres", db); err != nil {
			return err
		}
		store = db
	}

	var subscriber refreshSubscriber
	if cfg.MqttCfg.Enabled() {
		mq := mqtt.Dial(&cfg.MqttCfg)
		if err := mq.Connect(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer mq.Disconnect()
		if err := pub.RegisterPublisher("mqtt", mq); err != nil {
			return err
		}
		subscriber = mq
	}

	client, err := lacrosse.New(&cfg.LacrosseCfg)
	if err != nil {
		return err
	}
	coord := refresh.New[*accessory.Accessory](ctx, client, cfg.LacrosseCfg.CacheTTL, cfg.LacrosseCfg.NoResponse)
	defer coord.Wait()

	devices, err := populate(ctx, coord, func(d model.DeviceConfig) *accessory.Accessory {
		return accessory.New(d, coord, pub)
	}, cfg.LacrosseCfg.PollInterval)
	if err != nil {
		return err
	}
	if err := pub.PublishInitialDevices(ctx, devices); err != nil {
		return err
	}

	if subscriber != nil {
		if err := subscriber.SubscribeRefresh(func(slug string) {
			refreshBySlug(coord, slug)
		}); err != nil {
			return err
		}
	}

	eg.Go(func() error {
		return runCron(ctx, cfg, coord, store, errorChan)
	})

	srv := &http.Server{
		Handler:      server.New(coord, store, hub).Handler(),
		Addr:         cfg.HTTPAddr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	eg.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		// handle any async errors from the scheduled jobs
		for {
			select {
			case err := <-errorChan:
				logger.Error("async error", zap.Error(err))
			case <-ctx.Done():
				logger.Info("context done")
				return ctx.Err()
			}
		}
	})

	return eg.Wait()
}

// populate registers the fleet, retrying every interval until the upstream
// answers or ctx is done.
func populate(ctx context.Context, p populator, build func(model.DeviceConfig) *accessory.Accessory, interval time.Duration) ([]model.DeviceConfig, error) {
	for {
		devices, err := p.Populate(ctx, build)
		if err == nil {
			zap.L().Info("devices populated", zap.Int("count", len(devices)))
			return devices, nil
		}
		zap.L().Error("failed to get devices", zap.Error(err), zap.Duration("retry_in", interval))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func runCron(ctx context.Context, cfg *config.Config, r refresher, c cleaner, errChan chan<- error) error {
	sched := cron.New()
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", cfg.LacrosseCfg.PollInterval), pollJob(ctx, r)); err != nil {
		return err
	}
	if c != nil {
		if _, err := sched.AddFunc(cleanupSchedule, cleanupJob(ctx, c, cfg.DatabaseCfg.Retention, errChan)); err != nil {
			return err
		}
	}
	sched.Start()
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}

func pollJob(ctx context.Context, r refresher) func() {
	return func() {
		if r.Refresh(ctx, "poll") {
			zap.L().Debug("poll refreshed devices")
		}
	}
}

func cleanupJob(ctx context.Context, c cleaner, retention time.Duration, errChan chan<- error) func() {
	return func() {
		deleted, err := c.Cleanup(ctx, retention)
		if err != nil {
			zap.L().Error("error cleaning up database", zap.Error(err))
			select {
			case errChan <- fmt.Errorf("%w: %w", errCron, err):
			default:
			}
			return
		}
		zap.L().Info("cleaned up history", zap.Int64("deleted", deleted))
	}
}

// refreshBySlug handles a refresh command for the device with the given slug.
func refreshBySlug(r refresher, slug string) {
	for _, a := range r.Accessories() {
		if a.Slug() == slug {
			r.RequestRefresh(fmt.Sprintf("%s: mqtt", a.Name()))
			return
		}
	}
	zap.L().Warn("refresh requested for unknown device", zap.String("slug", slug))
}
