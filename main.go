package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitwise74/media-api/app"
	"bitwise74/media-api/config"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/jobs"
	"bitwise74/media-api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"

	shutdownTimeout = 30 * time.Second
)

func main() {
	gin.SetMode(gin.ReleaseMode)
	makeLogger("info")

	cfg, err := config.Setup()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	makeLogger(cfg.App.LogLevel)
	defer zap.L().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := internal.New(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer func() {
		if err := d.Close(); err != nil {
			zap.L().Warn("Errors while closing dependencies", zap.Error(err))
		}
	}()

	var wg conc.WaitGroup

	if cfg.Mode != "api" {
		if err := runWorker(ctx, d, &wg); err != nil {
			zap.L().Error("Failed to start worker", zap.Error(err))
			stop()
		}
	}

	if cfg.Mode != "worker" {
		runAPI(ctx, stop, d, &wg)
	}

	// Requeues lost jobs and retries failed CDN purges
	wg.Go(func() {
		service.Sweep(ctx, cfg.Queue.SweepEvery, cfg.Queue.StaleAfter, d.Orchestrator, d.Gateway)
	})

	zap.L().Info("Started", zap.String("mode", cfg.Mode))

	wg.Wait()
	zap.L().Info("Stopped")
}

func runWorker(ctx context.Context, d *internal.Deps, wg *conc.WaitGroup) error {
	d.FFmpeg.StartWorkerPool()

	srv, mux := jobs.NewServer(internal.RedisOpt(d.Config), d.Config.Queue, d.Orchestrator)
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start task server, %w", err)
	}

	wg.Go(func() {
		<-ctx.Done()
		srv.Shutdown()
		zap.L().Info("Task server stopped")
	})

	return nil
}

func runAPI(ctx context.Context, stop context.CancelFunc, d *internal.Deps, wg *conc.WaitGroup) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", d.Config.Host.Port),
		Handler:           app.NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Go(func() {
		zap.L().Info("Server starting", zap.String("addr", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Server failed", zap.Error(err))
			stop()
		}
	})

	wg.Go(func() {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			zap.L().Warn("Server shutdown timed out", zap.Error(err))
		}
	})
}

func makeLogger(level string) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + t.Format("15:04:05.000") + reset)
	}
	cfg.EncoderConfig.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + ec.TrimmedPath() + reset)
	}

	cfg.DisableStacktrace = true

	log, _ := cfg.Build()
	zap.ReplaceGlobals(log)
}
