// Lightweight image server
//
// Serves the images of one dynamically-selectable directory over HTTP.
// A loaded directory unloads itself after a configurable idle timeout,
// or on demand via POST /unload.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sly67/imageserve/internal/api"
	"github.com/sly67/imageserve/internal/config"
	"github.com/sly67/imageserve/internal/events"
	"github.com/sly67/imageserve/internal/logging"
	"github.com/sly67/imageserve/internal/metrics"
	"github.com/sly67/imageserve/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("image server starting...",
		zap.String("listen", cfg.ListenAddr()),
		zap.String("metrics", cfg.MetricsAddr),
		zap.Int("timeout_minutes", cfg.TimeoutMinutes))

	broadcaster := events.NewBroadcaster()
	sess := session.New(cfg.TimeoutMinutes, broadcaster)
	srv := api.NewServer(sess, broadcaster)

	// Metrics server on its own listener
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv.Handler(),
	}

	// Graceful shutdown. Pending unload timers are abandoned: session
	// state does not survive a restart anyway.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("image server listening", zap.String("addr", cfg.ListenAddr()))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
