package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	xhttp "PCRPull/pkg/http"
	pkgkafka "PCRPull/pkg/kafka"
	applogger "PCRPull/pkg/logger"
)

// App encapsulates the entire application lifecycle: the HTTP API and,
// when configured, the Kafka snapshot consumer.
type App struct {
	l          *applogger.Logger
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
}

// New creates a new App instance. consumer may be nil.
func New(l *applogger.Logger, httpServer *xhttp.Server, consumer *pkgkafka.Consumer, kh pkgkafka.MessageHandler) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		l:          l,
		httpServer: httpServer,
		consumer:   consumer,
		kh:         kh,
	}
}

// Run starts the application and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the application and blocks until ctx is done, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	if a.httpServer == nil {
		return errors.New("http server is not configured")
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.l.Error("kafka consumer start error", applogger.Error(err))
			return err
		}
		a.l.Info("kafka ingest enabled", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops intake first so no write is accepted after the store goes away.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.httpServer.ShutdownTimeout())
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
