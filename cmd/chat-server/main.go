package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chat "github.com/kirides/chat-relay"
	"github.com/kirides/chat-relay/server"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-metrics"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	appName        = "chat-server"
	configFileName = appName + ".json"
	logKeyCategory = "category"
)

func main() {
	configPath := flag.String("config", configFileName, "path to the JSON config file, created with defaults if missing")
	flag.Parse()

	level := &slog.LevelVar{}

	cnf, cnfErr := readAndUpdateConfig(*configPath)

	logFile := &lumberjack.Logger{
		Filename: cnf.Log.File,
		MaxAge:   cnf.Log.MaxAgeDays,
		MaxSize:  cnf.Log.MaxSizeMB,
	}
	defer logFile.Close()

	slogHandler := slog.NewTextHandler(io.MultiWriter(os.Stdout, logFile), &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(slogHandler)
	slog.SetDefault(logger)

	defer os.Stdout.Sync()

	if cnfErr != nil {
		logger.Error("Error reading config", slog.Any("err", cnfErr))
		return
	}
	applyDebug(level, cnf.Debug)

	appCtx, appCtxCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer appCtxCancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("failed to setup fsnotify to support config hot-reloading", slog.Any("err", err))
	} else {
		defer watcher.Close()
		err := watchForConfigChanges(appCtx, watcher, *configPath, logger.With(logKeyCategory, "config"), func(c config) {
			applyDebug(level, c.Debug)
		})
		if err != nil {
			logger.Error("failed to watch for config changes", slog.Any("err", err))
		}
	}

	inm := metrics.NewInmemSink(10*time.Second, time.Minute)

	services := chat.NewSupervisor(logger)
	broker, events, err := chat.NewBroker(
		chat.WithLog(slogHandler),
		chat.WithMetricSink(inm),
		chat.WithSupervisor(services),
	)
	if err != nil {
		logger.Error("Could not create broker", slog.Any("err", err))
		return
	}

	brokerDone := make(chan struct{})
	services.Go("broker", func() error {
		defer close(brokerDone)
		return broker.Run()
	})

	opts := server.Options{
		Logger:         logger,
		Tasks:          services,
		AcceptLimit:    cnf.Accept.limiter(),
		MaxLineBytes:   cnf.MaxLineBytes,
		OriginPatterns: cnf.HTTP.OriginPatterns,
	}

	ln, err := net.Listen("tcp", cnf.Listen)
	if err != nil {
		logger.Error("Could not setup tcp listener", slog.Any("err", err))
		events.Close()
		<-brokerDone
		return
	}
	tcpEvents := events.Clone()
	services.Go("tcp listener", func() error {
		return server.Serve(appCtx, ln, tcpEvents, opts)
	})

	if cnf.Pipe.Enabled {
		ps, err := server.ListenPipe(cnf.Pipe.Path)
		if err != nil {
			logger.Error("Could not setup pipe listener", slog.Any("err", err))
		} else {
			pipeEvents := events.Clone()
			services.Go("pipe listener", func() error {
				return server.Serve(appCtx, ps, pipeEvents, opts)
			})
		}
	}

	var (
		httpSrv *http.Server
		gateway *server.Gateway
	)
	if cnf.HTTP.Enabled {
		if !cnf.Debug {
			gin.SetMode(gin.ReleaseMode)
		}
		if cnf.HTTP.WebSocket {
			gateway = server.NewGateway(appCtx, events.Clone(), opts)
		}
		httpSrv = &http.Server{
			Addr: cnf.HTTP.Listen,
			Handler: server.NewRouter(server.Deps{
				Broker:  broker,
				Tasks:   services,
				Metrics: inm,
				Gateway: gateway,
				Logger:  logger,
			}),
		}
		services.Go("http", func() error {
			logger.Info("serving admin http", slog.String("addr", cnf.HTTP.Listen))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// Every listener holds its own handle now. Once they and their readers
	// are done the broker drains its writers and returns.
	events.Close()

	<-appCtx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cnf.shutdownTimeout())
	defer cancel()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", slog.Any("err", err))
		}
	}
	if gateway != nil {
		gateway.Close()
	}

	select {
	case <-brokerDone:
	case <-shutdownCtx.Done():
		logger.Warn("broker did not stop in time")
	}
	if err := services.Wait(shutdownCtx); err != nil {
		logger.Warn("some tasks did not stop in time", slog.Any("tasks", services.Running()))
	}
}

func applyDebug(level *slog.LevelVar, debug bool) {
	if debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}
