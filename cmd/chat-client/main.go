package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirides/chat-relay/client"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	addr  = flag.String("addr", "127.0.0.1:8080", "relay address to connect to")
	name  = flag.String("name", "", "name to announce; when empty the first typed line is used")
	debug = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	level := zap.InfoLevel
	if *debug {
		level = zap.DebugLevel
	}
	zapCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(os.Stderr),
		zap.NewAtomicLevelAt(level))
	logger := zap.New(zapCore)
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", *addr)
	if err != nil {
		logger.Error("failed to connect", zap.String("addr", *addr), zap.Error(err))
		return err
	}
	defer conn.Close()
	logger.Info("connected", zap.String("addr", *addr))

	if err := client.Run(ctx, conn, *name, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("connection ended", zap.Error(err))
		return err
	}
	return nil
}
