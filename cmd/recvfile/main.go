// Command recvfile is the receiving half of the file transfer protocol: it
// listens on a UDP port, accepts one transfer, and writes the result to a
// derived local filename.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relaywire/filexfer/internal/config"
	"github.com/relaywire/filexfer/internal/fec"
	"github.com/relaywire/filexfer/internal/metrics"
	"github.com/relaywire/filexfer/internal/session"
	"github.com/relaywire/filexfer/internal/tracing"
	"github.com/relaywire/filexfer/internal/transport"
	"github.com/relaywire/filexfer/internal/xferr"
)

const (
	minPort = 18000
	maxPort = 18200
)

var (
	port       = flag.Int("p", 0, "UDP port to listen on (required, 18000-18200)")
	configFile = flag.String("c", "", "path to a YAML config file (optional)")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	err := do()
	if err != nil {
		fmt.Fprintln(os.Stderr, "recvfile:", err)
	}
	return xferr.ExitCode(err)
}

func do() error {
	if *port < minPort || *port > maxPort {
		return xferr.Wrap(xferr.BadArgument, fmt.Errorf("-p %d out of range [%d, %d]", *port, minPort, maxPort))
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return xferr.Wrap(xferr.BadArgument, err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return xferr.Wrap(xferr.LocalIO, fmt.Errorf("build logger: %w", err))
	}
	defer logger.Sync()

	tracer, err := tracing.New(cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("recvfile: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	m := metrics.New("receiver")
	if cfg.Metrics.Enable {
		srv := m.Serve(cfg.Metrics.Addr, cfg.Metrics.Path)
		defer srv.Shutdown(context.Background())
		logger.Info("metrics endpoint active", zap.String("addr", cfg.Metrics.Addr), zap.String("path", cfg.Metrics.Path))
	}

	conn, err := transport.Listen(*port)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Info("listening", zap.Int("port", *port))

	recvCfg := session.ReceiverConfig{Window: uint32(cfg.Window.InitialSize)}
	if cfg.FEC.Enable {
		recvCfg.FEC = &fec.Config{GroupSize: cfg.FEC.GroupSize, ParityShards: cfg.FEC.ParityShards}
	}

	r, err := session.NewReceiver(conn, recvCfg, logger, tracer, m)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	// The receiver blocks indefinitely inside Recv while awaiting START; a
	// signal unblocks it by closing the socket rather than via ctx directly.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return r.Run(ctx)
}

// signalContext returns a context canceled on SIGINT/SIGTERM, so a session
// blocked indefinitely awaiting START can still be interrupted cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg.Level = level
	return zcfg.Build()
}
