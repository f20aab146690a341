// Command sendfile is the sending half of the file transfer protocol: it
// opens a local file, dials a receiver over UDP, and transmits the file's
// bytes reliably over an unreliable datagram channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/relaywire/filexfer/internal/config"
	"github.com/relaywire/filexfer/internal/fec"
	"github.com/relaywire/filexfer/internal/metrics"
	"github.com/relaywire/filexfer/internal/session"
	"github.com/relaywire/filexfer/internal/tracing"
	"github.com/relaywire/filexfer/internal/transport"
	"github.com/relaywire/filexfer/internal/xferr"
)

var (
	remote     = flag.String("r", "", "receiver address, host:port (required)")
	path       = flag.String("f", "", "path to the file to send (required)")
	configFile = flag.String("c", "", "path to a YAML config file (optional)")
	quiet      = flag.Bool("q", false, "suppress the progress bar")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	err := do()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sendfile:", err)
	}
	return xferr.ExitCode(err)
}

func do() error {
	if *remote == "" {
		return xferr.Wrap(xferr.BadArgument, fmt.Errorf("-r is required"))
	}
	if *path == "" {
		return xferr.Wrap(xferr.BadArgument, fmt.Errorf("-f is required"))
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
		return fmt.Errorf("sendfile: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	m := metrics.New("sender")
	if cfg.Metrics.Enable {
		srv := m.Serve(cfg.Metrics.Addr, cfg.Metrics.Path)
		defer srv.Shutdown(context.Background())
		logger.Info("metrics endpoint active", zap.String("addr", cfg.Metrics.Addr), zap.String("path", cfg.Metrics.Path))
	}

	conn, err := transport.Dial(*remote)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Info("sending", zap.String("file", *path), zap.String("to", *remote))

	sendCfg := session.SenderConfig{
		InitialWindow:     uint32(cfg.Window.InitialSize),
		CongestionEnabled: cfg.Congestion.Enable,
		WMax:              uint32(cfg.Window.WMax),
		RTOMin:            cfg.Window.RTOMin,
		RTOMax:            cfg.Window.RTOMax,
	}
	if cfg.FEC.Enable {
		sendCfg.FEC = &fec.Config{GroupSize: cfg.FEC.GroupSize, ParityShards: cfg.FEC.ParityShards}
	}
	if !*quiet {
		if info, statErr := os.Stat(*path); statErr == nil {
			bar := progressbar.DefaultBytes(info.Size(), "sending")
			sendCfg.Progress = bar
		}
	}

	s, err := session.NewSender(conn, *path, sendCfg, logger, tracer, m)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return s.Run(ctx)
}

// signalContext returns a context canceled on SIGINT/SIGTERM. The sender's
// event loop already polls at a bounded interval, so it notices cancellation
// promptly without needing the socket closed out from under it.
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
