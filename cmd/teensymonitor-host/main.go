package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	teensymonitor "github.com/amalcolm/TeensyMonitor"
	"github.com/amalcolm/TeensyMonitor/frame"
	"github.com/amalcolm/TeensyMonitor/internal/discovery"
	"github.com/amalcolm/TeensyMonitor/internal/dispatch"
	"github.com/amalcolm/TeensyMonitor/internal/logging"
)

func main() {
	var (
		port    = flag.String("port", "", "Serial port device node (auto-detected if empty)")
		baud    = flag.Int("baud", 0, "Baud rate (default: device line rate)")
		version = flag.String("version", "1.0", "Host version string sent during the handshake")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	portName := *port
	if portName == "" {
		ports := discovery.Ports(logger)
		if len(ports) == 0 {
			logger.Error("no matching serial ports found")
			os.Exit(1)
		}
		portName = ports[0]
		logger.Info("auto-detected port", "port", portName, "candidates", ports)
	}

	opts := teensymonitor.DefaultOptions(printSample(logger))
	if *baud != 0 {
		opts.Baud = *baud
	}
	opts.Version = *version
	opts.Logger = logger
	opts.LoopMS = func(v int32) { logger.Info("device reported LOOP_MS", "loop_ms", v) }
	opts.OnError = func(e *teensymonitor.Error) {
		logger.Warn("device reported error", "kind", e.Kind, "op", e.Op, "msg", e.Msg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev, err := teensymonitor.Open(ctx, portName, opts)
	if err != nil {
		logger.Error("failed to open device", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing device")
		if err := dev.Close(); err != nil {
			logger.Error("error closing device", "error", err)
		}
	}()

	fmt.Printf("Opened %s\n", portName)
	fmt.Printf("Press Ctrl+C to stop...\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()
}

// printSample returns a dispatch.Consumer that logs one line per sample.
func printSample(logger *logging.Logger) dispatch.Consumer {
	return func(s *dispatch.Sample) {
		defer s.Release()
		switch s.Kind {
		case frame.Data:
			logger.Debug("data sample", "timestamp", s.Data.Timestamp, "seq", s.Data.SequenceNumber)
		case frame.Block:
			logger.Debug("block sample", "timestamp", s.Block.Timestamp, "items", len(s.Block.Items), "events", len(s.Block.Events))
		case frame.Telemetry:
			logger.Debug("telemetry sample", "key", s.Telemetry.Key, "value", s.Telemetry.Value)
		case frame.Text:
			logger.Debug("text line", "text", s.Text.Text)
		}
	}
}
