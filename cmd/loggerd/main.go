package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/e7canasta/recorderd/internal/bus"
	"github.com/e7canasta/recorderd/internal/config"
	"github.com/e7canasta/recorderd/internal/recorder"
)

// niceValue matches spec.md §6's "Process priority: nice value -12".
const niceValue = -12

func main() {
	fs := flag.NewFlagSet("loggerd", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	bootlog := fs.Bool("bootlog", false, "write an init+boot record and exit")
	stream := fs.Bool("stream", false, "enable the raw H.264 bitstream publisher")
	onlyStream := fs.Bool("only-stream", false, "enable streaming and disable disk logging")
	debug := fs.Bool("debug", false, "enable debug logging")
	serviceList := fs.String("service-list", "", "path to service_list.yaml (defaults to Runtime.ServiceListPath)")
	parseIgnoringUnknownFlags(fs, os.Args[1:])

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg := config.DefaultRuntime()
	if *serviceList != "" {
		cfg.ServiceListPath = *serviceList
	}

	if err := setNice(niceValue); err != nil {
		slog.Warn("failed to set process priority, continuing at default niceness", "error", err)
	}

	if *bootlog {
		if err := recorder.RunBootlog(cfg); err != nil {
			slog.Error("bootlog failed", "error", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *onlyStream {
		*stream = true
		cfg.DiskLogging = false
	}
	cfg.StreamEnabled = *stream

	entries, err := config.LoadServiceList(cfg.ServiceListPath)
	if err != nil {
		slog.Error("failed to load service list", "error", err)
		os.Exit(1)
	}

	busClient, err := bus.NewMQTTBus(cfg.BusBroker, "recorderd", cfg.BusTopicPrefix)
	if err != nil {
		slog.Error("failed to connect to bus", "error", err)
		os.Exit(1)
	}
	defer busClient.Close()

	rec, err := recorder.New(cfg, entries, busClient)
	if err != nil {
		slog.Error("failed to initialize recorder", "error", err)
		os.Exit(1)
	}
	defer rec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- rec.Run(ctx) }()

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			slog.Error("recorder exited with error", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("recorderd stopped")
}

// parseIgnoringUnknownFlags parses args against fs, dropping any flag the
// set doesn't recognize and retrying, rather than exiting — spec.md §6:
// "Unknown flags: ignored."
func parseIgnoringUnknownFlags(fs *flag.FlagSet, args []string) {
	for {
		err := fs.Parse(args)
		if err == nil {
			return
		}
		msg := err.Error()
		const marker = "flag provided but not defined: "
		idx := strings.Index(msg, marker)
		if idx == -1 {
			return
		}
		bad := msg[idx+len(marker):]
		args = removeArg(args, bad)
	}
}

func removeArg(args []string, bad string) []string {
	out := args[:0:0]
	for _, a := range args {
		name := strings.TrimLeft(a, "-")
		if eq := strings.IndexByte(name, '='); eq != -1 {
			name = name[:eq]
		}
		if name == strings.TrimLeft(bad, "-") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func setNice(n int) error {
	pid := os.Getpid()
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, pid, n); err != nil {
		return fmt.Errorf("setpriority: %w", err)
	}
	return nil
}
