package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/iobot/iobot/internal/bot"
	"github.com/iobot/iobot/internal/config"
	"github.com/iobot/iobot/internal/telemetry"
)

// Version information - set at build time via ldflags
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

const daemonEnv = "IOBOT_DAEMON"

func main() {
	foreground := flag.Bool("x", false, "Run in foreground (don't daemonize)")
	configPath := flag.String("c", "./config.yaml", "Path to configuration file")
	level := flag.String("level", "info", "Log level: debug, info, warn, error")
	showVersion := flag.Bool("v", false, "Show version information and exit")
	showVersionLong := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion || *showVersionLong {
		fmt.Printf("iobot version %s\n", version)
		fmt.Printf("Built: %s\n", buildDate)
		fmt.Printf("Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*level)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -level %q\n", *level)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	if !*foreground && os.Getenv(daemonEnv) != "1" {
		daemonize()
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("iobot exited", slog.Any("err", err))
		os.Exit(1)
	}
}

// daemonize re-executes the binary detached from the terminal and exits.
func daemonize() {
	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		slog.Error("failed to daemonize", slog.Any("err", err))
		os.Exit(1)
	}
	fmt.Printf("Now becoming a daemon\nMy pid is %d\n", cmd.Process.Pid)
	os.Exit(0)
}

func writePIDFile(dir string) error {
	return os.WriteFile(filepath.Join(dir, "pid.txt"), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func run(configPath string) error {
	if !filepath.IsAbs(configPath) {
		wd, _ := os.Getwd()
		configPath = filepath.Join(wd, configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.Tracing, version)
	if err != nil {
		slog.Warn("tracing unavailable", slog.Any("err", err))
	} else {
		if cfg.Tracing.Endpoint != "" {
			slog.Info("exporting spans", slog.String("endpoint", cfg.Tracing.Endpoint), slog.Float64("sample_ratio", cfg.Tracing.SampleRatio))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("flushing spans failed", slog.Any("err", err))
			}
		}()
	}

	b, err := bot.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	if err := writePIDFile(cfg.DataDir); err != nil {
		slog.Warn("could not write PID file", slog.Any("err", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting", slog.String("version", version), slog.Any("servers", cfg.ServerNames()))
	return b.Run(ctx)
}
