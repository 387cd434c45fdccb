// Command agentd runs the HDSP agent orchestration server.
//
// Usage:
//
//	agentd serve --config config.yaml
//	agentd serve --port 8088 --log-level debug
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/lks21c/hdsp-agent/pkg/config"
	"github.com/lks21c/hdsp-agent/pkg/server"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" default:"1" help:"Start the agent server."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("hdsp-agent version %s\n", version())
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host  string `help:"Host to bind (overrides config)."`
	Port  int    `help:"Port to listen on (overrides config)."`
	Watch bool   `help:"Watch the config file and hot-reload on changes." default:"true" negatable:""`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	var opts []server.Option
	opts = append(opts, server.WithVersion(version()))
	if cli.Config != "" {
		opts = append(opts, server.WithConfigPath(cli.Config))
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		return err
	}

	if c.Watch && cli.Config != "" {
		if err := watchConfig(ctx, cli.Config, srv); err != nil {
			slog.Warn("Config watching disabled", "error", err)
		}
	}

	slog.Info("HDSP agent server ready",
		"address", cfg.Server.Address(),
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model)

	return srv.Start(ctx)
}

// watchConfig applies config file changes to the running server.
func watchConfig(ctx context.Context, path string, srv *server.Server) error {
	watcher, err := config.NewWatcher(path)
	if err != nil {
		return err
	}
	changes, err := watcher.Watch(ctx)
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()
		for cfg := range changes {
			if err := srv.ApplyConfig(cfg); err != nil {
				slog.Error("Failed to apply config change", "error", err)
			}
		}
	}()
	return nil
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

func setupLogger(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentd"),
		kong.Description("HDSP agent orchestration server"),
		kong.UsageOnError(),
	)

	setupLogger(cli.LogLevel)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
