package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bedrock-relay/internal/adapter/gateway"
	"bedrock-relay/internal/adapter/llm"
	"bedrock-relay/internal/infra/config"
	"bedrock-relay/internal/infra/logger"
	"bedrock-relay/internal/infra/tracer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "doctor":
			if err := runDoctor(); err != nil {
				fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
				os.Exit(1)
			}
			return
		case "encrypt":
			if err := runEncrypt(os.Stdout, os.Args[2:], os.Getenv("RELAY_CONFIG_KEY")); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if !strings.HasPrefix(os.Args[1], "-") {
			fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'relay --help' for usage information.\n", os.Args[1])
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`relay - streaming HTTP relay for Amazon Bedrock

USAGE:
    relay [COMMAND] [FLAGS]

COMMANDS:
    doctor      Check configuration and AWS credentials
    encrypt     Encrypt a secret for config.yaml (needs RELAY_CONFIG_KEY)

    (no command) - Serve /health and /generate

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional; defaults apply when missing)
    Environment: RELAY_* variables override config
                 ACCESS_KEY / SECRET_KEY / AWS_REGION are also honoured
                 RELAY_CONFIG_KEY decrypts "enc:" values in the aws section`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("RELAY_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// runEncrypt prints an "enc:" value that config.Load decrypts at startup.
func runEncrypt(w io.Writer, args []string, passphrase string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: relay encrypt <value>")
	}
	if passphrase == "" {
		return fmt.Errorf("RELAY_CONFIG_KEY must be set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "enc:%s\n", enc)
	return nil
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Upstream
	clients := llm.NewClients(cfg.AWS, log)
	defer clients.Close()

	registry, err := llm.NewDefaultRegistry(cfg, clients, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	gen, err := registry.Get(cfg.Generation.Strategy)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 4. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 5. Gateway
	srv := gateway.NewServer(ctx, cfg.Server, gateway.Deps{
		Generator: gen,
		Models:    llm.NewCatalog(cfg.Models),
	}, log)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	log.Info("relay starting",
		"addr", srv.BoundAddr(),
		"strategy", gen.Name(),
		"strategies", registry.List(),
		"region", cfg.AWS.Region,
		"stream_format", cfg.Server.StreamFormat,
		"rate_limit", cfg.Server.RateLimit.Enabled,
		"circuit_breaker", cfg.Generation.CircuitBreaker.Enabled,
	)

	<-ctx.Done()
	log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("gateway shutdown error", "error", err)
	}
	return nil
}
