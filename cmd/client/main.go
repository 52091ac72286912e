package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/iudanet/growlog/internal/client/api"
	"github.com/iudanet/growlog/internal/client/auth"
	"github.com/iudanet/growlog/internal/client/cli"
	"github.com/iudanet/growlog/internal/client/data"
	"github.com/iudanet/growlog/internal/client/iocli"
	"github.com/iudanet/growlog/internal/client/outbox"
	"github.com/iudanet/growlog/internal/client/storage/boltdb"
	"github.com/iudanet/growlog/internal/client/sync"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Глобальные флаги
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	dbPath := flag.String("db", "growlog-client.db", "Path to local database")
	verbose := flag.Bool("v", false, "Enable debug logging")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	args := flag.Args()
	command := ""
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	ctx := context.Background()

	// Локальный store: записи, outbox, метаданные, сессия
	boltStorage, err := boltdb.New(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	apiClient := api.New(*serverURL)

	outboxSvc := outbox.New(boltStorage, logger)
	syncSvc := sync.New(apiClient, boltStorage, outboxSvc, boltStorage, logger)
	authSvc := auth.New(apiClient, boltStorage, syncSvc, logger)
	dataSvc := data.New(boltStorage, logger)

	// Восстанавливаем сохранённую сессию, если она есть
	if _, err := authSvc.Restore(ctx); err != nil {
		logger.Debug("no session restored", "error", err)
	}

	app := cli.New(iocli.NewStdio(), authSvc, dataSvc, syncSvc, outboxSvc, boltStorage)

	if err := app.Run(ctx, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("Growlog Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
