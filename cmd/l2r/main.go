package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bdobrica/l2r/common/version"
	"github.com/bdobrica/l2r/internal/l2r/app"
	"github.com/bdobrica/l2r/internal/l2r/config"
	"github.com/bdobrica/l2r/internal/l2r/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("L2R_CONFIG"), "path to the YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	fmt.Printf("l2r %s\n", version.Info())
	if *showVersion {
		return
	}

	// Variables already set in the environment win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	observability.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l2r, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize l2r: %v\n", err)
		os.Exit(1)
	}

	if err := l2r.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running l2r: %v\n", err)
		os.Exit(1)
	}
}
