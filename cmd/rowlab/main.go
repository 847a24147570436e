package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"

	"rowlab/internal/app"

	_ "rowlab/internal/store/mssql"
	_ "rowlab/internal/store/postgres"
	_ "rowlab/internal/store/sqlite"
)

func main() {
	var (
		cfgPath string
		op      string
	)
	flag.StringVar(&cfgPath, "config", "", "path to workbench config JSON")
	flag.StringVar(&op, "op", "", "operation: import, filter, stats, extremes, resample, export")
	flag.Parse()

	if cfgPath == "" || op == "" {
		fmt.Fprintln(os.Stderr, "usage: rowlab -config path/to/workbench.json -op import")
		os.Exit(2)
	}

	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}

	var cfg app.Pipeline
	if err := json.Unmarshal(raw, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := app.NewDefaultRunner()
	if err := r.Run(ctx, cfg, op); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}
}
