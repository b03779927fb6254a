// Command storebot runs the app store bot: a catalog service that syncs
// applications to chat front-ends and moderates submissions through review.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/webxdc/storebot/internal/app/runtime"
	"github.com/webxdc/storebot/internal/config"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "start":
		runStart(os.Args[2:])
	case "import":
		runImport(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: storebot <command> [flags]

commands:
  start    run the bot and its HTTP server
  import   import .xdc bundles from a directory into the catalog
  version  print the version`)
}

func runStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	app, err := runtime.NewApplication(cfg)
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}
	if err := app.Shutdown(context.Background()); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the configuration file")
	dir := fs.String("dir", "import", "directory of .xdc bundles to import")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	app, err := runtime.NewApplication(cfg)
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}
	defer app.Shutdown(context.Background())

	report, err := app.Ingest().ImportDir(context.Background(), app.Store(), *dir)
	if err != nil {
		log.Fatalf("import: %v", err)
	}

	fmt.Printf("added %d, updated %d, ignored %d, failed %d\n",
		len(report.Added), len(report.Updated), len(report.Ignored), len(report.Failed))
	for path, ferr := range report.Failed {
		fmt.Printf("  failed %s: %v\n", path, ferr)
	}
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}
