// Command ojs-worker performs the demo tasks from the configured broker and
// reports a consume, perform and handle span for every job.
package main

import (
	"flag"
	"log"

	"go.uber.org/fx"

	"github.com/openjobspec/ojs-otel-go/internal/app"
	"github.com/openjobspec/ojs-otel-go/internal/config"
)

var configPath = flag.String("config", "", "path to the YAML config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := cfg.App.NewLogger()
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	fx.New(
		app.Options(cfg, logger),
		fx.Provide(app.NewWorker),
		fx.Invoke(app.RunWorker),
	).Run()
}
