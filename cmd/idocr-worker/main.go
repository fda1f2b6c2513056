// Command idocr-worker consumes extraction jobs from Redis and serves a
// gRPC health endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idcard-ocr/internal/app"
	"idcard-ocr/internal/config"
	"idcard-ocr/internal/logging"
	"idcard-ocr/internal/queue"
	"idcard-ocr/internal/server"
	"idcard-ocr/internal/version"
)

var (
	flagConnectors = flag.String("connectors", "", "JSON file with connector definitions")
	flagWatch      = flag.Duration("watch", 10*time.Second, "Poll interval for template file changes (0 disables)")
	flagVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *flagVersion {
		fmt.Println("idocr-worker", version.String())
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logging.New("worker")
	log.Info().Str("version", version.Version).Str("commit", version.GitCommit).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{ConnectorsFile: *flagConnectors, Storage: true}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if *flagWatch > 0 {
		if _, builtin := a.Templates.Lookup(cfg.Template); !builtin {
			w, err := app.NewWatcher(cfg.Template, *flagWatch)
			if err != nil {
				return err
			}
			w.OnChange(func() {
				if err := a.ReloadTemplate(w.Path()); err != nil {
					log.Error().Err(err).Str("path", w.Path()).Msg("template reload failed, keeping the previous one")
				}
			})
			w.Start()
			defer w.Stop()
		}
	}

	health := server.New(cfg.GRPCAddr, logging.New("grpc"))
	if err := health.Listen(); err != nil {
		return err
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- health.Start() }()
	defer health.Stop()

	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.Queue,
		Concurrency: cfg.WorkerConcurrency,
		Handler:     queue.NewHandler(a, cfg.ProcessingTimeout, logging.New("queue")),
	}, logging.New("queue"))
	if err != nil {
		return err
	}
	if err := consumer.Start(); err != nil {
		return err
	}
	health.SetServing(true)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-serveErr:
		log.Error().Err(err).Msg("grpc server stopped")
	}

	health.SetServing(false)
	consumer.Stop()
	return nil
}
