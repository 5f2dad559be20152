package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"github.com/olumide-dev/brainpipe/internal/app"
	"github.com/olumide-dev/brainpipe/internal/config"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg := config.LoadConfig()
	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer application.Close()

	go application.Server.Start()

	log.Info().Msg("brainpipe is running; pipeline and sweeper active")
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = application.Server.Shutdown(shutdownCtx)
	log.Info().Msg("shut down")
}
