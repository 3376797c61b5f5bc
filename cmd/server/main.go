package main

import (
	"context"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/petrzlen/voice-qa/internal/config"
	"github.com/petrzlen/voice-qa/internal/server"
	"github.com/petrzlen/voice-qa/internal/utils"
	"github.com/petrzlen/voice-qa/pkg/remote"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func main() {
	cfg := config.Load()
	utils.SetupZerolog(cfg.LogLevel)

	srv := server.New(cfg, afero.NewOsFs(), remote.NewOpenAIBackendFactory(cfg.Remote))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ftl(srv.Run(ctx))
	log.Info().Msg("server stopped")
}

func ftl(err error) {
	if err != nil {
		debug.PrintStack()
		log.Fatal().Err(err).Msg("sth essential failed")
	}
}
