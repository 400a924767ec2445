package main

import (
	"context"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/app"
	"github.com/Meesho/BharatMLStack/node-lease-manager/pkg/config"
	"github.com/Meesho/BharatMLStack/node-lease-manager/pkg/logger"
	"github.com/Meesho/BharatMLStack/node-lease-manager/pkg/metric"
	"github.com/juju/clock"
	"github.com/rs/zerolog/log"
)

func main() {
	config.InitEnv()
	logger.Init()
	metric.Init()
	env := config.Instance()

	ctx := context.Background()
	components, err := app.Build(ctx, env, clock.WallClock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build node lease manager")
	}
	if _, err := app.SeedNodes(ctx, components.Nodes, env.SeedNodes); err != nil {
		log.Error().Err(err).Msg("Error seeding nodes")
	}

	server := app.NewServer(env.AppPort, app.NewEngine(env, components), components)
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("api-server exited with error")
	}
}
