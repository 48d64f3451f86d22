package main

import (
	"fmt"

	"github.com/mcdev12/multigolf/go/internal/config"
	"github.com/mcdev12/multigolf/go/internal/gamesession"
	"github.com/mcdev12/multigolf/go/internal/gamesession/gateway"
	"github.com/mcdev12/multigolf/go/internal/metrics"
)

type Services struct {
	App      *gamesession.App
	Sessions *gamesession.Service
	State    *gamesession.StateHandler
	Gateway  *gateway.Service
	Metrics  *metrics.Metrics
}

func setupServices(cfg *config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Repository layer → App layer → Gateway → Service layer

	repo := gamesession.NewMemoryRepository()

	m := metrics.New("multigolf", repo.Count)
	app := gamesession.NewApp(repo, appConfig(cfg, m))

	gatewayService, err := gateway.NewService(gatewayConfig(cfg), app, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}

	// The query service announces game starts to the session's room
	sessionsService := gamesession.NewService(app, gatewayService)

	return &Services{
		App:      app,
		Sessions: sessionsService,
		State:    gamesession.NewStateHandler(app),
		Gateway:  gatewayService,
		Metrics:  m,
	}, nil
}
