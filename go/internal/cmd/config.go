package main

import (
	"github.com/mcdev12/multigolf/go/internal/config"
	"github.com/mcdev12/multigolf/go/internal/gamesession"
	"github.com/mcdev12/multigolf/go/internal/gamesession/gateway"
)

func appConfig(cfg *config.Config, metrics gamesession.MetricsCollector) gamesession.AppConfig {
	return gamesession.AppConfig{
		SessionExpiry: cfg.SessionExpiry(),
		Metrics:       metrics,
	}
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	gwCfg := gateway.DefaultConfig()

	gwCfg.ConnectionConfig.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	gwCfg.ConnectionConfig.SendBufferSize = cfg.WebSocket.SendBuffer

	gwCfg.BusConfig.URL = cfg.NATS.URL
	gwCfg.BusConfig.SubjectPrefix = cfg.NATS.SubjectPrefix

	return gwCfg
}
