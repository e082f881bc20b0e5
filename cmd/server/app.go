package main

import (
	"github.com/openclaw/broadcast-server-go/internal/config"
	"github.com/openclaw/broadcast-server-go/internal/database"
	"github.com/openclaw/broadcast-server-go/internal/gateway/bridge"
	"github.com/openclaw/broadcast-server-go/internal/metrics"
	"github.com/openclaw/broadcast-server-go/internal/notify"
	"github.com/openclaw/broadcast-server-go/internal/repository"
	"github.com/openclaw/broadcast-server-go/internal/service"
	"github.com/openclaw/broadcast-server-go/internal/sse"
)

// dispatchDeps is everything a dispatch pass needs, shared by serve and dispatch.
type dispatchDeps struct {
	accounts  repository.AccountRepository
	schedules repository.ScheduleRepository
	gateway   *bridge.Client
	engine    *service.DispatchEngine
	metrics   *metrics.Metrics
}

func buildDispatch(cfg *config.Config, db *database.DB, broker *sse.Broker) (*dispatchDeps, error) {
	cipher, err := credentialCipher(cfg)
	if err != nil {
		return nil, err
	}

	accounts := repository.NewAccountRepository(db.DB, cipher)
	schedules := repository.NewScheduleRepository(db.DB)
	gw := bridge.New(bridge.Config{
		BaseURL: cfg.GatewayURL,
		Token:   cfg.GatewayToken,
		Timeout: cfg.GatewayTimeout(),
	})
	m := metrics.New()

	engine := service.NewDispatchEngine(schedules, accounts, gw, service.DispatchOptions{
		Concurrency: cfg.DispatchConcurrency,
		SendRate:    float64(cfg.SendRatePerSec),
	})
	engine.AddRunListener(m)
	if broker != nil {
		engine.AddScheduleListener(broker)
	}

	if cfg.NotifyEnabled() {
		notifier, err := notify.NewTelegramNotifier(notify.TelegramConfig{
			Token:  cfg.NotifyBotToken,
			ChatID: cfg.NotifyChatID,
		})
		if err != nil {
			return nil, err
		}
		engine.AddRunListener(notifier)
	}

	return &dispatchDeps{
		accounts:  accounts,
		schedules: schedules,
		gateway:   gw,
		engine:    engine,
		metrics:   m,
	}, nil
}
