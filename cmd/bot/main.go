package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go"

	"papertrader/internal/advisory"
	"papertrader/internal/api"
	"papertrader/internal/broadcast"
	"papertrader/internal/config"
	"papertrader/internal/engine"
	"papertrader/internal/feed"
	"papertrader/internal/logger"
	"papertrader/internal/notify"
	"papertrader/internal/store"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	logger.Info("Бот запущен.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var app *firebase.App
	if cfg.Cloud.Kind == config.CloudFirestore || cfg.Push.Enabled {
		app, err = store.NewFirebaseApp(ctx, cfg.Cloud.Firebase.ProjectID, cfg.Cloud.Firebase.CredentialsFile)
		if err != nil {
			logger.WithError(err).Fatal("Не удалось инициализировать Firebase.")
		}
	}

	deps := engine.Deps{
		Local: store.NewLocalStore(cfg.Persistence.Path, logger),
		Log:   logger,
	}

	switch cfg.Cloud.Kind {
	case config.CloudFirestore:
		fs, err := store.NewFirestoreStore(ctx, app, cfg.Cloud.Firestore.Collection, cfg.Cloud.Firestore.Document)
		if err != nil {
			logger.WithError(err).Fatal("Не удалось подключиться к Firestore.")
		}
		defer fs.Close()
		deps.Cloud = fs
	case config.CloudRedis:
		rs := store.NewRedisStore(cfg.Cloud.Redis)
		pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Cloud.Timeout)
		if err := rs.Ping(pingCtx); err != nil {
			logger.WithError(err).Warn("Redis недоступен, облачная копия будет догонять при следующих записях.")
		}
		pingCancel()
		defer rs.Close()
		deps.Cloud = rs
	}

	if cfg.Advisory.Enabled {
		provider := advisory.NewHTTPProvider(cfg.Advisory.HTTP)
		deps.Advisor = advisory.NewCache(provider, cfg.Advisory.Cache, logger)
	}

	var pusher *notify.Pusher
	if cfg.Push.Enabled {
		sender, err := notify.NewFCMSender(ctx, app)
		if err != nil {
			logger.WithError(err).Fatal("Не удалось инициализировать push-уведомления.")
		}
		pusher = notify.NewPusher(sender, cfg.Push.QueueSize, cfg.Push.Timeout, logger)
		deps.Notifier = pusher
		go pusher.Run(ctx)
	}

	if cfg.Feed.SeedHistory {
		deps.Seeder = feed.NewSeeder(cfg.Feed.Binance.ApiKey, cfg.Feed.Binance.Secret)
	}

	eng, err := engine.New(engine.Config{
		InitialBalance:    cfg.Engine.InitialBalance,
		QueueSize:         cfg.Engine.QueueSize,
		ArchiveDir:        cfg.Persistence.ArchiveDir,
		ImportPath:        cfg.Persistence.ImportPath,
		CloudTimeout:      cfg.Cloud.Timeout,
		HousekeepInterval: cfg.Engine.HousekeepInterval,
		Instruments:       cfg.Instruments,
		Guard:             cfg.Guard,
		Strategy:          cfg.Strategy,
		Position:          cfg.Position,
		Structure:         cfg.Structure,
		Indicators:        cfg.Indicators,
	}, deps)
	if err != nil {
		logger.WithError(err).Fatal("Некорректная конфигурация движка.")
	}
	if err := eng.Start(ctx); err != nil {
		logger.WithError(err).Fatal("\"Двигатель\" не смог стартовать.")
	}
	engineDone := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(engineDone)
	}()

	var sources []feed.Source
	for _, name := range cfg.Feed.Sources {
		switch name {
		case "ws":
			if cfg.Feed.WS.URL == "" {
				logger.Warn("Источник ws пропущен: не задан feed.ws.url.")
				continue
			}
			sources = append(sources, feed.NewWSSource(cfg.Feed.WS, logger))
		case "binance":
			sources = append(sources, feed.NewBinanceSource(logger))
		}
	}
	supervisor := feed.NewSupervisor(sources, eng.Instruments(), cfg.Feed.Supervisor, eng.SubmitTick, logger)
	go func() {
		if err := supervisor.Run(ctx); err != nil {
			logger.WithError(err).Error("Лента котировок остановлена.")
		}
	}()

	hub := broadcast.NewHub(cfg.API.BroadcastInterval, func() ([]byte, error) {
		return json.Marshal(eng.Snapshot())
	}, logger)
	go hub.Run(ctx)

	server := api.NewServer(api.Config{
		Addr:        cfg.API.Addr,
		JWTSecret:   cfg.API.JWTSecret,
		CORSOrigins: cfg.API.CORSOrigins,
	}, eng, hub.ServeWS, supervisor, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("HTTP сервер завершился с ошибкой.")
		}
	}()

	<-sigCh
	logger.Info("Остановка...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP сервер остановлен с ошибкой.")
	}

	cancel()
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		logger.Warn("Движок не успел сохранить состояние.")
	}

	logger.Info("Бот остановлен.")
}
