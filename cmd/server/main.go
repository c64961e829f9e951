package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"chatroom/internal/broker"
	"chatroom/internal/cache"
	"chatroom/internal/config"
	"chatroom/internal/db"
	clog "chatroom/internal/log"
	"chatroom/internal/pipeline"
	"chatroom/internal/presence"
	"chatroom/internal/ratelimit"
	"chatroom/internal/server"
	"chatroom/internal/service"
	"chatroom/internal/session"
	"chatroom/internal/store"
	"chatroom/internal/ws"
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, mongoClient, err := db.Connect(ctx, cfg.MongoURI, "chatroom")
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connect")
	}
	defer db.Disconnect(mongoClient)
	if err := db.EnsureIndexes(ctx, database); err != nil {
		log.Fatal().Err(err).Msg("ensure indexes")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis ping")
	}
	st := store.NewFromClient(redisClient)

	sessions := session.New(st)
	limiter := ratelimit.New(st)
	presenceRegistry := presence.New(st)
	msgCache := cache.New(st)
	limits := config.RatelimitRules(cfg.RateLimits)

	userSvc := service.NewUserService(database, sessions, cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	roomSvc := service.NewRoomService(database)

	inboundProducer := broker.NewProducer(cfg.KafkaBroker, broker.TopicInbound)
	defer inboundProducer.Close()
	moderatedProducer := broker.NewProducer(cfg.KafkaBroker, broker.TopicModerated)
	defer moderatedProducer.Close()
	persistedProducer := broker.NewProducer(cfg.KafkaBroker, broker.TopicPersisted)
	defer persistedProducer.Close()

	msgSvc := service.NewMessageService(database, roomSvc, limiter, limits, msgCache, inboundProducer)

	hub := ws.NewHub()
	gateway := ws.NewGateway(hub, presenceRegistry, sessions, limiter, limits, cfg.JWTAccessSecret, roomSvc, msgSvc)
	msgSvc.SetDeleteSink(gateway)

	analyzer := pipeline.NewAnalyzer(cfg.FastAPIURL)
	onPipelineError := func(stage string, err error) {
		log.Error().Err(err).Str("stage", stage).Msg("pipeline stage failed")
	}
	processor := pipeline.NewProcessor(analyzer, moderatedProducer, persistedProducer, msgSvc, gateway, onPipelineError)

	inboundConsumer := broker.NewConsumer(cfg.KafkaBroker, broker.TopicInbound, "chatroom-inbound")
	defer inboundConsumer.Close()
	moderatedConsumer := broker.NewConsumer(cfg.KafkaBroker, broker.TopicModerated, "chatroom-moderated")
	defer moderatedConsumer.Close()

	go func() {
		if err := pipeline.RunInbound(ctx, inboundConsumer, processor); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("inbound consumer stopped")
		}
	}()
	go func() {
		if err := pipeline.RunModerated(ctx, moderatedConsumer, processor); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("moderated consumer stopped")
		}
	}()

	handler := server.NewHandler(userSvc, roomSvc, msgSvc)
	router := server.SetupRouter(cfg, handler, sessions, userSvc, gateway)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
