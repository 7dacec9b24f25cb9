package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/venuehub/marketplace/internal/cache"
	"github.com/venuehub/marketplace/internal/config"
	"github.com/venuehub/marketplace/internal/logger"
	"github.com/venuehub/marketplace/internal/model"
	"github.com/venuehub/marketplace/internal/money"
	"github.com/venuehub/marketplace/internal/repo"
	"github.com/venuehub/marketplace/internal/service"
	"github.com/venuehub/marketplace/internal/stripe"
	httptransport "github.com/venuehub/marketplace/internal/transport/http"
)

func main() {
	// 1. env + config
	_ = godotenv.Load()
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.New("marketplace-server")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Wallet{}, &model.WalletEntry{}, &model.OutboxEvent{},
		&model.Venue{}, &model.Booking{}, &model.PaymentRecord{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo, provider client, services
	repository := repo.NewRepository(gdb, rdb, kw, log)
	provider := stripe.NewClient(cfg.Stripe.BaseURL, cfg.Stripe.SecretKey, log)
	memCache := cache.New(time.Minute)
	defer memCache.Close()

	feePercent, err := decimal.NewFromString(cfg.Fees.Percent)
	if err != nil {
		log.Fatalf("parse fee percent: %v", err)
	}

	wallet := service.NewWalletService(repository, log)
	venues := service.NewVenueService(repository, memCache, time.Duration(cfg.Cache.VenueTTLSeconds)*time.Second, log)
	bookings := service.NewBookingService(repository, venues, feePercent, money.Cents(cfg.Fees.FixedCents), log)
	payments := service.NewPaymentService(repository, wallet, provider, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL, log)
	drafts := service.NewDraftService(rdb, time.Duration(cfg.Drafts.TTLMinutes)*time.Minute, cfg.Drafts.MaxBytes, log)

	// 7. gin router
	router := httptransport.NewRouter(httptransport.Services{
		Wallet:   wallet,
		Venues:   venues,
		Bookings: bookings,
		Payments: payments,
		Drafts:   drafts,
	}, cfg, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("marketplace-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
