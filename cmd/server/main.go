package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticketing/internal/cache"
	"github.com/iliyamo/cinema-ticketing/internal/config"
	"github.com/iliyamo/cinema-ticketing/internal/database"
	"github.com/iliyamo/cinema-ticketing/internal/discount"
	"github.com/iliyamo/cinema-ticketing/internal/handler"
	"github.com/iliyamo/cinema-ticketing/internal/logger"
	"github.com/iliyamo/cinema-ticketing/internal/middleware"
	"github.com/iliyamo/cinema-ticketing/internal/order"
	"github.com/iliyamo/cinema-ticketing/internal/payment"
	"github.com/iliyamo/cinema-ticketing/internal/queue"
	"github.com/iliyamo/cinema-ticketing/internal/repository"
	"github.com/iliyamo/cinema-ticketing/internal/reservation"
	"github.com/iliyamo/cinema-ticketing/internal/router"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	lg, err := logger.New(cfg.Env, os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		lg.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			lg.Fatal("migrate database", zap.Error(err))
		}
		lg.Info("schema migrated")
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		lg.Warn("redis unreachable, seat-map cache and rate limiting disabled")
	} else {
		defer rdb.Close()
	}

	resCfg := config.LoadReservationConfig()
	orderCfg := config.LoadOrderConfig()
	payCfg := config.LoadPaymentConfig()
	evCfg := config.LoadEventsConfig()
	cacheCfg := config.LoadCacheConfig()

	slots := repository.NewSlotRepo(db)
	seats := repository.NewSeatRepo(db)
	products := repository.NewProductRepo(db)
	vouchers := repository.NewVoucherRepo(db)
	orders := repository.NewOrderRepo(db)
	payments := repository.NewPaymentRepo(db)

	opts := []reservation.Option{
		reservation.WithHoldTTL(resCfg.HoldTTL),
		reservation.WithAdvisoryWindow(resCfg.AdvisoryWindow),
		reservation.WithMaxAttempts(resCfg.MaxAttempts),
		reservation.WithSweepBatch(resCfg.SweepBatch),
		reservation.WithLocation(resCfg.Location),
	}
	if rdb != nil {
		if c := cache.NewSeatMapCache(cacheCfg, rdb, lg); c != nil {
			opts = append(opts, reservation.WithCache(c))
		}
	}
	engine := reservation.NewEngine(slots, lg, opts...)

	publisher := newPublisher(evCfg, lg)
	defer publisher.Close()

	orderSvc := order.NewService(order.Deps{
		Orders:    orders,
		Seats:     engine,
		Catalog:   seats,
		Products:  products,
		Discounts: discount.NewCalculator(vouchers),
		Vouchers:  vouchers,
		Payments:  payments,
		Publisher: publisher,
	}, orderCfg, lg)

	reconciler := payment.NewReconciler(orderSvc, payments, orders, vouchers, orderCfg.LoyaltyPointUnit, lg)
	paySvc := payment.NewService(orderSvc, payments, reconciler, payCfg, lg, gateways(payCfg, lg)...)
	lg.Info("payment rails", zap.Any("rails", paySvc.Rails()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := reservation.NewSweeper(engine, orderSvc, resCfg.SweepInterval, lg)
	if err := sweeper.Start(ctx); err != nil {
		lg.Fatal("start sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	consumer := queue.NewReconciliationConsumer(orderSvc, evCfg.LogDir, lg)
	go func() {
		var err error
		switch strings.ToLower(evCfg.Backend) {
		case "rabbitmq":
			err = consumer.RunRabbit(ctx, evCfg.RabbitURL)
		case "kafka":
			err = consumer.RunKafka(ctx, evCfg.KafkaBroker, evCfg.KafkaTopic, evCfg.KafkaGroup)
		default:
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("reconciliation consumer stopped", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(lg))

	required := map[string]handler.Pinger{"mysql": db.PingContext}
	optional := map[string]handler.Pinger{}
	if rdb != nil {
		optional["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	router.RegisterRoutes(e, router.Handlers{
		Slots:    handler.NewSlotHandler(engine, sweeper),
		Orders:   handler.NewOrderHandler(orderSvc, paySvc, engine, lg),
		Payments: handler.NewPaymentHandler(paySvc, lg),
		Ready:    handler.Ready(required, optional),
	}, router.Options{
		JWTSecret:     cfg.JWTSecret,
		HoldLimit:     middleware.NewTokenBucket(config.LoadRateLimitConfig("hold"), rdb, lg),
		CheckoutLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig("checkout"), rdb, lg),
		StatsCache:    middleware.NewResponseCache(rdb, cacheCfg.Prefix, cacheCfg.ResponseTTL),
	})

	addr := ":" + cfg.Port
	go func() {
		lg.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown", zap.Error(err))
	}
}

// newPublisher picks the event broker.  Without one, events are dropped.
func newPublisher(cfg config.EventsConfig, lg *zap.Logger) queue.Publisher {
	switch strings.ToLower(cfg.Backend) {
	case "rabbitmq":
		return queue.NewRabbitPublisher(cfg.RabbitURL, lg)
	case "kafka":
		p, err := queue.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic, lg)
		if err != nil {
			lg.Fatal("kafka publisher", zap.Error(err))
		}
		return p
	}
	lg.Warn("events disabled", zap.String("backend", cfg.Backend))
	return queue.NopPublisher{}
}

// gateways registers each rail whose credentials are configured.
func gateways(cfg config.PaymentConfig, lg *zap.Logger) []payment.Gateway {
	var out []payment.Gateway
	if cfg.StripeSecretKey != "" {
		g, err := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeCurrency)
		if err != nil {
			lg.Fatal("stripe gateway", zap.Error(err))
		}
		out = append(out, g)
	}
	if cfg.VNPayTmnCode != "" {
		g, err := payment.NewVNPayGateway(cfg.VNPayTmnCode, cfg.VNPayHashSecret, cfg.VNPayPayURL, cfg.VNPayQueryURL)
		if err != nil {
			lg.Fatal("vnpay gateway", zap.Error(err))
		}
		out = append(out, g)
	}
	return out
}
