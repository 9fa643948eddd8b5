package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"

	"ms-orders/internal/auth"
	"ms-orders/internal/config"
	"ms-orders/internal/database"
	"ms-orders/internal/database/migrations"
	"ms-orders/internal/kafka"
	"ms-orders/internal/kvstore"
	"ms-orders/internal/logger"
	"ms-orders/internal/mailer"
	"ms-orders/internal/metrics"
	"ms-orders/internal/notification"
	"ms-orders/internal/order"
	"ms-orders/internal/order/db"
	"ms-orders/internal/order/order_api"
	rediswrap "ms-orders/internal/order/redis"
	"ms-orders/internal/payment"
	handlers "ms-orders/internal/payment/handler"
	"ms-orders/internal/payment/services"
	"ms-orders/internal/payment/storage"
	"ms-orders/internal/session"
	"ms-orders/internal/sms"
	"ms-orders/internal/sse"
	"ms-orders/internal/users"
	"ms-orders/internal/utils"
	"ms-orders/internal/verification"
	"ms-orders/internal/verification/verify_api"
	"ms-orders/internal/voucher"
	vdb "ms-orders/internal/voucher/db"
	"ms-orders/internal/voucher/voucher_api"
)

func openDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger) *bun.DB {
	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open database: %v", err))
	}

	if cfg.Database.Driver != "sqlite" && cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.DefaultOptions(), log)
		if err := runner.Up(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		if err := runner.Close(); err != nil {
			log.Warn("DATABASE", fmt.Sprintf("Closing migrator: %v", err))
		}
	}
	return bunDB
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()

	log := logger.New(logger.Options{Service: "order-service", Dir: "logs", MinLevel: logger.ParseLevel(cfg.LogLevel)})
	defer log.Close()
	log.Info("APP", "Starting Order Service initialization")

	metrics.MustRegister("order-service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB := openDatabase(ctx, cfg, log)
	defer bunDB.Close()

	// --- Ephemeral state: Redis when enabled, process memory otherwise ---
	var kv kvstore.Store
	var idempotency order.IdempotencyStore
	if cfg.Redis.Enabled {
		redisClient, err := auth.InitializeRedis(cfg.Redis, log)
		if err != nil {
			log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
		}
		defer redisClient.Close()
		kv = kvstore.NewRedisStore(redisClient, "orders:")
		idempotency = rediswrap.NewRedis(redisClient, cfg.Checkout.IdempotencyKeyTTL, log)
	} else {
		mem := kvstore.NewMemoryStore()
		mem.StartSweeper(ctx, cfg.Session.SweepInterval, func(removed int) {
			log.Debug("KVSTORE", fmt.Sprintf("Swept %d expired entries, %d live", removed, mem.Len()))
		})
		kv = mem
		log.Warn("REDIS", "Redis disabled, codes and sessions live in process memory")
	}

	// --- Providers ---
	emailProvider, err := mailer.New(cfg.Email, log)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Email provider: %v", err))
	}
	smsProvider, err := sms.New(cfg.SMS, log)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("SMS provider: %v", err))
	}
	stripeService, err := services.NewStripeService(cfg.Stripe, log)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Stripe: %v", err))
	}

	// --- Kafka ---
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.OrderEvents, cfg.Kafka.Topics.PaymentEvents, cfg.Kafka.Topics.FulfillmentStatus}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		defer producer.Close()
		log.Info("KAFKA", "Kafka producer initialized successfully")
	}

	// --- Identity ---
	userDB := users.New(bunDB)
	sessions := session.NewStore(kv, cfg.Session.TTL)
	engine := verification.NewEngine(verification.NewCodeStore(kv), emailProvider, smsProvider, userDB, sessions, cfg.Verification, log)
	admin := auth.NewAdminAuthenticator(cfg.Admin.PINHash, cfg.Admin.Email, userDB, sessions, log)
	authMW := &auth.Middleware{
		Sessions: sessions,
		Services: auth.NewServiceTokens(cfg.Auth.ServiceTokenSecret, cfg.Auth.ServiceTokenIssuer),
		Logger:   log,
	}

	// --- Orders, payments, notifications ---
	vouchers := voucher.NewService(&vdb.DB{Bun: bunDB}, log)
	ledger := order.NewLedger(&db.DB{Bun: bunDB}, log)
	events := sse.NewOrderEventEmitter()
	pipeline := notification.NewPipeline(emailProvider, ledger, cfg.Notification, cfg.Server.PublicURL, log)

	paymentStore := storage.NewPaymentStore(bunDB, log)
	reconciler := payment.NewReconciler(ledger, paymentStore, stripeService, vouchers, log)
	reconciler.Notifier = pipeline
	reconciler.Events = events

	orderService := order.NewOrderService(ledger, vouchers, stripeService, cfg.Checkout, cfg.Stripe.Currency, log)
	orderService.Confirmer = reconciler
	orderService.Notifier = pipeline
	orderService.Events = events
	orderService.Idempotency = idempotency
	if producer != nil {
		reconciler.Kafka = producer
		orderService.Kafka = producer
	}

	verifyHandler := &verify_api.Handler{Engine: engine, Admin: admin, Sessions: sessions, Profiles: userDB, Addresses: ledger, Logger: log}
	voucherHandler := &voucher_api.Handler{Service: vouchers, Logger: log}
	orderHandler := order_api.NewHandler(orderService, pipeline, log)
	streamHandler := order_api.NewSSEHandler(orderHandler, events)
	stripeHandler := handlers.NewStripeHandler(reconciler, stripeService, orderService, log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Public Routes ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := paymentStore.HealthCheck(r.Context()); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("unhealthy", "database unreachable"))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/webhooks/stripe", stripeHandler.HandleWebhook)

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(cfg.Server.RateLimit, time.Minute))
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/code", verifyHandler.RequestCode)
			r.Post("/verify", verifyHandler.VerifyCode)
			r.Post("/admin", verifyHandler.AdminLogin)
		})
		r.Group(func(r chi.Router) {
			r.Use(authMW.RequireSession)
			r.Post("/logout", verifyHandler.Logout)
			r.Get("/session", verifyHandler.CurrentSession)
		})
	})
	log.Info("ROUTER", "Auth routes registered under /api/auth")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(authMW.RequireSession)

		r.With(middleware.Timeout(30*time.Second)).Post("/api/vouchers/validate", voucherHandler.Validate)

		r.Route("/api/orders", func(r chi.Router) {
			// The event stream outlives any request timeout.
			r.Get("/{id}/events", streamHandler.HandleOrderEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Get("/", orderHandler.ListOrders)
				r.Post("/checkout", orderHandler.Checkout)
				r.Get("/number/{number}", orderHandler.GetOrderByNumber)
				r.Get("/{id}", orderHandler.GetOrder)
				r.Post("/{id}/confirm", stripeHandler.ConfirmOrder)
			})
		})
	})
	log.Info("ROUTER", "Order routes registered under /api/orders")

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.With(authMW.RequireAdminOrService).Post("/orders/{id}/status", orderHandler.UpdateStatus)
		r.Group(func(r chi.Router) {
			r.Use(authMW.RequireAdmin)
			r.Post("/orders/{id}/emails/{type}/resend", orderHandler.ResendEmail)
			r.Post("/vouchers", voucherHandler.Create)
			r.Get("/vouchers/{code}/usages", voucherHandler.Usages)
		})
	})
	log.Info("ROUTER", "Admin routes registered under /api/admin")

	// --- Background workers ---
	go orderService.RunJanitor(ctx, cfg.Checkout.JanitorInterval, cfg.Checkout.PendingOrderTTL)
	log.Info("JANITOR", fmt.Sprintf("Expiring pending orders older than %s every %s", cfg.Checkout.PendingOrderTTL, cfg.Checkout.JanitorInterval))

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.FulfillmentStatus, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx, orderService.ApplyFulfillmentUpdate); err != nil {
				log.Error("KAFKA", fmt.Sprintf("Fulfillment consumer stopped: %v", err))
			}
		}()
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Order Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "Order Service shutdown complete")
	}
}
