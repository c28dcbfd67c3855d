package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/harentsoaR/medlab-api/internal/config"
	"github.com/harentsoaR/medlab-api/internal/handlers"
	"github.com/harentsoaR/medlab-api/internal/logger"
	"github.com/harentsoaR/medlab-api/internal/metrics"
	"github.com/harentsoaR/medlab-api/internal/middleware"
	"github.com/harentsoaR/medlab-api/internal/services"
	"github.com/harentsoaR/medlab-api/internal/store"
	"github.com/harentsoaR/medlab-api/internal/tracing"
	"github.com/harentsoaR/medlab-api/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}

	// --- Storage ---
	stores, closeStore, err := openStores(ctx, cfg, zlog)
	if err != nil {
		return err
	}

	// --- Services ---
	collector := metrics.NewCollector("medlab")
	mailer, closeMailer, err := services.NewMailer(cfg.Notification, zlog)
	if err != nil {
		return err
	}
	dispatcher := services.NewDispatcher(mailer, collector, zlog.Named("notify"), services.DispatcherOptions{
		QueueSize:   cfg.Notification.QueueSize,
		SendTimeout: cfg.Notification.SendTimeout,
	})

	tokens, err := utils.NewTokenManager(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		return err
	}
	directory := services.NewUserDirectory(stores.users)
	attachments := services.NewAttachmentManager(stores.appointments, stores.labTests, zlog)
	appointmentSvc := services.NewAppointmentService(stores.appointments, directory, attachments, dispatcher, collector, zlog.Named("appointments"))
	labTestSvc := services.NewLabTestService(stores.labTests, directory, attachments, collector, zlog.Named("labtests"))

	h := handlers.NewHandler(appointmentSvc, labTestSvc, stores.users, tokens, zlog)

	// --- Gin Router ---
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(zlog.Named("http")),
		middleware.Metrics(collector),
		cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders:    []string{middleware.RequestIDHeader, "Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
	)
	r.GET("/health", handlers.Health)
	r.GET("/metrics", gin.WrapH(collector.Handler()))
	h.RegisterRoutes(r, tokens)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		zlog.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	zlog.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Notification.DrainTimeout+5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}
	drainCtx, cancelDrain := context.WithTimeout(shutdownCtx, cfg.Notification.DrainTimeout)
	defer cancelDrain()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		zlog.Warn("notification drain", zap.Error(err))
	}
	if err := closeMailer(); err != nil {
		zlog.Warn("closing mailer", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("tracer shutdown", zap.Error(err))
	}
	if err := closeStore(shutdownCtx); err != nil {
		zlog.Warn("closing store", zap.Error(err))
	}
	return nil
}

type storeSet struct {
	appointments store.AppointmentStore
	labTests     store.LabTestStore
	users        store.UserStore
}

// openStores connects the configured backend. The close function is never nil.
func openStores(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (storeSet, func(context.Context) error, error) {
	if cfg.StoreBackend == "memory" {
		zlog.Warn("using in-memory store; data is lost on restart")
		mem := store.NewMemory()
		return storeSet{mem.Appointments, mem.LabTests, mem.Users}, func(context.Context) error { return nil }, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return storeSet{}, nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return storeSet{}, nil, err
	}
	db := store.NewMongo(client.Database(cfg.Mongo.Database))
	if err := db.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return storeSet{}, nil, err
	}
	zlog.Info("connected to MongoDB", zap.String("database", cfg.Mongo.Database))
	return storeSet{db.Appointments, db.LabTests, db.Users}, client.Disconnect, nil
}
