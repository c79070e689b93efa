package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"letschat/internal/auth"
	"letschat/internal/config"
	"letschat/internal/conversations"
	"letschat/internal/db"
	"letschat/internal/grpcserver"
	"letschat/internal/handlers"
	"letschat/internal/logging"
	"letschat/internal/messaging"
	"letschat/internal/middleware"
	"letschat/internal/observability"
	"letschat/internal/presence"
	"letschat/internal/rabbitmq"
	"letschat/internal/repositories"
	"letschat/internal/storage"
	"letschat/internal/telemetry"
	"letschat/internal/ws"
)

func main() {
	conf, err := config.Load()
	if err != nil {
		logging.New("main").WithError(err).Fatal("failed to load config")
	}
	logging.Init(conf.LogLevel)
	log := logging.NewWithFields("main", map[string]interface{}{"env": conf.Environment})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, conf.Tracing)
	if err != nil {
		log.WithError(err).Fatal("failed to init tracing")
	}

	database, err := db.Connect(ctx, conf.DB.Driver, conf.DB.DSN)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to db")
	}

	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	publisher := rabbitmq.NewPublisher(conf.AMQP.URL, conf.AMQP.Exchange)
	observability.SetPublisher(publisher)
	log.WithField("mode", rabbitmq.PublisherMode(publisher)).Info("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, conf.AMQP.AuditRoutingKey, conf.Tracing.ServiceName, conf.Environment)

	hub := ws.NewHub()

	var trackerOpts []presence.Option
	if conf.Redis.Addr != "" {
		mirror, err := presence.ConnectRedis(ctx, conf.Redis.Addr, conf.Redis.Password, conf.Redis.DB, conf.Redis.PresenceTTL)
		if err != nil {
			log.WithError(err).Warn("redis presence mirror unavailable, continuing without it")
		} else {
			trackerOpts = append(trackerOpts, presence.WithMirror(mirror))
		}
	}
	tracker := presence.NewTracker(userRepo, hub, trackerOpts...)

	engine := messaging.NewEngine(userRepo, messageRepo, hub, messaging.WithAuditor(audit))
	aggregator := conversations.NewAggregator(userRepo, messageRepo, engine)

	tokens := auth.NewTokens(conf.Auth.JWTSecret, conf.Auth.TokenTTL)
	verifier, err := auth.NewFirebaseVerifier(ctx, conf.Auth.FirebaseCredentialsFile, conf.Auth.FirebaseProjectID)
	if err != nil {
		log.WithError(err).Fatal("failed to init firebase")
	}
	sessions := auth.NewService(verifier, userRepo, tokens)

	store, err := storage.New(conf.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to init storage")
	}

	if !logging.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     conf.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})))
	router.Use(otelgin.Middleware(conf.Tracing.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestID())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if local, ok := store.(*storage.Local); ok {
		router.Static("/uploads", local.Dir())
	}

	authHandler := handlers.NewAuthHandler(sessions, engine, tracker)
	authHandler.RegisterPublic(router.Group("/api/auth"))
	authHandler.Register(router.Group("/api/auth", middleware.AuthMiddleware(tokens)))

	chat := router.Group("/api/chat", middleware.AuthMiddleware(tokens))
	chat.POST("/upload", handlers.NewUploadHandler(store, conf.Storage.MaxUploadSize).Upload)
	handlers.NewChatHandler(engine, aggregator, tracker).Register(chat)

	router.GET("/ws", ws.NewHandler(hub, tracker, engine, tokens, conf.Server.AllowedOrigins).Handle)
	handlers.RegisterDebugRoutes(router, audit, tracker, conf.Server.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + conf.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", conf.Server.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server error")
		}
	}()

	health := grpcserver.New(database, 15*time.Second)
	lis, err := net.Listen("tcp", conf.Server.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to listen for grpc")
	}
	go func() {
		log.WithField("addr", conf.Server.GRPCAddr).Info("grpc health server listening")
		if err := health.Serve(lis); err != nil {
			log.WithError(err).Error("grpc server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	tracker.Drain(shutdownCtx)
	hub.Close()
	health.Stop()
	if err := publisher.Close(); err != nil {
		log.WithError(err).Warn("failed to close publisher")
	}
	if err := database.Close(); err != nil {
		log.WithError(err).Warn("failed to close db")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("failed to flush traces")
	}
}
