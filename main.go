package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"maison/api/config"
	"maison/api/database"
	"maison/api/events"
	"maison/api/handlers"
	"maison/api/middleware"
	"maison/api/models"
	"maison/api/notify"
	"maison/api/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	formatter := notify.NewFormatter(cfg.DisplayTimezone, loadVIPs(cfg.VIPConfigPath))

	eventStore, err := openEventStore(ctx, cfg, formatter.Location)
	if err != nil {
		log.Fatalf("Failed to initialize %s event store: %v", cfg.StoreDriver, err)
	}
	defer eventStore.Close()

	channels := []notify.Channel{notify.NewWebhookChannel(cfg.WebhookURL, cfg.WebhookUsername)}
	if cfg.WebhookURL == "" {
		log.Println("WEBHOOK_URL not set; chat notifications are disabled")
	}
	if cfg.ResendAPIKey != "" && cfg.AlertEmailTo != "" {
		channels = append(channels, notify.NewEmailChannel(cfg.ResendAPIKey, cfg.AlertEmailFrom, cfg.AlertEmailTo))
	}

	visitorHandlers := handlers.NewVisitorHandlers(eventStore, formatter, notify.NewDispatcher(channels...))

	var publisher events.Publisher = &events.NoopPublisher{}
	if cfg.NATSURL != "" {
		if p, err := events.NewNATSPublisher(cfg.NATSURL); err != nil {
			log.Printf("ERROR: NATS unavailable, visitor events will not be published: %v", err)
		} else {
			publisher = p
		}
	}
	defer publisher.Close()
	visitorHandlers.Publisher = publisher

	var analyticsReader handlers.AnalyticsReader
	if cfg.ClickHouseHost != "" {
		chClient, err := database.NewClickHouseDB(ctx, database.ClickHouseOptions{
			Host:     cfg.ClickHouseHost,
			Port:     cfg.ClickHousePort,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			log.Fatalf("Failed to initialize ClickHouse database: %v", err)
		}
		defer chClient.Close()

		analyticsStore := store.NewAnalyticsStore(chClient)
		if err := analyticsStore.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare ClickHouse schema: %v", err)
		}
		visitorHandlers.Archive = analyticsStore
		analyticsReader = analyticsStore
	}
	analyticsHandlers := handlers.NewAnalyticsHandlers(analyticsReader)

	var authHandlers *handlers.AuthHandlers
	if cfg.DatabaseURL != "" {
		dbClient, err := database.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
		}
		defer dbClient.Close()
		authHandlers = handlers.NewAuthHandlers(store.NewUserStore(dbClient.DB), []byte(cfg.JWTSecret))
		authHandlers.SecureCookie = cfg.GinMode == "release"
	}

	live := handlers.NewLiveBroadcaster(eventStore, cfg.FEOrigins)
	visitorHandlers.Live = live
	go live.Run(ctx)

	if cfg.SnapshotS3Bucket != "" {
		dest, err := store.NewS3Destination(ctx, cfg.SnapshotS3Bucket, cfg.SnapshotS3Key, cfg.SnapshotS3Region, cfg.SnapshotS3Endpoint)
		if err != nil {
			log.Fatalf("Failed to initialize snapshot destination: %v", err)
		}
		exporter := &store.SnapshotExporter{Store: eventStore, Dest: dest, Interval: cfg.SnapshotInterval}
		go exporter.Run(ctx)
	}

	authCfg := middleware.AuthConfig{JWTSecret: []byte(cfg.JWTSecret), APIKey: cfg.DashboardAPIKey}
	if !authCfg.Enabled() {
		log.Println("JWT_SECRET_KEY and DASHBOARD_API_KEY not set; dashboard reads are open")
	}

	r := gin.Default()
	r.Use(middleware.CORSMiddleware(cfg.FEOrigins))
	r.GET("/healthz", visitorHandlers.HealthCheck)

	api := r.Group("/api")
	{
		api.POST("/visitors", visitorHandlers.IngestEvent)

		if authHandlers != nil {
			api.POST("/signup", authHandlers.Signup)
			api.POST("/login", authHandlers.Login)
			api.POST("/logout", authHandlers.Logout)
		}

		protected := api.Group("/")
		protected.Use(middleware.AuthRequired(authCfg))
		{
			protected.GET("/visitors", visitorHandlers.GetVisitors)
			protected.GET("/visitors/live", live.ServeWS)
			protected.PATCH("/visitors/notifications/:id",
				middleware.RequireRole(authCfg, models.RoleAdmin),
				visitorHandlers.MarkNotificationRead)
			if authHandlers != nil {
				protected.GET("/profile", authHandlers.Profile)
			}

			statsGroup := protected.Group("/stats")
			{
				statsGroup.GET("/event-counts", analyticsHandlers.GetEventCountsOverTime)
				statsGroup.GET("/unique-visitors", analyticsHandlers.GetUniqueVisitorsOverTime)
				statsGroup.GET("/top-pages", analyticsHandlers.GetTopPages)
				statsGroup.GET("/average-order-value", analyticsHandlers.GetAverageOrderValue)
			}
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Pulse API starting on http://localhost:%s (store=%s)", cfg.Port, cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Pulse API failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: server forced to shutdown: %v", err)
	}
	visitorHandlers.Wait()

	log.Println("Server exiting.")
}

func loadVIPs(path string) *notify.VIPMatcher {
	if path == "" {
		return nil
	}
	vips, err := notify.LoadVIPMatcher(path)
	if err != nil {
		log.Printf("ERROR: %v; VIP highlighting disabled", err)
		return nil
	}
	return vips
}

func openEventStore(ctx context.Context, cfg *config.Config, loc *time.Location) (store.EventStore, error) {
	opts := store.Options{
		Limit:    cfg.NotificationLimit,
		Window:   cfg.ActiveWindow,
		Location: loc,
	}
	switch cfg.StoreDriver {
	case config.StoreRedis:
		rdb, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return store.NewRedisEventStore(rdb, opts), nil
	case config.StoreSQLite:
		db, err := database.NewSQLiteDB(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store.NewSQLiteEventStore(ctx, db, opts)
	default:
		return store.NewMemoryEventStore(opts), nil
	}
}
