package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ohiobeerpath/api/database"
	"ohiobeerpath/api/dispatch"
	"ohiobeerpath/api/handlers"
	"ohiobeerpath/api/middleware"
	"ohiobeerpath/api/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	initLogger()

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// PostgreSQL holds the primary event log, stat aggregates and admin users.
	dbClient, err := database.NewPostgresDB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize PostgreSQL")
	}
	defer dbClient.Close()

	// ClickHouse is an optional write-behind archive for time-series queries.
	var archiveStore *store.ArchiveStore
	if database.ArchiveConfigured() {
		chClient, err := database.NewClickHouseDB()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize ClickHouse")
		}
		defer chClient.Close()
		archiveStore = store.NewArchiveStore(chClient)
	} else {
		log.Info().Msg("ClickHouse archive not configured, time-series stats disabled")
	}

	userStore := store.NewUserStore(dbClient.DB)
	eventStore := store.NewEventStore(dbClient.DB)
	statsStore := store.NewStatsStore(dbClient.DB)
	dispatcher := dispatch.New(statsStore)

	authHandlers := handlers.NewAuthHandlers(userStore)
	statsHandlers := handlers.NewStatsHandlers(statsStore, archiveStore)

	var archiver handlers.Archiver
	if archiveStore != nil {
		archiver = archiveStore
	}
	ingestHandlers := handlers.NewIngestHandlers(eventStore, dispatcher, archiver)

	r := gin.Default()
	r.HandleMethodNotAllowed = true

	// The tracking script POSTs here from every page; CORS is wide open and
	// anything other than POST/OPTIONS gets 405.
	ingest := r.Group("/analytics-ingest")
	ingest.Use(middleware.AnalyticsCORS())
	{
		ingest.POST("", ingestHandlers.Ingest)
		ingest.OPTIONS("", func(c *gin.Context) { c.Status(http.StatusOK) })
	}

	api := r.Group("/api")
	api.Use(middleware.AdminCORS())
	{
		api.POST("/signup", authHandlers.Signup)
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		protected := api.Group("/stats")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/top-pages", statsHandlers.GetTopPages)
			protected.GET("/breweries", statsHandlers.GetBreweryStats)
			protected.GET("/conversions", statsHandlers.GetRecentConversions)
			protected.GET("/performance", statsHandlers.GetPerformanceSummary)
			protected.GET("/event-counts", statsHandlers.GetEventCountsOverTime)
			protected.GET("/unique-users", statsHandlers.GetUniqueUsersOverTime)
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Info().Str("port", port).Msg("analytics API server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exiting")
}

func initLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if os.Getenv("APP_ENV") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Str("service", "beerpath-api").Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "beerpath-api").
		Logger()
}
