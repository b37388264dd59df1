package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-catalog/internal/database"
	"media-catalog/internal/handlers"
	"media-catalog/internal/logging"
	"media-catalog/internal/middleware"
	"media-catalog/internal/startup"

	"github.com/gorilla/mux"
)

func main() {
	startTime := time.Now()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer db.Close()
	startup.LogDatabaseInit(time.Since(dbStart))

	// Keep the connection pool gauge fresh for scrapes.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			db.UpdateDBMetrics()
		}
	}()

	h := handlers.New(db, config)

	router := setupRouter(h, config)
	startup.LogHTTPRoutes(router)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Logger(loggingConfig)(router)
	handler = middleware.Metrics(middleware.DefaultMetricsConfig())(handler)
	handler = middleware.Compression(middleware.DefaultCompressionConfig())(handler)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go handleShutdown(srv)

	startup.LogServerStarted(config.Port, time.Since(startTime))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers, config *startup.Config) *mux.Router {
	r := mux.NewRouter()

	// Probes and version
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	if config.MetricsEnabled {
		r.Handle("/metrics", h.MetricsHandler()).Methods("GET")
	}

	v1 := r.PathPrefix("/v1").Subrouter()

	// Search
	v1.HandleFunc("/search", h.Search).Methods("GET")
	v1.HandleFunc("/search", h.SearchPost).Methods("POST")
	v1.HandleFunc("/search/similar/{hash}", h.SearchSimilar).Methods("GET")
	v1.HandleFunc("/autocomplete", h.Autocomplete).Methods("GET")

	// Media
	v1.HandleFunc("/media", h.ListMedia).Methods("GET")
	v1.HandleFunc("/media", h.UploadMedia).Methods("POST")
	v1.HandleFunc("/media/duplicates", h.Duplicates).Methods("GET")
	v1.HandleFunc("/media/by_hash/{sha256}", h.GetMediaBySHA256).Methods("GET")
	v1.HandleFunc("/media/{id}", h.GetMedia).Methods("GET")
	v1.HandleFunc("/media/{id}", h.PatchMedia).Methods("PATCH")
	v1.HandleFunc("/media/{id}", h.DeleteMedia).Methods("DELETE")
	v1.HandleFunc("/media/{id}/file", h.GetMediaFile).Methods("GET")
	v1.HandleFunc("/media/{id}/thumbnail", h.GetMediaThumbnail).Methods("GET")

	// Collections
	v1.HandleFunc("/collections", h.ListCollections).Methods("GET")
	v1.HandleFunc("/collections", h.CreateCollection).Methods("POST")
	v1.HandleFunc("/collections/by_path/{path:.*}", h.GetCollectionByPath).Methods("GET")
	v1.HandleFunc("/collections/{id}", h.GetCollection).Methods("GET")
	v1.HandleFunc("/collections/{id}", h.PatchCollection).Methods("PATCH")
	v1.HandleFunc("/collections/{id}", h.DeleteCollection).Methods("DELETE")

	// Creators
	v1.HandleFunc("/creators", h.ListCreators).Methods("GET")
	v1.HandleFunc("/creators/by_alias/{alias}", h.GetCreatorByAlias).Methods("GET")
	v1.HandleFunc("/creators/{id}", h.GetCreator).Methods("GET")
	v1.HandleFunc("/creators/{id}", h.PatchCreator).Methods("PATCH")
	v1.HandleFunc("/creators/{id}", h.DeleteCreator).Methods("DELETE")

	// Tags
	v1.HandleFunc("/tags", h.ListTags).Methods("GET")

	return r
}

func handleShutdown(srv *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logging.Info("Received signal %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Graceful shutdown failed: %v", err)
	}
}
