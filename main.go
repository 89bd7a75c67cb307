package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"watchtally/api"
	"watchtally/config"
	"watchtally/handlers"
	"watchtally/internal/database"
	"watchtally/services/membership"
	"watchtally/services/scheduler"
	"watchtally/services/sources"
	"watchtally/services/sources/emby"
	"watchtally/services/sources/jellyfin"
	"watchtally/services/sources/tautulli"
	syncsvc "watchtally/services/sync"
	"watchtally/utils"

	"github.com/gorilla/mux"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	syncOnce := flag.Bool("sync-once", false, "run a full sync and exit")
	flag.Parse()

	fmt.Println("watchtally starting...")

	configPath := os.Getenv("WATCHTALLY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("data", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Generate an admin PIN on first run
	settings.Server.PIN = strings.TrimSpace(settings.Server.PIN)
	if settings.Server.PIN == "" {
		pin, err := utils.GeneratePIN()
		if err != nil {
			log.Fatalf("failed to generate PIN: %v", err)
		}
		settings.Server.PIN = pin
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist generated PIN: %v", err)
		}
		fmt.Printf("Generated admin PIN: %s\n", pin)
	}

	// Open the store and run migrations
	db, err := database.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	accountRepo := database.NewAccountRepository(db.Connection())
	watchRepo := database.NewWatchRepository(db.Connection())

	// Register whichever backends are configured; none is a valid (if
	// useless) deployment and only disables syncing.
	registry := sources.NewRegistry()
	if settings.Sources.Jellyfin.Configured() {
		registry.Register(jellyfin.NewClient(settings.Sources.Jellyfin.URL, settings.Sources.Jellyfin.APIKey))
		log.Println("[main] jellyfin source configured")
	}
	if settings.Sources.Emby.Configured() {
		registry.Register(emby.NewClient(settings.Sources.Emby.URL, settings.Sources.Emby.APIKey))
		log.Println("[main] emby source configured")
	}
	if settings.Sources.Tautulli.Configured() {
		registry.Register(tautulli.NewClient(settings.Sources.Tautulli.URL, settings.Sources.Tautulli.APIKey))
		log.Println("[main] plex source configured via tautulli")
	}
	if registry.Len() == 0 {
		log.Println("[main] warning: no sources configured, sync runs will be no-ops")
	}

	syncService := syncsvc.NewService(registry, accountRepo, watchRepo, settings.Sync)
	membershipService, err := membership.NewService(accountRepo, watchRepo, settings.Membership)
	if err != nil {
		log.Fatalf("invalid membership policy: %v", err)
	}

	if *syncOnce {
		summary, err := syncService.RunFull(context.Background())
		if err != nil {
			log.Fatalf("sync failed: %v", err)
		}
		fmt.Printf("synced %d accounts (%d failed), %d seconds imported\n",
			summary.AccountsSynced, summary.AccountsFailed, summary.SecondsImported)
		return
	}

	schedulerService := scheduler.NewService(syncService, settings.Sync)
	if err := schedulerService.Start(context.Background()); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	syncHandler := handlers.NewSyncHandler(syncService, watchRepo)
	watchHandler := handlers.NewWatchHandler(watchRepo, accountRepo)
	membershipHandler := handlers.NewMembershipHandler(membershipService)
	accountsHandler := handlers.NewAccountsHandler(accountRepo)

	r := mux.NewRouter()
	api.Register(r, settings.Server.PIN, syncHandler, watchHandler, membershipHandler, accountsHandler)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := schedulerService.Stop(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
