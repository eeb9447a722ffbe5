package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coterie-games/townsquare/pkg/api"
	"github.com/coterie-games/townsquare/pkg/broadcast"
	"github.com/coterie-games/townsquare/pkg/log"
	"github.com/coterie-games/townsquare/pkg/network"
	"github.com/coterie-games/townsquare/pkg/queue"
	"github.com/coterie-games/townsquare/pkg/repositories"
	"github.com/coterie-games/townsquare/pkg/rooms"
	"github.com/coterie-games/townsquare/pkg/sessions"
	"github.com/coterie-games/townsquare/pkg/workers"
)

func main() {
	wsPort := flag.Int("ws-port", 8080, "WebSocket port to listen on")
	apiPort := flag.Int("api-port", 8081, "HTTP API port to listen on")
	logLevel := flag.String("log-level", "info", "Log level")
	logFile := flag.String("log-file", "", "Optional rotated log file path")
	maxPlayers := flag.Int("max-players-per-room", rooms.DefaultMaxPlayersPerRoom, "Maximum players per room")
	staleThreshold := flag.Duration("stale-threshold", workers.DefaultStaleThreshold, "Evict players idle longer than this")
	reapInterval := flag.Duration("reap-interval", workers.DefaultReapInterval, "How often the stale sweep runs")
	sqliteFile := flag.String("sqlite-file", "data/townsquare.db", "SQLite archive path (used when DATABASE_URL is unset)")
	migrationsDir := flag.String("migrations", "migrations/sqlite", "SQLite migrations directory")
	flag.Parse()

	parsedLogLevel, err := log.ParseLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	log.Init(parsedLogLevel, *logFile)
	defer log.Sync()
	log.Info("Log level set to %s", parsedLogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repository repositories.Repository
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		repository, err = repositories.NewPostgresRepository(ctx, connStr)
		if err != nil {
			panic(fmt.Sprintf("Failed to connect to postgres: %v", err))
		}
		log.Info("Archiving to postgres")
	} else {
		repository, err = repositories.NewSQLiteRepository(ctx, *sqliteFile, *migrationsDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to open sqlite archive: %v", err))
		}
		log.Info("Archiving to sqlite at %s", *sqliteFile)
	}

	registry := rooms.NewRegistry(*maxPlayers)
	broadcaster := broadcast.NewEngine(registry)
	archiveQueue := queue.NewInMemoryQueue(1024)

	sessionManager := sessions.NewManager(sessions.NewManagerOptions{
		Registry:     registry,
		Broadcaster:  broadcaster,
		ArchiveQueue: archiveQueue,
	})

	archiveWorker := workers.NewArchiveWorker(workers.NewArchiveWorkerOptions{
		Repository:   repository,
		ArchiveQueue: archiveQueue,
	})
	go archiveWorker.Start(ctx)

	reaper := workers.NewStaleSessionReaper(workers.NewStaleSessionReaperOptions{
		Registry:  registry,
		Threshold: *staleThreshold,
		Interval:  *reapInterval,
	})
	go reaper.Start(ctx)

	apiServer := api.NewAPIServer(api.NewAPIServerOptions{
		Port:       *apiPort,
		Registry:   registry,
		Repository: repository,
	})
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			log.Error("API server exited: %v", err)
		}
	}()

	wsServer := network.NewWSServer(network.NewWSServerOptions{
		Port:           *wsPort,
		SessionManager: sessionManager,
	})
	if err := wsServer.Start(ctx); err != nil {
		log.Error("WebSocket server exited: %v", err)
	}

	// Flush any records queued during shutdown before closing the archive.
	archiveWorker.Flush(context.Background())
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repository.Close(closeCtx); err != nil {
		log.Error("Failed to close repository: %v", err)
	}
}
