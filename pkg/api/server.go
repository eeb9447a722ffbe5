// Package api exposes a read-only HTTP inspection surface: process
// status, room occupancy, and the chat archive.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/coterie-games/townsquare/pkg/log"
	"github.com/coterie-games/townsquare/pkg/repositories"
	"github.com/coterie-games/townsquare/pkg/rooms"
)

type APIServer struct {
	port    int
	handler http.Handler
}

type NewAPIServerOptions struct {
	Port       int
	Registry   *rooms.Registry
	Repository repositories.Repository
}

// NewAPIServer creates a new http server for handling API requests.
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	startedAt := time.Now()

	r := mux.NewRouter()
	r.HandleFunc("/status", handleStatus(opts.Registry, startedAt)).Methods(http.MethodGet)
	r.HandleFunc("/rooms", handleListRooms(opts.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}", handleGetRoom(opts.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/chat", handleRoomChat(opts.Repository)).Methods(http.MethodGet)

	return &APIServer{
		port:    opts.Port,
		handler: r,
	}
}

// Handler returns the underlying router.
func (s *APIServer) Handler() http.Handler {
	return s.handler
}

// Start starts the API server and blocks until ctx is done or the
// listener fails.
func (s *APIServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	server := &http.Server{Addr: addr, Handler: s.handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("API server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return nil
		}
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}
