package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/coterie-games/townsquare/pkg/log"
	"github.com/coterie-games/townsquare/pkg/repositories"
	"github.com/coterie-games/townsquare/pkg/rooms"
	"github.com/coterie-games/townsquare/pkg/types"
)

const defaultChatLimit = 50

type statusResponse struct {
	Uptime  string `json:"uptime"`
	Rooms   int    `json:"rooms"`
	Players int    `json:"players"`
}

type roomSummary struct {
	ID      string `json:"id"`
	Players int    `json:"players"`
}

type roomDetail struct {
	ID      string              `json:"id"`
	Players []types.PlayerState `json:"players"`
}

func handleStatus(registry *rooms.Registry, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomCount, playerCount := registry.Counts()
		writeJSON(w, statusResponse{
			Uptime:  time.Since(startedAt).Round(time.Second).String(),
			Rooms:   roomCount,
			Players: playerCount,
		})
	}
}

func handleListRooms(registry *rooms.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := registry.Rooms()
		summaries := make([]roomSummary, 0, len(all))
		for _, room := range all {
			summaries = append(summaries, roomSummary{ID: room.ID(), Players: room.Len()})
		}
		writeJSON(w, summaries)
	}
}

func handleGetRoom(registry *rooms.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["roomID"]
		room, ok := registry.Get(roomID)
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		writeJSON(w, roomDetail{ID: room.ID(), Players: room.Snapshot("")})
	}
}

func handleRoomChat(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["roomID"]
		limit := defaultChatLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		records, err := repository.ListRecentChat(r.Context(), roomID, limit)
		if err != nil {
			log.Error("Failed to list chat for room %s: %v", roomID, err)
			http.Error(w, "failed to list chat", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []repositories.ChatRecord{}
		}
		writeJSON(w, records)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response: %v", err)
	}
}
