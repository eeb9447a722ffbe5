package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coterie-games/townsquare/pkg/log"
	"github.com/coterie-games/townsquare/pkg/messages"
	"github.com/coterie-games/townsquare/pkg/sessions"
)

// WSServer accepts WebSocket connections and hands each one to the
// session manager. The handshake metadata travels in the query string:
// /ws?room=<roomID>&player=<playerID>&name=<displayName>.
type WSServer struct {
	port           int
	sessionManager *sessions.Manager
	upgrader       websocket.Upgrader
}

type NewWSServerOptions struct {
	Port           int
	SessionManager *sessions.Manager
}

func NewWSServer(opts NewWSServerOptions) *WSServer {
	return &WSServer{
		port:           opts.Port,
		sessionManager: opts.SessionManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the HTTP handler serving the /ws endpoint.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start starts the WebSocket server and blocks until ctx is done or the
// listener fails.
func (s *WSServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	server := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("WebSocket server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("WebSocket server closed")
			return nil
		}
		return fmt.Errorf("websocket server error: %w", err)
	}
	return nil
}

func (s *WSServer) handleWS(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player")
	roomID := r.URL.Query().Get("room")
	displayName := r.URL.Query().Get("name")

	// Missing identity is refused before any state is created.
	if playerID == "" || roomID == "" {
		http.Error(w, "missing player or room", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade to WebSocket: %v", err)
		return
	}
	log.Debug("New WebSocket connection from %s", ws.RemoteAddr().String())

	conn := NewClientConn(ws)
	sess, err := s.sessionManager.Admit(playerID, roomID, displayName, conn)
	if err != nil {
		reason := "failed to join"
		if errors.Is(err, sessions.ErrRoomFull) {
			reason = "room is full"
		}
		if errMsg, merr := messages.New(messages.MessageTypeServerError, &messages.ServerError{Message: reason}); merr == nil {
			conn.Deliver(errMsg)
		}
		conn.Close()
		log.Info("Admission refused for player %s in room %s: %v", playerID, roomID, err)
		return
	}

	go s.readLoop(ws, conn, sess)
}

// readLoop processes inbound messages in arrival order and runs the
// session teardown when the transport closes.
func (s *WSServer) readLoop(ws *websocket.Conn, conn *ClientConn, sess *sessions.Session) {
	defer func() {
		sess.Teardown(sessions.TeardownDisconnect)
		conn.Close()
	}()

	ws.SetReadLimit(maxInboundMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug("Error reading WebSocket message from %s: %v", ws.RemoteAddr().String(), err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))

		msg, err := messages.Deserialize(payload)
		if err != nil {
			log.Debug("Session %s sent an undecodable frame: %v", sess.ID(), err)
			continue
		}
		sess.HandleMessage(msg)
	}
}
