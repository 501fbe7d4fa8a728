package web

import (
	"net/http"
	"time"

	"github.com/fpang/lumina-enhancer/internal/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// GET /api/events
//
// Upgrades to a WebSocket that receives the session View as JSON on
// connect and after every state change. The session must already exist.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		httpError(w, http.StatusNotFound, "no session")
		return
	}
	sess, ok := s.reg.Get(r.Context(), c.Value)
	if !ok {
		httpError(w, http.StatusNotFound, "no session")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session", sess.ID()).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	views := make(chan session.View, 8)
	unsubscribe := sess.Subscribe(func(v session.View) {
		select {
		case views <- v:
		default:
			log.Warn().Str("session", sess.ID()).Str("state", v.State).Msg("Dropping view for slow WebSocket client")
		}
	})
	defer unsubscribe()

	log.Debug().Str("session", sess.ID()).Msg("WebSocket connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := writeView(conn, sess.View()); err != nil {
		return
	}
	for {
		select {
		case v := <-views:
			if err := writeView(conn, v); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			log.Debug().Str("session", sess.ID()).Msg("WebSocket closed")
			return
		}
	}
}

func writeView(conn *websocket.Conn, v session.View) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
