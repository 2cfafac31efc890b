package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"stagehand/api/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Credential extracts the bearer token from the Authorization header or the
// access_token query parameter. Browsers cannot set headers on websocket
// upgrades, hence the query fallback.
func Credential(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	allowed := h.opts.AllowedOrigin
	return origin == "" || allowed == "" || allowed == "*" || origin == allowed
}

// ServeHTTP upgrades the request and runs the connection until it closes.
// A missing or invalid credential still connects, as a guest.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var identity *auth.Identity
	if token := Credential(r); token != "" {
		ident, err := auth.ParseToken(h.opts.Secret, token)
		if err != nil {
			log.Printf("realtime: rejecting credential from %s: %v", r.RemoteAddr, err)
		} else {
			identity = &ident
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade failed: %v", err)
		return
	}

	c := h.Register(identity)
	if identity != nil {
		log.Printf("realtime: client connected: %s (user %s)", c.id, identity.UserID)
	} else {
		log.Printf("realtime: client connected: %s (anonymous)", c.id)
	}

	go h.writePump(ws, c)
	h.readPump(r, ws, c)
}

func (h *Hub) readPump(r *http.Request, ws *websocket.Conn, c *Conn) {
	defer func() {
		h.Unregister(c)
		_ = ws.Close()
		log.Printf("realtime: client disconnected: %s", c.id)
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime: read from %s: %v", c.id, err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendError(c, MsgMalformedPayload)
			continue
		}
		h.Handle(ctx, c, env)
	}
}

func (h *Hub) writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("realtime: write to %s: %v", c.id, err)
				c.kick()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.kick()
				return
			}
		case <-c.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
