// Package live pushes every state change of a session to its websocket
// connections.
package live

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/ytakahashi/firetodo/internal/herr"
	"github.com/ytakahashi/firetodo/internal/metrics"
	"github.com/ytakahashi/firetodo/internal/session"
	"github.com/ytakahashi/firetodo/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// Message is one push to the client.
type Message struct {
	State store.State `json:"state"`
	HTML  string      `json:"html,omitempty"`
}

// Fragmenter renders the HTML sent alongside the state.
type Fragmenter interface {
	Fragment(st store.State) (string, error)
}

type Handler struct {
	upgrader websocket.Upgrader
	view     Fragmenter
	log      *slog.Logger
}

func NewHandler(view Fragmenter, log *slog.Logger) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		view: view,
		log:  log,
	}
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, data []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}

// Serve upgrades the request and streams the session's state until the
// client goes away.
func (h *Handler) Serve(c echo.Context) error {
	s, ok := session.FromContext(c)
	if !ok {
		return herr.Unauthorized(errors.New("no session"), "No session data on context")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already replied.
		h.log.Warn("failed to upgrade connection", "error", err)
		return nil
	}
	defer conn.Close()

	log := h.log.With("conn", uuid.NewString(), "session", s.ID()[:8])
	log.Debug("live connection opened")
	metrics.LiveConnected()
	defer metrics.LiveDisconnected()

	release := s.Attach()
	defer release()

	// Latest state wins: a slow client skips intermediate states.
	updates := make(chan store.State, 1)
	push := func(st store.State) {
		select {
		case updates <- st:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- st:
			default:
			}
		}
	}
	unsubscribe := s.App().Store().Watch(push)
	defer unsubscribe()

	var writeMu sync.Mutex
	done := make(chan struct{})
	go h.readLoop(conn, done, log)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Debug("live connection closed")
			return nil
		case <-c.Request().Context().Done():
			herr.WSClose(log, conn, "server shutting down")
			return nil
		case st := <-updates:
			data, err := h.encode(st)
			if err != nil {
				herr.WS(log, conn, err, "failed to encode state")
				return nil
			}
			if err := writeMessage(conn, &writeMu, websocket.TextMessage, data); err != nil {
				log.Debug("write failed", "error", err)
				return nil
			}
		case <-ticker.C:
			if err := writeMessage(conn, &writeMu, websocket.PingMessage, nil); err != nil {
				log.Debug("ping failed", "error", err)
				return nil
			}
		}
	}
}

func (h *Handler) encode(st store.State) ([]byte, error) {
	msg := Message{State: st}
	if h.view != nil && st.Auth.User != nil {
		html, err := h.view.Fragment(st)
		if err != nil {
			return nil, err
		}
		msg.HTML = html
	}
	return json.Marshal(msg)
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *Handler) readLoop(conn *websocket.Conn, done chan<- struct{}, log *slog.Logger) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("unexpected close", "error", err)
			}
			return
		}
	}
}
