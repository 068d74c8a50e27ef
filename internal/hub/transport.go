package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Události, které posílá klient.
const (
	EventSetNickname = "set-nickname"
	EventMessage     = "message"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// Hooks propojují transport se zbytkem aplikace. Obě pole jsou nepovinná.
type Hooks struct {
	// OnConnect se volá hned po registraci, před odesláním seznamu uživatelů.
	OnConnect func(ctx context.Context, sub *Subscriber)
	// OnMessage dostane data události "message". Chyba se vrátí odesílateli jako událost "error".
	OnMessage func(ctx context.Context, sub *Subscriber, data json.RawMessage) error
}

// inbound je rámec od klienta: {"event": ..., "data": ...}
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type privateMessage struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

// Transport obsluhuje WebSocket spojení a předává je Hubu.
type Transport struct {
	hub      *Hub
	hooks    Hooks
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// writeTimeout: zápis, který nestihne doběhnout, odpojí odběratele.
	writeTimeout time.Duration
}

func NewTransport(h *Hub, hooks Hooks, logger *slog.Logger) *Transport {
	return &Transport{
		hub:          h,
		hooks:        hooks,
		logger:       logger,
		writeTimeout: writeWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard běží na jiném originu, CORS řešíme na HTTP vrstvě.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP provede upgrade a blokuje, dokud spojení žije.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader už klientovi poslal chybovou odpověď.
		t.logger.Warn("WebSocket upgrade selhal", "error", err, "remote", r.RemoteAddr)
		return
	}

	ctx := r.Context()
	sub := t.hub.Connect()
	defer t.hub.Disconnect(sub.ID())

	if t.hooks.OnConnect != nil {
		t.hooks.OnConnect(ctx, sub)
	}
	if err := t.hub.SendTo(sub.ID(), EventUserList, t.hub.Roster()); err != nil {
		t.logger.Error("Nelze poslat seznam uživatelů", "error", err)
	}

	go t.writePump(conn, sub)
	t.readPump(ctx, conn, sub)
}

// writePump je jediný, kdo do spojení zapisuje.
func (t *Transport) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-sub.Done():
			conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-sub.Ready():
			for _, b := range sub.Drain() {
				conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					t.logger.Debug("Zápis do WebSocketu selhal, odpojuji", "connection_id", sub.ID(), "error", err)
					t.hub.Disconnect(sub.ID())
					return
				}
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.hub.Disconnect(sub.ID())
				return
			}
		}
	}
}

func (t *Transport) readPump(ctx context.Context, conn *websocket.Conn, sub *Subscriber) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Debug("WebSocket neočekávaně zavřen", "connection_id", sub.ID(), "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.reply(sub, "neplatný rámec")
			continue
		}
		t.dispatch(ctx, sub, msg)
	}
}

func (t *Transport) dispatch(ctx context.Context, sub *Subscriber, msg inbound) {
	switch msg.Event {
	case EventSetNickname:
		var alias string
		if err := json.Unmarshal(msg.Data, &alias); err != nil {
			t.reply(sub, "přezdívka musí být text")
			return
		}
		if err := t.hub.SetAlias(sub.ID(), alias); err != nil {
			t.reply(sub, err.Error())
		}

	case EventPrivateMessage:
		var pm privateMessage
		if err := json.Unmarshal(msg.Data, &pm); err != nil || pm.To == "" {
			t.reply(sub, "neplatná soukromá zpráva")
			return
		}
		if err := t.hub.Direct(sub.ID(), pm.To, pm.Content); err != nil {
			t.reply(sub, err.Error())
		}

	case EventMessage:
		if t.hooks.OnMessage == nil {
			return
		}
		if err := t.hooks.OnMessage(ctx, sub, msg.Data); err != nil {
			t.reply(sub, err.Error())
		}

	default:
		t.logger.Debug("Neznámá událost od klienta", "connection_id", sub.ID(), "event", msg.Event)
	}
}

func (t *Transport) reply(sub *Subscriber, text string) {
	if err := t.hub.SendTo(sub.ID(), EventError, text); err != nil {
		t.logger.Error("Nelze poslat chybu klientovi", "error", err)
	}
}
