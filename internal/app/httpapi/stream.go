package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/lottery_layer/internal/events"
	"github.com/R3E-Network/lottery_layer/internal/httputil"
)

const (
	streamBuffer    = 64
	streamReplayMax = 100
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

// stream upgrades to a websocket and forwards committed lottery events.
// ?type= restricts the stream to one event type and ?replay=N first sends the
// last N buffered events, oldest first. The subscription starts before the
// replay is read, so an event may be delivered twice around that boundary;
// ids are unique. Slow consumers are disconnected.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventType := q.Get("type")
	replay := 0
	if raw := q.Get("replay"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "replay must be a non-negative integer")
			return
		}
		if n > streamReplayMax {
			n = streamReplayMax
		}
		replay = n
	}

	matches := func(e events.Event) bool { return eventType == "" || e.Type == eventType }

	ch := make(chan events.Event, streamBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once
	unsubscribe := h.events.SubscribeFiltered(matches, func(e events.Event) {
		select {
		case ch <- e:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var backlog []events.Event
	if replay > 0 {
		if eventType == "" {
			backlog = h.events.Recent(replay)
		} else {
			backlog = h.events.RecentByType(eventType, replay)
		}
	}

	closed := make(chan struct{})
	go readPump(conn, closed)

	for i := len(backlog) - 1; i >= 0; i-- {
		if err := writeEvent(conn, backlog[i]); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e := <-ch:
			if err := writeEvent(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-overflow:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "consumer too slow"),
				time.Now().Add(writeWait))
			return
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.cors.Allows(origin) {
		return true
	}
	return sameHost(r, origin)
}

func sameHost(r *http.Request, origin string) bool {
	for _, scheme := range []string{"http://", "https://"} {
		if origin == scheme+r.Host {
			return true
		}
	}
	return false
}

func writeEvent(conn *websocket.Conn, e events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

// readPump discards client frames and closes done once the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
