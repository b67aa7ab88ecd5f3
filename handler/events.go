package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"nfcunha/vigil/core/eventbus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// EventHandler relays event bus traffic to websocket clients.
type EventHandler struct {
	bus      eventbus.Bus
	upgrader websocket.Upgrader
}

// NewEventHandler creates a new event handler. allowedOrigins empty
// accepts any origin.
func NewEventHandler(bus eventbus.Bus, allowedOrigins []string) *EventHandler {
	return &EventHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
	}
}

// Stream handles GET /events/ws (WebSocket)
// Query parameters:
//   - channels: comma separated channel names (default all)
func (h *EventHandler) Stream(c *gin.Context) {
	channels := eventbus.AllChannels
	if q := c.Query("channels"); q != "" {
		channels = nil
		for _, ch := range strings.Split(q, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				channels = append(channels, ch)
			}
		}
	}

	// Subscribe before upgrading so a broker failure can still be reported as JSON.
	sub, err := h.bus.Subscribe(c.Request.Context(), channels...)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "Event bus unavailable",
			"detail": err.Error(),
		})
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Warnf("Failed to upgrade to WebSocket: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reading is only needed to notice the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	logrus.WithField("channels", channels).Debug("Event stream opened")
	for {
		select {
		case <-ctx.Done():
			logrus.Debug("Event stream closed")
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-sub.Events():
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				logrus.Debugf("Event stream write failed: %v", err)
				return
			}
		}
	}
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
