package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is one pushed event.
type wsMessage struct {
	Type string `json:"type"` // pair_state or order
	Data any    `json:"data"`
}

// websocket pushes pair-state transitions and order events until the client leaves.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	if s.bus == nil {
		_ = conn.WriteJSON(gin.H{"error": "bus not ready"})
		return
	}

	states, unsubStates := s.bus.PairStates.Subscribe(100)
	defer unsubStates()
	orders, unsubOrders := s.bus.Orders.Subscribe(100)
	defer unsubOrders()

	// The read side only detects the close; clients send nothing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		var msg wsMessage
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			continue
		case ch, ok := <-states:
			if !ok {
				return
			}
			msg = wsMessage{Type: "pair_state", Data: ch}
		case ev, ok := <-orders:
			if !ok {
				return
			}
			msg = wsMessage{Type: "order", Data: ev}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			s.log.Debug().Err(err).Msg("ws write failed")
			return
		}
	}
}
