package httpinterface

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamBalance pushes the current balance and every following update to a
// websocket client until either side goes away.
func (h *handler) streamBalance(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.WithError(err).Debug("http: failed to upgrade balance stream")
		return
	}
	defer conn.Close()

	updates := h.engine.SubscribeBalance()
	defer h.engine.UnsubscribeBalance(updates)

	// Clients never send anything, reading only serves to detect a close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(
					err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
				) {
					log.WithError(err).Debug("http: balance stream closed")
				}
				return
			}
		}
	}()

	if err := writeBalance(conn, h.engine.Balance()); err != nil {
		return
	}

	for {
		select {
		case <-gone:
			return
		case b, ok := <-updates:
			if !ok {
				//nolint
				conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(streamWriteTimeout),
				)
				return
			}
			if err := writeBalance(conn, b); err != nil {
				log.WithError(err).Debug("http: failed to push balance")
				return
			}
		}
	}
}

func writeBalance(conn *websocket.Conn, b domain.BalanceState) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(newBalanceInfo(b))
}
