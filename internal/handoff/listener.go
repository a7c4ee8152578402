package handoff

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/camrelay/camrelay/internal/logger"
)

// Listener accepts producer connections on the device input endpoint and
// feeds decoded frames into a Receiver. One producer is active at a time;
// a new connection supersedes the old one.
type Listener struct {
	receiver *Receiver
	upgrader websocket.Upgrader
}

// NewListener creates a listener feeding the given receiver.
func NewListener(receiver *Receiver) *Listener {
	return &Listener{
		receiver: receiver,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // producer connects from localhost, not a browser
			},
		},
	}
}

// ServeHTTP upgrades the request to a websocket and runs the frame read
// loop until the producer disconnects.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("handoff-listener")

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	log.Info().Str("remote", ws.RemoteAddr().String()).Msg("Producer connected")
	l.receiver.attach(ws)
	defer func() {
		l.receiver.detach(ws)
		ws.Close()
		log.Info().Str("remote", ws.RemoteAddr().String()).Msg("Producer disconnected")
	}()

	for {
		msgType, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage || isCreditGrant(msg) {
			continue
		}

		f, err := decodeFrame(msg)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping malformed frame message")
			continue
		}
		l.receiver.deliver(f)
	}
}
