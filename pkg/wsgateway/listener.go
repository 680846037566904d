package wsgateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pqvpn/pqvpn/pkg/logging"
)

// Listener upgrades incoming HTTP requests to WebSocket connections and
// hands each one off as a server-side Gateway.
type Listener struct {
	upgrader websocket.Upgrader
	config   Config
	accept   chan *Gateway
	logger   *logging.Logger
}

// NewListener builds a Listener that accepts frames up to config.MaxFrameSize.
// A nil logger falls back to logging.GetDefaultLogger().
func NewListener(config Config, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &Listener{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: config.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		config: config,
		accept: make(chan *Gateway, 16),
		logger: logger,
	}
}

// ServeHTTP upgrades the connection and enqueues the resulting Gateway for
// Accept. Register this on the mux path the gateway listens on.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("wsgateway: upgrade failed", logging.Fields{"error": err.Error()})
		return
	}
	l.accept <- Accept(conn, l.config, l.logger)
}

// Accept blocks until a new Gateway has completed its WebSocket upgrade,
// or the timeout elapses.
func (l *Listener) Accept(timeout time.Duration) (*Gateway, error) {
	select {
	case g := <-l.accept:
		return g, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("wsgateway: accept timed out after %s", timeout)
	}
}
