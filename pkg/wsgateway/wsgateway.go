// Package wsgateway carries handshake and transport-layer frames over a
// WebSocket connection. It replaces the framed application-protocol
// transport it is adapted from with raw byte frames: pkg/handshake defines
// the handshake wire format and cmd/pqvpnctl encrypts data packets with the
// session AEAD before handing them over, so the gateway has no payload of
// its own to interpret.
package wsgateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pqvpn/pqvpn/pkg/logging"
)

// Config configures a Gateway's dial and I/O behavior.
type Config struct {
	URL              string
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	MaxFrameSize     int64
}

// DefaultConfig returns sane defaults for a Gateway.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     20 * time.Second,
		MaxFrameSize:     65536,
	}
}

// Gateway manages one WebSocket connection carrying binary frames.
type Gateway struct {
	config Config
	conn   *websocket.Conn

	recvChan chan []byte
	sendChan chan []byte
	errChan  chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	connected bool
	logger    *logging.Logger
}

// New creates a Gateway in its unconnected state. A nil logger falls back
// to logging.GetDefaultLogger().
func New(config Config, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		config:   config,
		recvChan: make(chan []byte, 100),
		sendChan: make(chan []byte, 100),
		errChan:  make(chan error, 10),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Dial connects to the configured peer endpoint.
func (g *Gateway) Dial() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connected {
		return fmt.Errorf("already connected")
	}

	u, err := url.Parse(g.config.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: g.config.HandshakeTimeout,
		TLSClientConfig:  g.config.TLSConfig,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := &net.Dialer{Timeout: g.config.HandshakeTimeout}
			return d.DialContext(ctx, network, addr)
		},
	}

	conn, _, err := dialer.DialContext(g.ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(g.config.MaxFrameSize)

	g.conn = conn
	g.connected = true

	g.logger.Info("wsgateway: dialed peer", logging.Fields{"url": g.config.URL})

	g.wg.Add(3)
	go g.readLoop()
	go g.writeLoop()
	go g.pingLoop()

	return nil
}

// Accept adopts an already-upgraded server-side connection (see
// Listener.Accept) and starts its I/O loops. A nil logger falls back to
// logging.GetDefaultLogger().
func Accept(conn *websocket.Conn, config Config, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		config:    config,
		conn:      conn,
		recvChan:  make(chan []byte, 100),
		sendChan:  make(chan []byte, 100),
		errChan:   make(chan error, 10),
		ctx:       ctx,
		cancel:    cancel,
		connected: true,
		logger:    logger,
	}
	conn.SetReadLimit(config.MaxFrameSize)

	logger.Info("wsgateway: accepted connection", logging.Fields{"remote_addr": safeRemoteAddr(conn)})

	g.wg.Add(3)
	go g.readLoop()
	go g.writeLoop()
	go g.pingLoop()

	return g
}

func safeRemoteAddr(conn *websocket.Conn) string {
	if conn == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

// Close gracefully shuts down the gateway.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.cancel()
	g.wg.Wait()
	g.logger.Info("wsgateway: closing connection")

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing")
		_ = g.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		err := g.conn.Close()
		g.conn = nil
		g.connected = false
		close(g.recvChan)
		close(g.sendChan)
		close(g.errChan)
		return err
	}
	return nil
}

// Send queues a binary frame (a serialized handshake.Message or an
// AEAD-encrypted data packet) for transmission.
func (g *Gateway) Send(frame []byte) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.connected {
		return fmt.Errorf("not connected")
	}

	select {
	case g.sendChan <- frame:
		return nil
	case <-g.ctx.Done():
		return fmt.Errorf("gateway closed")
	default:
		return fmt.Errorf("send channel full")
	}
}

// Receive returns the channel of incoming binary frames.
func (g *Gateway) Receive() <-chan []byte { return g.recvChan }

// Errors returns the channel of transport-level errors.
func (g *Gateway) Errors() <-chan error { return g.errChan }

// IsConnected reports whether the gateway currently holds a live connection.
func (g *Gateway) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

func (g *Gateway) readLoop() {
	defer g.wg.Done()

	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}

		if g.config.ReadTimeout > 0 {
			_ = g.conn.SetReadDeadline(time.Now().Add(g.config.ReadTimeout))
		}

		_, data, err := g.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("wsgateway: read error", logging.Fields{"error": err.Error()})
				select {
				case g.errChan <- fmt.Errorf("read error: %w", err):
				default:
				}
			}
			return
		}

		select {
		case g.recvChan <- data:
		case <-g.ctx.Done():
			return
		default:
			select {
			case g.errChan <- fmt.Errorf("receive channel full, dropping frame"):
			default:
			}
		}
	}
}

func (g *Gateway) writeLoop() {
	defer g.wg.Done()

	for {
		select {
		case <-g.ctx.Done():
			return

		case frame := <-g.sendChan:
			if g.config.WriteTimeout > 0 {
				_ = g.conn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
			}
			if err := g.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				select {
				case g.errChan <- fmt.Errorf("write error: %w", err):
				default:
				}
				return
			}
		}
	}
}

func (g *Gateway) pingLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return

		case <-ticker.C:
			if err := g.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				select {
				case g.errChan <- fmt.Errorf("ping error: %w", err):
				default:
				}
				return
			}
		}
	}
}

// RemoteAddr returns the connection's remote address.
func (g *Gateway) RemoteAddr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.conn != nil {
		return g.conn.RemoteAddr()
	}
	return nil
}

// LocalAddr returns the connection's local address.
func (g *Gateway) LocalAddr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.conn != nil {
		return g.conn.LocalAddr()
	}
	return nil
}
