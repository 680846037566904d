// Package quicgateway carries the post-handshake encrypted data channel
// over QUIC. Each Connection is a single bidirectional stream, framed
// with a 4-byte big-endian length prefix, encrypted with the
// cryptocore.AEAD keyed by the session key pkg/sessionkdf derived for
// that direction.
package quicgateway

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/pqvpn/pqvpn/pkg/cryptocore"
	"github.com/pqvpn/pqvpn/pkg/logging"
)

// maxFrameSize bounds a single QUIC stream frame before decryption, as a
// sanity check against a corrupt or hostile length prefix.
const maxFrameSize = 65535

// Gateway owns a QUIC listener and the set of peer connections dialed or
// accepted through it.
type Gateway struct {
	listener    *quic.Listener
	connections map[string]*Connection
	connMu      sync.RWMutex
	tlsConfig   *tls.Config
	quicConfig  *quic.Config
	logger      *logging.Logger
}

// Connection is one peer's bidirectional QUIC stream, with its directional
// AEAD cipher and monotonically increasing send nonce counter.
type Connection struct {
	conn   *quic.Conn
	stream *quic.Stream
	peerName string

	sendAEAD *cryptocore.AEAD
	recvAEAD *cryptocore.AEAD
	sendSeq  uint64

	closeMu sync.Mutex
	closed  bool
	logger  *logging.Logger
}

// New creates a QUIC listener on addr. A nil logger falls back to
// logging.GetDefaultLogger().
func New(addr string, tlsConfig *tls.Config, logger *logging.Logger) (*Gateway, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP listener: %w", err)
	}

	quicConfig := &quic.Config{
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: 0,
		KeepAlivePeriod:       10 * time.Second,
		MaxIdleTimeout:        30 * time.Second,
	}

	listener, err := quic.Listen(udpConn, tlsConfig, quicConfig)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to create QUIC listener: %w", err)
	}

	logger.Info("quicgateway: listening", logging.Fields{"addr": addr})

	return &Gateway{
		listener:    listener,
		connections: make(map[string]*Connection),
		tlsConfig:   tlsConfig,
		quicConfig:  quicConfig,
		logger:      logger,
	}, nil
}

// Accept waits for and accepts an incoming QUIC connection and its
// bidirectional stream. The caller installs ciphers via SetCiphers once
// the handshake over this connection has completed.
func (g *Gateway) Accept(ctx context.Context) (*Connection, error) {
	conn, err := g.listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to accept QUIC connection: %w", err)
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(1, "failed to accept stream")
		return nil, fmt.Errorf("failed to accept stream: %w", err)
	}

	c := &Connection{conn: conn, stream: stream, logger: g.logger}
	g.logger.Info("quicgateway: accepted connection", logging.Fields{"remote_addr": conn.RemoteAddr().String()})
	return c, nil
}

// Dial establishes an outbound QUIC connection and stream to a peer.
func (g *Gateway) Dial(ctx context.Context, addr, peerName string) (*Connection, error) {
	conn, err := quic.DialAddr(ctx, addr, g.tlsConfig, g.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial QUIC connection: %w", err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(1, "failed to open stream")
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	c := &Connection{conn: conn, stream: stream, peerName: peerName, logger: g.logger}

	g.connMu.Lock()
	g.connections[peerName] = c
	g.connMu.Unlock()

	g.logger.Info("quicgateway: connected to peer", logging.Fields{"peer": peerName, "addr": addr})
	return c, nil
}

// SetCiphers installs the two directional AEAD ciphers derived by
// sessionkdf.DeriveSessionKeys for this connection.
func (c *Connection) SetCiphers(send, recv *cryptocore.AEAD) {
	c.sendAEAD = send
	c.recvAEAD = recv
}

// SetPeerName records the peer name for an accepted connection, once it is
// known from the completed handshake.
func (c *Connection) SetPeerName(name string) { c.peerName = name }

// RemoteAddr returns the connection's remote network address, used to
// resolve an inbound connection to a configured peer before its identity
// is known from the handshake.
func (c *Connection) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

func nonceFromSeq(seq uint64) [cryptocore.AEADNonceSize]byte {
	var nonce [cryptocore.AEADNonceSize]byte
	binary.BigEndian.PutUint64(nonce[cryptocore.AEADNonceSize-8:], seq)
	return nonce
}

// SendFrame encrypts and writes one length-prefixed frame: [4-byte
// big-endian length][ciphertext]. The frame is sent unencrypted only if
// no cipher has been installed yet, which callers should treat as a bug
// outside of handshake bring-up.
func (c *Connection) SendFrame(frame []byte) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return fmt.Errorf("connection closed")
	}
	c.closeMu.Unlock()

	var toSend []byte
	if c.sendAEAD != nil {
		nonce := nonceFromSeq(c.sendSeq)
		c.sendSeq++
		ciphertext, err := c.sendAEAD.Seal(nonce[:], frame, nil)
		if err != nil {
			return fmt.Errorf("encryption failed: %w", err)
		}
		toSend = ciphertext
	} else {
		toSend = frame
	}

	lengthPrefix := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthPrefix, uint32(len(toSend)))

	if _, err := c.stream.Write(lengthPrefix); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := c.stream.Write(toSend); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads and decrypts one length-prefixed frame.
func (c *Connection) ReadFrame(recvSeq uint64) ([]byte, error) {
	lengthPrefix := make([]byte, 4)
	if _, err := io.ReadFull(c.stream, lengthPrefix); err != nil {
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	frameLen := binary.BigEndian.Uint32(lengthPrefix)
	if frameLen == 0 || frameLen > maxFrameSize {
		return nil, fmt.Errorf("invalid frame length: %d", frameLen)
	}

	data := make([]byte, frameLen)
	if _, err := io.ReadFull(c.stream, data); err != nil {
		return nil, fmt.Errorf("failed to read frame data: %w", err)
	}

	if c.recvAEAD == nil {
		return data, nil
	}

	nonce := nonceFromSeq(recvSeq)
	plaintext, err := c.recvAEAD.Open(nonce[:], data, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// Close gracefully closes the connection and its stream.
func (c *Connection) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.stream != nil {
		c.stream.Close()
	}
	if c.conn != nil {
		c.conn.CloseWithError(0, "connection closed")
	}

	if c.logger != nil {
		c.logger.Info("quicgateway: closed connection", logging.Fields{"peer": c.peerName})
	}
	return nil
}

// RemoveConnection drops a peer's connection from the gateway's map.
func (g *Gateway) RemoveConnection(peerName string) {
	g.connMu.Lock()
	delete(g.connections, peerName)
	g.connMu.Unlock()
}

// GetConnection retrieves a peer's active connection, if any.
func (g *Gateway) GetConnection(peerName string) (*Connection, bool) {
	g.connMu.RLock()
	defer g.connMu.RUnlock()
	c, ok := g.connections[peerName]
	return c, ok
}

// Close shuts down the gateway and all its connections.
func (g *Gateway) Close() error {
	g.connMu.Lock()
	for name, conn := range g.connections {
		conn.Close()
		delete(g.connections, name)
	}
	g.connMu.Unlock()

	if g.listener != nil {
		return g.listener.Close()
	}
	return nil
}
