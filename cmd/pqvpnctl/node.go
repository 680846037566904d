package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pqvpn/pqvpn/pkg/config"
	"github.com/pqvpn/pqvpn/pkg/cryptocore"
	"github.com/pqvpn/pqvpn/pkg/cryptoroute"
	"github.com/pqvpn/pqvpn/pkg/handshake"
	"github.com/pqvpn/pqvpn/pkg/handshakelog"
	"github.com/pqvpn/pqvpn/pkg/identitystore"
	"github.com/pqvpn/pqvpn/pkg/logging"
	"github.com/pqvpn/pqvpn/pkg/peerdirectory"
	"github.com/pqvpn/pqvpn/pkg/quicgateway"
	"github.com/pqvpn/pqvpn/pkg/sessionkdf"
	"github.com/pqvpn/pqvpn/pkg/tundevice"
	"github.com/pqvpn/pqvpn/pkg/wsgateway"
)

const handshakeTimeout = 10 * time.Second

var senderIndexCounter uint32

// nextSenderIndex hands out a process-unique sender_index for each
// initiator handshake attempt this node starts.
func nextSenderIndex() uint32 {
	return atomic.AddUint32(&senderIndexCounter, 1)
}

// peerLink is the data-plane side of one completed handshake: a uniform
// send/receive surface over whichever transport (wsgateway or quicgateway)
// carried the handshake, so the dispatcher below never needs to know which
// one it is talking to.
type peerLink struct {
	name      string
	sendFrame func([]byte) error
	frames    <-chan []byte
	close     func() error
}

// node owns one running node's cryptographic identity, peer bookkeeping,
// and the TUN device and transport gateways that carry its data plane.
type node struct {
	cfg       *config.Config
	logger    *logging.Logger
	provider  *cryptocore.Provider
	identity  *identitystore.Identity
	dir       *peerdirectory.Directory
	audit     *handshakelog.Store
	routes    *cryptoroute.Table
	tun       *tundevice.Device
	transport string

	quicGateway *quicgateway.Gateway

	peerHosts map[string]string // endpoint host -> peer name, for inbound resolution

	linksMu sync.RWMutex
	links   map[string]*peerLink
}

func buildPeerHostIndex(peers []config.PeerConfig) map[string]string {
	idx := make(map[string]string, len(peers))
	for _, p := range peers {
		if host := endpointHost(p.Endpoint); host != "" {
			idx[host] = p.Name
		}
	}
	return idx
}

// endpointHost extracts the bare host from a peer endpoint, which may be a
// "wss://host:port/ws" URL (ws transport) or a plain "host:port" (quic).
func endpointHost(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
	}
	if host, _, err := net.SplitHostPort(endpoint); err == nil {
		return host
	}
	return endpoint
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// resolvePeerByAddr maps an inbound connection's remote address back to a
// configured peer name. The handshake protocol never reveals the
// initiator's static identity before ProcessInitiation succeeds, so the
// responder must identify who is dialing in by network address instead.
func (n *node) resolvePeerByAddr(addr net.Addr) (string, bool) {
	if addr == nil {
		return "", false
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	name, ok := n.peerHosts[host]
	return name, ok
}

func (n *node) registerLink(link *peerLink) {
	n.linksMu.Lock()
	n.links[link.name] = link
	n.linksMu.Unlock()
	go n.pumpToTUN(link)
}

func (n *node) unregisterLink(name string) {
	n.linksMu.Lock()
	delete(n.links, name)
	n.linksMu.Unlock()
}

func (n *node) getLink(name string) *peerLink {
	n.linksMu.RLock()
	defer n.linksMu.RUnlock()
	return n.links[name]
}

func (n *node) closeAllLinks() {
	n.linksMu.Lock()
	defer n.linksMu.Unlock()
	for name, l := range n.links {
		if err := l.close(); err != nil {
			n.logger.Warn("closing link", logging.Fields{"peer": name, "error": err.Error()})
		}
	}
}

// pumpToTUN carries decrypted frames from a peer link into the TUN device,
// where the kernel routes them to whatever local process is listening.
func (n *node) pumpToTUN(link *peerLink) {
	for packet := range link.frames {
		select {
		case n.tun.WriteChannel() <- packet:
		default:
			n.logger.Warn("dispatch: TUN write channel full, dropping packet", logging.Fields{"peer": link.name})
		}
	}
}

// destinationIP extracts the destination address from an IPv4 packet's
// header. Non-IPv4 traffic (this binding does not route IPv6) is dropped.
func destinationIP(packet []byte) (net.IP, bool) {
	if len(packet) < 20 || packet[0]>>4 != 4 {
		return nil, false
	}
	return net.IP(append([]byte{}, packet[16:20]...)), true
}

// dispatchLoop reads decrypted plaintext packets off the TUN device,
// resolves each one's destination to a peer via longest-prefix match, and
// hands it to that peer's active link for encryption and transmission.
func (n *node) dispatchLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case packet, ok := <-n.tun.ReadChannel():
			if !ok {
				return
			}
			dest, ok := destinationIP(packet)
			if !ok {
				n.logger.Debug("dispatch: dropping non-IPv4 packet")
				continue
			}
			peerName, ok := n.routes.Lookup(dest)
			if !ok {
				n.logger.Debug("dispatch: no route for destination", logging.Fields{"dest": dest.String()})
				continue
			}
			link := n.getLink(peerName)
			if link == nil {
				n.logger.Debug("dispatch: no active link for peer", logging.Fields{"peer": peerName})
				continue
			}
			if err := link.sendFrame(packet); err != nil {
				n.logger.Warn("dispatch: send failed", logging.Fields{"peer": peerName, "error": err.Error()})
			}
		}
	}
}

// rawLink is the minimal send/receive contract the handshake drivers below
// need, before any directional AEAD key exists to wrap post-handshake
// traffic. Both transports carry these frames unencrypted: wsgateway
// always does, and quicgateway passes frames through in the clear until
// SetCiphers installs a cipher.
type rawLink interface {
	sendRaw([]byte) error
	recvRaw(timeout time.Duration) ([]byte, error)
}

type wsRawLink struct{ gw *wsgateway.Gateway }

func (w wsRawLink) sendRaw(b []byte) error { return w.gw.Send(b) }

func (w wsRawLink) recvRaw(timeout time.Duration) ([]byte, error) {
	select {
	case data, ok := <-w.gw.Receive():
		if !ok {
			return nil, fmt.Errorf("wsgateway: connection closed")
		}
		return data, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("wsgateway: timed out waiting for frame")
	}
}

type quicRawLink struct{ conn *quicgateway.Connection }

func (q quicRawLink) sendRaw(b []byte) error { return q.conn.SendFrame(b) }

func (q quicRawLink) recvRaw(timeout time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := q.conn.ReadFrame(0)
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("quicgateway: timed out waiting for frame")
	}
}

// runResponderHandshake drives message 1 receipt through message 2 delivery
// on the responder side, over whichever raw transport link is given, and
// audits the attempt through pkg/handshakelog.
func (n *node) runResponderHandshake(rl rawLink, peerName string) (*sessionkdf.SessionKeys, error) {
	sizes := handshake.ComputeFrameSizes(n.provider)
	session, err := handshake.NewSessionWithStaticKeypair(n.provider, false, n.identity.StaticPublicKey, n.identity.StaticPrivateKey)
	if err != nil {
		return nil, err
	}
	defer session.Destroy()

	raw, err := rl.recvRaw(handshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("receiving initiation: %w", err)
	}
	msg1, err := handshake.Deserialize(raw, sizes)
	if err != nil {
		return nil, fmt.Errorf("deserializing initiation: %w", err)
	}

	started := time.Now()
	if err := n.audit.RecordStart(handshakelog.Attempt{
		SenderIndex: msg1.SenderIndex, PeerName: peerName, IsInitiator: false, StartedAt: started,
	}); err != nil {
		n.logger.Warn("handshakelog: recording attempt start failed", logging.Fields{"peer": peerName, "error": err.Error()})
	}
	fail := func(err error) (*sessionkdf.SessionKeys, error) {
		_ = n.audit.RecordOutcome(msg1.SenderIndex, started, handshakelog.OutcomeFailed, err.Error())
		return nil, err
	}

	msg2, err := session.ProcessInitiation(msg1)
	if err != nil {
		return fail(fmt.Errorf("process_initiation: %w", err))
	}

	msg2Data, err := msg2.Serialize(sizes)
	if err != nil {
		return fail(fmt.Errorf("serializing response: %w", err))
	}
	if err := rl.sendRaw(msg2Data); err != nil {
		return fail(fmt.Errorf("sending response: %w", err))
	}

	secret, err := session.SharedSecret()
	if err != nil {
		return fail(err)
	}
	keys, err := sessionkdf.DeriveSessionKeys(secret, transcriptOf(msg1, msg2))
	if err != nil {
		return fail(fmt.Errorf("deriving session keys: %w", err))
	}

	if err := n.audit.RecordOutcome(msg1.SenderIndex, started, handshakelog.OutcomeSuccess, ""); err != nil {
		n.logger.Warn("handshakelog: recording attempt outcome failed", logging.Fields{"peer": peerName, "error": err.Error()})
	}
	return &keys, nil
}

// runInitiatorHandshake drives message 1 creation through message 2
// processing on the initiator side, targeting peer's configured static
// public key.
func (n *node) runInitiatorHandshake(rl rawLink, peer config.PeerConfig) (*sessionkdf.SessionKeys, error) {
	sizes := handshake.ComputeFrameSizes(n.provider)
	staticKey, err := base64.StdEncoding.DecodeString(peer.StaticPublicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding peer %q static_public_key: %w", peer.Name, err)
	}

	session, err := handshake.NewSessionWithStaticKeypair(n.provider, true, n.identity.StaticPublicKey, n.identity.StaticPrivateKey)
	if err != nil {
		return nil, err
	}
	defer session.Destroy()

	senderIndex := nextSenderIndex()
	msg1, err := session.CreateInitiation(staticKey, senderIndex)
	if err != nil {
		return nil, fmt.Errorf("create_initiation: %w", err)
	}
	msg1Data, err := msg1.Serialize(sizes)
	if err != nil {
		return nil, fmt.Errorf("serializing initiation: %w", err)
	}

	started := time.Now()
	if err := n.audit.RecordStart(handshakelog.Attempt{
		SenderIndex: senderIndex, PeerName: peer.Name, IsInitiator: true, StartedAt: started,
	}); err != nil {
		n.logger.Warn("handshakelog: recording attempt start failed", logging.Fields{"peer": peer.Name, "error": err.Error()})
	}
	fail := func(err error) (*sessionkdf.SessionKeys, error) {
		_ = n.audit.RecordOutcome(senderIndex, started, handshakelog.OutcomeFailed, err.Error())
		return nil, err
	}

	if err := rl.sendRaw(msg1Data); err != nil {
		return fail(fmt.Errorf("sending initiation: %w", err))
	}

	raw, err := rl.recvRaw(handshakeTimeout)
	if err != nil {
		return fail(fmt.Errorf("receiving response: %w", err))
	}
	msg2, err := handshake.Deserialize(raw, sizes)
	if err != nil {
		return fail(fmt.Errorf("deserializing response: %w", err))
	}
	if err := session.ProcessResponse(msg2); err != nil {
		return fail(fmt.Errorf("process_response: %w", err))
	}

	secret, err := session.SharedSecret()
	if err != nil {
		return fail(err)
	}
	keys, err := sessionkdf.DeriveSessionKeys(secret, transcriptOf(msg1, msg2))
	if err != nil {
		return fail(fmt.Errorf("deriving session keys: %w", err))
	}

	if err := n.audit.RecordOutcome(senderIndex, started, handshakelog.OutcomeSuccess, ""); err != nil {
		n.logger.Warn("handshakelog: recording attempt outcome failed", logging.Fields{"peer": peer.Name, "error": err.Error()})
	}
	return &keys, nil
}

// wrapWSLink installs directional ChaCha20-Poly1305 AEAD over a wsgateway
// Gateway, which otherwise carries only raw unencrypted frames, and starts
// the goroutine that decrypts inbound frames onto the returned peerLink.
func wrapWSLink(name string, gw *wsgateway.Gateway, sendKey, recvKey [32]byte) (*peerLink, error) {
	sendAEAD, err := cryptocore.NewAEAD(sendKey[:])
	if err != nil {
		return nil, err
	}
	recvAEAD, err := cryptocore.NewAEAD(recvKey[:])
	if err != nil {
		return nil, err
	}

	var sendSeq, recvSeq uint64
	frames := make(chan []byte, 256)
	go func() {
		for ct := range gw.Receive() {
			nonce := seqNonce(recvSeq)
			recvSeq++
			pt, err := recvAEAD.Open(nonce[:], ct, nil)
			if err != nil {
				continue
			}
			frames <- pt
		}
		close(frames)
	}()

	return &peerLink{
		name:   name,
		frames: frames,
		sendFrame: func(pt []byte) error {
			nonce := seqNonce(sendSeq)
			sendSeq++
			ct, err := sendAEAD.Seal(nonce[:], pt, nil)
			if err != nil {
				return err
			}
			return gw.Send(ct)
		},
		close: gw.Close,
	}, nil
}

// wrapQUICLink installs quicgateway's built-in directional ciphers and
// starts the goroutine draining decrypted frames onto the returned
// peerLink.
func wrapQUICLink(name string, conn *quicgateway.Connection, sendKey, recvKey [32]byte) (*peerLink, error) {
	sendAEAD, err := cryptocore.NewAEAD(sendKey[:])
	if err != nil {
		return nil, err
	}
	recvAEAD, err := cryptocore.NewAEAD(recvKey[:])
	if err != nil {
		return nil, err
	}
	conn.SetCiphers(sendAEAD, recvAEAD)

	frames := make(chan []byte, 256)
	go func() {
		var seq uint64
		for {
			data, err := conn.ReadFrame(seq)
			if err != nil {
				close(frames)
				return
			}
			seq++
			frames <- data
		}
	}()

	return &peerLink{
		name:      name,
		frames:    frames,
		sendFrame: conn.SendFrame,
		close:     conn.Close,
	}, nil
}

func seqNonce(seq uint64) [cryptocore.AEADNonceSize]byte {
	var nonce [cryptocore.AEADNonceSize]byte
	for i := 0; i < 8; i++ {
		nonce[cryptocore.AEADNonceSize-1-i] = byte(seq >> (8 * i))
	}
	return nonce
}

func (n *node) acceptPeerWS(stop <-chan struct{}, gw *wsgateway.Gateway) {
	defer gw.Close()

	peerName, ok := n.resolvePeerByAddr(gw.RemoteAddr())
	if !ok {
		n.logger.Warn("wsgateway: rejecting connection from unconfigured peer", logging.Fields{"remote_addr": addrString(gw.RemoteAddr())})
		return
	}

	keys, err := n.runResponderHandshake(wsRawLink{gw}, peerName)
	if err != nil {
		n.logger.Warn("wsgateway: responder handshake failed", logging.Fields{"peer": peerName, "error": err.Error()})
		return
	}

	link, err := wrapWSLink(peerName, gw, keys.ResponderToInitiator, keys.InitiatorToResponder)
	if err != nil {
		n.logger.Error("wsgateway: installing session ciphers", logging.Fields{"peer": peerName, "error": err.Error()})
		return
	}
	n.registerLink(link)
	defer n.unregisterLink(peerName)
	n.logger.Info("handshake complete", logging.Fields{"peer": peerName, "role": "responder", "transport": "ws"})
	<-stop
}

func (n *node) dialPeerWS(stop <-chan struct{}, peer config.PeerConfig) {
	cfg := wsgateway.DefaultConfig()
	cfg.URL = peer.Endpoint
	tlsCfg, err := loadGatewayTLSConfig(n.cfg.Gateway)
	if err != nil {
		n.logger.Error("wsgateway: loading TLS config", logging.Fields{"peer": peer.Name, "error": err.Error()})
		return
	}
	cfg.TLSConfig = tlsCfg

	gw := wsgateway.New(cfg, n.logger)
	if err := gw.Dial(); err != nil {
		n.logger.Error("wsgateway: dial failed", logging.Fields{"peer": peer.Name, "error": err.Error()})
		return
	}
	defer gw.Close()

	keys, err := n.runInitiatorHandshake(wsRawLink{gw}, peer)
	if err != nil {
		n.logger.Warn("wsgateway: initiator handshake failed", logging.Fields{"peer": peer.Name, "error": err.Error()})
		return
	}

	link, err := wrapWSLink(peer.Name, gw, keys.InitiatorToResponder, keys.ResponderToInitiator)
	if err != nil {
		n.logger.Error("wsgateway: installing session ciphers", logging.Fields{"peer": peer.Name, "error": err.Error()})
		return
	}
	n.registerLink(link)
	defer n.unregisterLink(peer.Name)
	n.logger.Info("handshake complete", logging.Fields{"peer": peer.Name, "role": "initiator", "transport": "ws"})
	<-stop
}

func (n *node) acceptPeerQUIC(stop <-chan struct{}, conn *quicgateway.Connection) {
	defer conn.Close()

	peerName, ok := n.resolvePeerByAddr(conn.RemoteAddr())
	if !ok {
		n.logger.Warn("quicgateway: rejecting connection from unconfigured peer", logging.Fields{"remote_addr": addrString(conn.RemoteAddr())})
		return
	}

	keys, err := n.runResponderHandshake(quicRawLink{conn}, peerName)
	if err != nil {
		n.logger.Warn("quicgateway: responder handshake failed", logging.Fields{"peer": peerName, "error": err.Error()})
		return
	}

	conn.SetPeerName(peerName)
	link, err := wrapQUICLink(peerName, conn, keys.ResponderToInitiator, keys.InitiatorToResponder)
	if err != nil {
		n.logger.Error("quicgateway: installing session ciphers", logging.Fields{"peer": peerName, "error": err.Error()})
		return
	}
	n.registerLink(link)
	defer n.unregisterLink(peerName)
	n.logger.Info("handshake complete", logging.Fields{"peer": peerName, "role": "responder", "transport": "quic"})
	<-stop
}

func (n *node) dialPeerQUIC(stop <-chan struct{}, peer config.PeerConfig) {
	conn, err := n.quicGateway.Dial(context.Background(), peer.Endpoint, peer.Name)
	if err != nil {
		n.logger.Error("quicgateway: dial failed", logging.Fields{"peer": peer.Name, "error": err.Error()})
		return
	}
	defer conn.Close()

	keys, err := n.runInitiatorHandshake(quicRawLink{conn}, peer)
	if err != nil {
		n.logger.Warn("quicgateway: initiator handshake failed", logging.Fields{"peer": peer.Name, "error": err.Error()})
		return
	}

	link, err := wrapQUICLink(peer.Name, conn, keys.InitiatorToResponder, keys.ResponderToInitiator)
	if err != nil {
		n.logger.Error("quicgateway: installing session ciphers", logging.Fields{"peer": peer.Name, "error": err.Error()})
		return
	}
	n.registerLink(link)
	defer n.unregisterLink(peer.Name)
	n.logger.Info("handshake complete", logging.Fields{"peer": peer.Name, "role": "initiator", "transport": "quic"})
	<-stop
}

func (n *node) dialPeer(stop <-chan struct{}, peer config.PeerConfig) {
	switch n.transport {
	case "ws":
		n.dialPeerWS(stop, peer)
	case "quic":
		n.dialPeerQUIC(stop, peer)
	}
}
