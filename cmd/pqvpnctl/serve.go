package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pqvpn/pqvpn/pkg/config"
	"github.com/pqvpn/pqvpn/pkg/cryptocore"
	"github.com/pqvpn/pqvpn/pkg/cryptoroute"
	"github.com/pqvpn/pqvpn/pkg/handshakelog"
	"github.com/pqvpn/pqvpn/pkg/identitystore"
	"github.com/pqvpn/pqvpn/pkg/logging"
	"github.com/pqvpn/pqvpn/pkg/peerdirectory"
	"github.com/pqvpn/pqvpn/pkg/quicgateway"
	"github.com/pqvpn/pqvpn/pkg/tundevice"
	"github.com/pqvpn/pqvpn/pkg/wsgateway"
)

func newServeCommand() *cobra.Command {
	var (
		configPath string
		transport  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run this node's data plane against its configured peers",
		Long: "serve loads a node's YAML configuration and encrypted identity, brings " +
			"up its TUN interface, and drives the handshake and AEAD data plane " +
			"against every configured peer: pkg/tundevice feeds pkg/cryptoroute's " +
			"longest-prefix peer lookup, which hands packets to pkg/wsgateway or " +
			"pkg/quicgateway; configured peers are cached in pkg/peerdirectory, " +
			"inbound connections are matched to configured peers by remote " +
			"address, and every handshake attempt is audited through " +
			"pkg/handshakelog.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if transport != "ws" && transport != "quic" {
				return fmt.Errorf("unknown --transport %q: want ws or quic", transport)
			}

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			logger, err := newComponentLogger(cfg.Logging, cfg.Node.Name)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}

			passphrase, err := readPassphraseOnce(cmd)
			if err != nil {
				return err
			}
			identity, err := identitystore.Load(passphrase, cfg.Identity.KeystorePath)
			if err != nil {
				return fmt.Errorf("loading identity: %w", err)
			}

			provider, err := cryptocore.NewProvider(identity.SignatureScheme)
			if err != nil {
				return fmt.Errorf("constructing provider: %w", err)
			}

			dirLogger, err := newComponentLogger(cfg.Logging, "peerdirectory")
			if err != nil {
				return err
			}
			dir, err := peerdirectory.New(peerdirectory.Config{
				Host: cfg.Directory.Host, Port: cfg.Directory.Port,
				Password: cfg.Directory.Password, DB: cfg.Directory.DB, TTL: cfg.Directory.TTL,
			}, dirLogger)
			if err != nil {
				return fmt.Errorf("connecting to peer directory: %w", err)
			}
			defer dir.Close()

			auditLogger, err := newComponentLogger(cfg.Logging, "handshakelog")
			if err != nil {
				return err
			}
			audit, err := handshakelog.New(handshakelog.Config{
				Host: cfg.Audit.Host, Port: cfg.Audit.Port, User: cfg.Audit.User,
				Password: cfg.Audit.Password, DBName: cfg.Audit.DBName, SSLMode: cfg.Audit.SSLMode,
			}, auditLogger)
			if err != nil {
				return fmt.Errorf("connecting to handshake log: %w", err)
			}
			defer audit.Close()

			routes := cryptoroute.New()
			for _, peer := range cfg.Peers {
				staticKey, err := base64.StdEncoding.DecodeString(peer.StaticPublicKey)
				if err != nil {
					return fmt.Errorf("peer %q: invalid static_public_key: %w", peer.Name, err)
				}
				if err := dir.Put(peerdirectory.Peer{Name: peer.Name, StaticPublicKey: staticKey, Endpoint: peer.Endpoint}); err != nil {
					return fmt.Errorf("peer %q: caching directory entry: %w", peer.Name, err)
				}
				for _, cidr := range peer.AllowedIPs {
					if err := routes.AddRoute(cidr, peer.Name); err != nil {
						return fmt.Errorf("peer %q: %w", peer.Name, err)
					}
				}
			}

			tunLogger, err := newComponentLogger(cfg.Logging, "tundevice")
			if err != nil {
				return err
			}
			tun, err := tundevice.New(tundevice.Config{Name: cfg.Node.Name}, tunLogger)
			if err != nil {
				return fmt.Errorf("creating TUN device: %w", err)
			}
			tun.Start()
			defer tun.Stop()

			n := &node{
				cfg:       cfg,
				logger:    logger,
				provider:  provider,
				identity:  identity,
				dir:       dir,
				audit:     audit,
				routes:    routes,
				tun:       tun,
				transport: transport,
				peerHosts: buildPeerHostIndex(cfg.Peers),
				links:     make(map[string]*peerLink),
			}

			stop := make(chan struct{})
			gwLogger, err := newComponentLogger(cfg.Logging, "gateway")
			if err != nil {
				return err
			}
			if err := n.listen(stop, gwLogger); err != nil {
				return fmt.Errorf("starting listener: %w", err)
			}

			for _, peer := range cfg.Peers {
				if peer.Endpoint == "" {
					continue
				}
				go n.dialPeer(stop, peer)
			}

			go n.dispatchLoop(stop)

			logger.Info("node serving", logging.Fields{"name": cfg.Node.Name, "transport": transport})

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			logger.Info("shutdown signal received")

			close(stop)
			n.closeAllLinks()
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "pqvpn.yaml", "path to node YAML configuration")
	cmd.Flags().StringVar(&transport, "transport", "ws", "data-plane transport: ws or quic")
	return cmd
}

func (n *node) listen(stop <-chan struct{}, gwLogger *logging.Logger) error {
	switch n.transport {
	case "ws":
		return n.listenWS(stop, gwLogger)
	case "quic":
		return n.listenQUIC(stop, gwLogger)
	default:
		return fmt.Errorf("unknown transport %q", n.transport)
	}
}

func (n *node) listenWS(stop <-chan struct{}, gwLogger *logging.Logger) error {
	wsCfg := wsgateway.DefaultConfig()
	listener := wsgateway.NewListener(wsCfg, gwLogger)

	tlsCfg, err := loadGatewayTLSConfig(n.cfg.Gateway)
	if err != nil {
		return err
	}
	server := &http.Server{Addr: n.cfg.Gateway.WebSocketAddr, Handler: listener, TLSConfig: tlsCfg}

	go func() {
		if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			n.logger.Error("wsgateway listener stopped", logging.Fields{"error": err.Error()})
		}
	}()
	go func() {
		<-stop
		server.Close()
	}()

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			gw, err := listener.Accept(5 * time.Second)
			if err != nil {
				continue
			}
			go n.acceptPeerWS(stop, gw)
		}
	}()
	return nil
}

func (n *node) listenQUIC(stop <-chan struct{}, gwLogger *logging.Logger) error {
	tlsCfg, err := loadGatewayTLSConfig(n.cfg.Gateway)
	if err != nil {
		return err
	}
	gw, err := quicgateway.New(n.cfg.Gateway.QUICAddr, tlsCfg, gwLogger)
	if err != nil {
		return err
	}
	n.quicGateway = gw

	go func() {
		<-stop
		gw.Close()
	}()

	go func() {
		ctx := context.Background()
		for {
			select {
			case <-stop:
				return
			default:
			}
			conn, err := gw.Accept(ctx)
			if err != nil {
				select {
				case <-stop:
					return
				default:
				}
				n.logger.Warn("quicgateway: accept error", logging.Fields{"error": err.Error()})
				continue
			}
			go n.acceptPeerQUIC(stop, conn)
		}
	}()
	return nil
}

// loadGatewayTLSConfig builds the single TLS config used both to accept
// inbound gateway connections (as a server certificate) and to dial
// outbound ones (skipping certificate verification): the handshake in
// pkg/handshake, not the TLS layer, is what authenticates a peer, exactly
// as WireGuard authenticates peers at its own handshake layer rather than
// through a CA.
func loadGatewayTLSConfig(cfg config.GatewayConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("loading gateway TLS keypair: %w", err)
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		NextProtos:         []string{"pqvpn"},
		InsecureSkipVerify: true,
	}, nil
}

func newComponentLogger(cfg config.LoggingConfig, component string) (*logging.Logger, error) {
	logger, err := logging.NewLogger(component, parseLogLevel(cfg.Level), cfg.OutputFile)
	if err != nil {
		return nil, err
	}
	logger.SetMaxFileSize(int64(cfg.MaxSizeMB) * 1024 * 1024)
	logger.SetMaxBackups(cfg.MaxBackups)
	return logger, nil
}

func parseLogLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.DEBUG
	case "warn":
		return logging.WARN
	case "error":
		return logging.ERROR
	default:
		return logging.INFO
	}
}

func readPassphraseOnce(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return trimNewline(line), nil
	}

	fmt.Fprint(cmd.OutOrStdout(), "passphrase: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}
