// Package tundevice manages the local TUN interface: the plaintext side
// of the data plane, where decrypted IP packets are written for the
// kernel to route and outgoing plaintext packets are read to be encrypted
// and sent over a gateway connection.
package tundevice

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/songgao/water"

	"github.com/pqvpn/pqvpn/pkg/logging"
)

// Device manages a TUN (Layer 3) network interface.
type Device struct {
	iface     *water.Interface
	name      string
	mtu       int
	readChan  chan []byte
	writeChan chan []byte
	errorChan chan error
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *logging.Logger
}

// Config configures a Device.
type Config struct {
	Name string // interface name (e.g. "pqvpn0" on Linux; ignored on macOS)
	MTU  int    // default 1420, leaving headroom for the data plane's AEAD overhead
}

// New creates and configures a TUN device. Requires the privilege to
// create network interfaces (CAP_NET_ADMIN on Linux, root elsewhere). A nil
// logger falls back to logging.GetDefaultLogger().
func New(config Config, logger *logging.Logger) (*Device, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if config.MTU == 0 {
		config.MTU = 1420
	}

	tunConfig := water.Config{DeviceType: water.TUN}
	if config.Name != "" {
		tunConfig.Name = config.Name
	}

	iface, err := water.New(tunConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create TUN device: %w", err)
	}

	logger.Info("tundevice: created interface", logging.Fields{"name": iface.Name(), "mtu": config.MTU})

	ctx, cancel := context.WithCancel(context.Background())
	return &Device{
		iface:     iface,
		name:      iface.Name(),
		mtu:       config.MTU,
		readChan:  make(chan []byte, 2000),
		writeChan: make(chan []byte, 2000),
		errorChan: make(chan error, 10),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}, nil
}

// Start begins the read and write loops.
func (d *Device) Start() {
	d.wg.Add(2)
	go d.readLoop()
	go d.writeLoop()
}

// Stop gracefully stops the device and releases its channels.
func (d *Device) Stop() error {
	d.cancel()
	d.wg.Wait()
	d.logger.Info("tundevice: stopping interface", logging.Fields{"name": d.name})

	if err := d.iface.Close(); err != nil {
		return fmt.Errorf("failed to close TUN device: %w", err)
	}

	close(d.readChan)
	close(d.writeChan)
	close(d.errorChan)
	return nil
}

func (d *Device) readLoop() {
	defer d.wg.Done()
	buffer := make([]byte, d.mtu)

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		n, err := d.iface.Read(buffer)
		if err != nil {
			if err == io.EOF {
				return
			}
			d.logger.Warn("tundevice: read error", logging.Fields{"error": err.Error()})
			select {
			case d.errorChan <- fmt.Errorf("TUN read error: %w", err):
			default:
			}
			continue
		}

		packet := append([]byte{}, buffer[:n]...)
		select {
		case d.readChan <- packet:
		case <-d.ctx.Done():
			return
		default:
			select {
			case d.errorChan <- fmt.Errorf("read channel full, dropping packet"):
			default:
			}
		}
	}
}

func (d *Device) writeLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case packet := <-d.writeChan:
			if len(packet) > d.mtu {
				select {
				case d.errorChan <- fmt.Errorf("dropping oversized packet (%d bytes)", len(packet)):
				default:
				}
				continue
			}
			if _, err := d.iface.Write(packet); err != nil {
				d.logger.Warn("tundevice: write error", logging.Fields{"error": err.Error()})
				select {
				case d.errorChan <- fmt.Errorf("TUN write error: %w", err):
				default:
				}
			}
		}
	}
}

// ReadChannel returns the channel of plaintext packets read from TUN,
// ready for a gateway connection to encrypt and send.
func (d *Device) ReadChannel() <-chan []byte { return d.readChan }

// WriteChannel returns the channel a gateway connection writes decrypted
// packets to for delivery into the kernel.
func (d *Device) WriteChannel() chan<- []byte { return d.writeChan }

// ErrorChannel returns the channel of device-level errors.
func (d *Device) ErrorChannel() <-chan error { return d.errorChan }

// Name returns the OS-assigned interface name.
func (d *Device) Name() string { return d.name }

// MTU returns the configured MTU.
func (d *Device) MTU() int { return d.mtu }

// ConfigureInterface brings the interface up with the given address and
// netmask. Requires CAP_NET_ADMIN or root.
func (d *Device) ConfigureInterface(ipAddr, netmask string) error {
	cmdUp := exec.Command("ip", "link", "set", "dev", d.name, "up")
	if output, err := cmdUp.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to bring up interface %s: %w (output: %s)", d.name, err, string(output))
	}

	cidr := ipAddr + "/" + netmask
	cmdAddr := exec.Command("ip", "addr", "add", cidr, "dev", d.name)
	if output, err := cmdAddr.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to set IP address %s on %s: %w (output: %s)", cidr, d.name, err, string(output))
	}

	return nil
}
