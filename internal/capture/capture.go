// Package capture opens a live packet handle on a chosen network
// interface, installs a BPF filter for the game's TCP port, and
// funnels TCP payloads into a bounded queue.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrCaptureFatal marks a native capture handle failure while the
// capture loop is actively running; the loop logs it and stops.
var ErrCaptureFatal = errors.New("capture: fatal capture error")

// Config controls interface selection and the live capture handle.
type Config struct {
	InterfaceName string // empty = auto-select
	Port          int
	BPFExpression string // empty = derived from Port
	SnapLen       int32
	Timeout       time.Duration
	Promiscuous   bool
	OfferTimeout  time.Duration
}

// DefaultConfig matches the spec's defaults.
func DefaultConfig() Config {
	return Config{
		Port:         5555,
		SnapLen:      65536,
		Timeout:      1000 * time.Millisecond,
		Promiscuous:  false,
		OfferTimeout: 100 * time.Millisecond,
	}
}

func (c Config) bpf() string {
	if c.BPFExpression != "" {
		return c.BPFExpression
	}
	return fmt.Sprintf("tcp port %d", c.Port)
}

// Queue is the minimal surface capture needs from the bounded packet
// queue (internal/queue.Queue implements it).
type Queue interface {
	Offer(payload []byte, timeout time.Duration) bool
}

// Metrics is the minimal surface capture needs from health reporting.
type Metrics interface {
	IncPacketsReceived()
	IncPacketsDropped()
}

// handleOpener abstracts pcap.OpenLive so tests can substitute a fake
// capture source without a real NIC.
type handleOpener interface {
	FindAllDevs() ([]pcap.Interface, error)
	OpenLive(device string, snaplen int32, promiscuous bool, timeout time.Duration) (packetSource, error)
}

// packetSource is the subset of *pcap.Handle capture depends on.
type packetSource interface {
	SetBPFFilter(expr string) error
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	Close()
}

type livePcap struct{}

func (livePcap) FindAllDevs() ([]pcap.Interface, error) { return pcap.FindAllDevs() }

func (livePcap) OpenLive(device string, snaplen int32, promiscuous bool, timeout time.Duration) (packetSource, error) {
	return pcap.OpenLive(device, snaplen, promiscuous, timeout)
}

// Capture owns the live packet handle and the capture goroutine.
type Capture struct {
	cfg     Config
	queue   Queue
	metrics Metrics
	opener  handleOpener

	mu            sync.Mutex
	handle        packetSource
	running       bool
	interfaceName string
	done          chan struct{}
}

// New builds a Capture against the real libpcap bindings.
func New(cfg Config, queue Queue, metrics Metrics) *Capture {
	return &Capture{cfg: cfg, queue: queue, metrics: metrics, opener: livePcap{}}
}

// selectInterface implements §4.4's selection rule: a configured name
// must exist; otherwise the first non-loopback device with at least
// one address wins, falling back to the first device with a warning.
func selectInterface(devs []pcap.Interface, configured string) (string, error) {
	if configured != "" {
		for _, d := range devs {
			if d.Name == configured {
				return d.Name, nil
			}
		}
		return "", fmt.Errorf("capture: configured interface %q not found", configured)
	}
	if len(devs) == 0 {
		return "", fmt.Errorf("capture: no network interfaces available")
	}
	for _, d := range devs {
		lname := strings.ToLower(d.Name)
		if strings.Contains(lname, "lo") || strings.Contains(lname, "loopback") {
			continue
		}
		if len(d.Addresses) == 0 {
			continue
		}
		return d.Name, nil
	}
	log.Warn().Str("interface", devs[0].Name).Msg("no suitable non-loopback interface found, falling back to first device")
	return devs[0].Name, nil
}

// Start opens the device, installs the BPF filter, and spawns the
// capture goroutine. It returns once the handle is open and the
// filter installed; the goroutine runs until Stop is called or a
// fatal capture error occurs.
func (c *Capture) Start(ctx context.Context) error {
	devs, err := c.opener.FindAllDevs()
	if err != nil {
		return fmt.Errorf("capture: enumerate interfaces: %w", err)
	}
	name, err := selectInterface(devs, c.cfg.InterfaceName)
	if err != nil {
		return err
	}

	handle, err := c.opener.OpenLive(name, c.cfg.SnapLen, c.cfg.Promiscuous, c.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("capture: open %s: %w", name, err)
	}
	if err := handle.SetBPFFilter(c.cfg.bpf()); err != nil {
		handle.Close()
		return fmt.Errorf("capture: install BPF filter: %w", err)
	}

	c.mu.Lock()
	c.handle = handle
	c.running = true
	c.interfaceName = name
	c.done = make(chan struct{})
	c.mu.Unlock()

	log.Info().Str("interface", name).Str("bpf", c.cfg.bpf()).Msg("capture started")
	go c.loop(ctx)
	return nil
}

func (c *Capture) loop(ctx context.Context) {
	defer close(c.done)
	for {
		c.mu.Lock()
		running := c.running
		handle := c.handle
		c.mu.Unlock()
		if !running || handle == nil {
			return
		}

		data, _, err := handle.ReadPacketData()
		if err != nil {
			if !c.isRunning() {
				log.Debug().Err(err).Msg("capture handle closed during shutdown")
				return
			}
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			log.Error().Err(fmt.Errorf("%w: %v", ErrCaptureFatal, err)).Msg("fatal capture error")
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			handle.Close()
			return
		}

		payload, ok := extractTCPPayload(data)
		if !ok {
			continue
		}

		trace := uuid.New()
		if !c.queue.Offer(payload, c.cfg.OfferTimeout) {
			c.metrics.IncPacketsDropped()
			log.Warn().Str("trace", trace.String()).Msg("queue offer timed out, dropping packet")
			continue
		}
		c.metrics.IncPacketsReceived()

		select {
		case <-ctx.Done():
			c.Stop()
			return
		default:
		}
	}
}

func (c *Capture) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// IsRunning reports whether the capture loop is currently active, for
// the health endpoint (spec §4.10).
func (c *Capture) IsRunning() bool { return c.isRunning() }

// InterfaceName returns the interface capture is bound to, or the
// empty string before Start succeeds.
func (c *Capture) InterfaceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interfaceName
}

// extractTCPPayload parses an Ethernet/IP/TCP stack out of a captured
// frame and returns its TCP payload. Non-TCP packets, and TCP packets
// with no payload, are discarded (ok=false). No stream reassembly is
// performed: each captured payload is one candidate protocol frame.
func extractTCPPayload(data []byte) ([]byte, bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil, false
	}
	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok || len(tcp.Payload) == 0 {
		return nil, false
	}
	return tcp.Payload, true
}

// Stop signals shutdown and closes the handle; it is idempotent and
// safe to call from a signal handler.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	handle := c.handle
	done := c.done
	c.mu.Unlock()

	if handle != nil {
		handle.Close()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("capture goroutine did not exit within 5s deadline")
	}
}
