package transport

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/leemit/actor-framework/internal/config"
	"github.com/leemit/actor-framework/internal/telemetry"
)

const (
	// maximum UDP payload that fits a single udp/ipv4/ethernet packet
	maxDatagramSize = 1474
)

//////////////
//  CONFIG  //
//////////////

// Default values for the UDP transport configuration.
const (
	DefaultUDPConfigLocalIPAddr = "0.0.0.0"
	DefaultUDPConfigLocalPort   = 0
)

// UDPConfig structs contains the configuration for the UDP transport.
type UDPConfig struct {
	// LocalIPAddr is the IP address to listen on.
	LocalIPAddr string

	// LocalPort is the port to listen on.
	// Port 0 picks an ephemeral port.
	LocalPort uint16

	// RemoteIPAddr is the destination IP address.
	// When empty, outgoing datagrams are sent to the peer
	// of the most recently received datagram.
	RemoteIPAddr string

	// RemotePort is the destination port.
	RemotePort uint16
}

// NewUDPConfig returns the default configuration for the UDP transport.
func NewUDPConfig() *UDPConfig {
	return &UDPConfig{
		LocalIPAddr: DefaultUDPConfigLocalIPAddr,
		LocalPort:   DefaultUDPConfigLocalPort,
	}
}

// Validate checks the configuration.
func (c *UDPConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "LocalIPAddr", &c.LocalIPAddr, DefaultUDPConfigLocalIPAddr)
}

/////////////////
//  TRANSPORT  //
/////////////////

var _ Transport = (*UDP)(nil)

// UDP is a transport that reads and writes UDP datagrams.
type UDP struct {
	tel *telemetry.Telemetry

	cfg *UDPConfig

	conn *net.UDPConn

	// remote is the configured destination, nil when replying
	// to the last peer instead.
	remote   *net.UDPAddr
	lastPeer *net.UDPAddr

	readTimeout time.Duration

	recvBuf *Buffer
	sendBuf *Buffer
	scratch []byte

	// Metrics
	receivedMessages atomic.Int64
	receivedBytes    atomic.Int64
	sentMessages     atomic.Int64
	sentBytes        atomic.Int64
}

// NewUDP returns a new UDP transport bound to the configured
// local address.
func NewUDP(cfg *UDPConfig) (*UDP, error) {
	tel := telemetry.NewTelemetry("transport", "udp")

	configValidator := config.NewValidator(tel)
	configValidator.Validate(cfg)

	localAddr, err := parseUDPAddr(cfg.LocalIPAddr, cfg.LocalPort)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, err
	}

	u := &UDP{
		tel: tel,

		cfg: cfg,

		conn: conn,

		recvBuf: NewBuffer(),
		sendBuf: NewBuffer(),
		scratch: make([]byte, maxDatagramSize),
	}

	if cfg.RemoteIPAddr != "" {
		remoteAddr, err := parseUDPAddr(cfg.RemoteIPAddr, cfg.RemotePort)
		if err != nil {
			conn.Close()
			return nil, err
		}
		u.remote = remoteAddr
	}

	u.initMetrics()

	tel.LogInfo("listening", "addr", conn.LocalAddr().String())

	return u, nil
}

func parseUDPAddr(ipAddr string, port uint16) (*net.UDPAddr, error) {
	parsedAddr, err := netip.ParseAddr(ipAddr)
	if err != nil {
		return nil, err
	}

	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(parsedAddr, port)), nil
}

func (u *UDP) initMetrics() {
	u.tel.NewCounter("received_messages", func() int64 { return u.receivedMessages.Load() })
	u.tel.NewCounter("received_bytes", func() int64 { return u.receivedBytes.Load() })
	u.tel.NewCounter("sent_messages", func() int64 { return u.sentMessages.Load() })
	u.tel.NewCounter("sent_bytes", func() int64 { return u.sentBytes.Load() })
}

// LocalAddr returns the local address the transport is bound to.
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// SetReadTimeout bounds the time a single ReadSome may block.
func (u *UDP) SetReadTimeout(timeout time.Duration) {
	u.readTimeout = timeout
}

// ReadSome reads the next datagram into the receive buffer.
func (u *UDP) ReadSome() error {
	if u.readTimeout > 0 {
		if err := u.conn.SetReadDeadline(time.Now().Add(u.readTimeout)); err != nil {
			return err
		}
	}

	n, peer, err := u.conn.ReadFromUDP(u.scratch)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return ErrReadTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}

	u.lastPeer = peer

	u.recvBuf.Reset()
	u.recvBuf.Append(u.scratch[:n])

	// Update metrics
	u.receivedMessages.Add(1)
	u.receivedBytes.Add(int64(n))

	return nil
}

// WriteSome sends the content of the send buffer as one datagram
// and resets the buffer.
func (u *UDP) WriteSome() error {
	dest := u.remote
	if dest == nil {
		dest = u.lastPeer
	}
	if dest == nil {
		return ErrNoPeer
	}

	n, err := u.conn.WriteToUDP(u.sendBuf.Bytes(), dest)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}

	u.sendBuf.Reset()

	// Update metrics
	u.sentMessages.Add(1)
	u.sentBytes.Add(int64(n))

	return nil
}

// ReserveSendBuffer returns the send buffer for appending.
func (u *UDP) ReserveSendBuffer() *Buffer {
	return u.sendBuf
}

// ReceiveBuffer returns the buffer populated by ReadSome.
func (u *UDP) ReceiveBuffer() *Buffer {
	return u.recvBuf
}

// Close closes the underlying connection.
func (u *UDP) Close() error {
	return u.conn.Close()
}
