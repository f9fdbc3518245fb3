package probe

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"rtp-header-probe/internal/logging"
	"rtp-header-probe/pkg/rtp"
)

const udpReadBufferSize = 64 * 1024

type listenerCounters struct {
	packets            atomic.Uint64
	bytes              atomic.Uint64
	parsed             atomic.Uint64
	headerTooSmall     atomic.Uint64
	csrcTruncated      atomic.Uint64
	extensionMissing   atomic.Uint64
	extensionTruncated atomic.Uint64
}

// ListenerCounters is a point-in-time copy of a listener's counters. The
// four error counters partition the failed parses by kind.
type ListenerCounters struct {
	Packets            uint64
	Bytes              uint64
	Parsed             uint64
	HeaderTooSmall     uint64
	CSRCTruncated      uint64
	ExtensionMissing   uint64
	ExtensionTruncated uint64
}

// ParseErrors returns the failed parses summed across all error kinds.
func (c ListenerCounters) ParseErrors() uint64 {
	return c.HeaderTooSmall + c.CSRCTruncated + c.ExtensionMissing + c.ExtensionTruncated
}

// PacketLogPolicy controls per-packet logging on the read loop. SampleN
// logs every Nth decoded packet when Enabled; OnError logs each datagram
// whose header fails to parse.
type PacketLogPolicy struct {
	Enabled bool
	SampleN int
	OnError bool
}

// Listener owns one UDP socket and decodes the header of every datagram
// arriving on it, feeding counters and the per-SSRC registry.
type Listener struct {
	port      int
	conn      *net.UDPConn
	registry  *Registry
	policy    PacketLogPolicy
	createdAt time.Time
	counters  listenerCounters
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// ListenerView is a point-in-time description of one listener.
type ListenerView struct {
	Port      int
	CreatedAt time.Time
	Counters  ListenerCounters
	Streams   int
}

func newListener(port int, conn *net.UDPConn, policy PacketLogPolicy) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		port:      port,
		conn:      conn,
		registry:  NewRegistry(),
		policy:    policy,
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (l *Listener) start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.readLoop()
	}()
}

func (l *Listener) stop() {
	l.cancel()
	_ = l.conn.SetReadDeadline(time.Now())
	l.wg.Wait()
	_ = l.conn.Close()
}

func (l *Listener) readLoop() {
	logger := logging.WithListener(l.port)
	buffer := make([]byte, udpReadBufferSize)
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			logger.Error("listener read failed", "error", err)
			continue
		}
		l.counters.packets.Add(1)
		l.counters.bytes.Add(uint64(n))
		header, err := rtp.ParseHeader(buffer[:n])
		if err != nil {
			l.countParseError(err)
			if l.policy.OnError {
				logger.Warn("header parse failed", "error", err, "bytes", n, "from", addr.String())
			}
			continue
		}
		parsed := l.counters.parsed.Add(1)
		l.registry.Observe(time.Now(), addr.String(), n, header)
		if l.policy.Enabled && l.policy.SampleN > 0 && parsed%uint64(l.policy.SampleN) == 0 {
			logger.Info("packet sample", "header", header.String(), "bytes", n, "from", addr.String())
		}
	}
}

func (l *Listener) countParseError(err error) {
	switch {
	case errors.Is(err, rtp.ErrHeaderTooSmall):
		l.counters.headerTooSmall.Add(1)
	case errors.Is(err, rtp.ErrInsufficientCSRCData):
		l.counters.csrcTruncated.Add(1)
	case errors.Is(err, rtp.ErrExtensionHeaderMissing):
		l.counters.extensionMissing.Add(1)
	case errors.Is(err, rtp.ErrInsufficientExtensionData):
		l.counters.extensionTruncated.Add(1)
	}
}

func (l *Listener) countersSnapshot() ListenerCounters {
	return ListenerCounters{
		Packets:            l.counters.packets.Load(),
		Bytes:              l.counters.bytes.Load(),
		Parsed:             l.counters.parsed.Load(),
		HeaderTooSmall:     l.counters.headerTooSmall.Load(),
		CSRCTruncated:      l.counters.csrcTruncated.Load(),
		ExtensionMissing:   l.counters.extensionMissing.Load(),
		ExtensionTruncated: l.counters.extensionTruncated.Load(),
	}
}

func (l *Listener) view() ListenerView {
	return ListenerView{
		Port:      l.port,
		CreatedAt: l.createdAt,
		Counters:  l.countersSnapshot(),
		Streams:   l.registry.Len(),
	}
}

// Port returns the bound UDP port.
func (l *Listener) Port() int { return l.port }

// Streams returns the streams observed on this listener, ordered by SSRC.
func (l *Listener) Streams() []Stream { return l.registry.Snapshot() }
