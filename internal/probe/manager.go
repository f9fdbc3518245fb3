package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"rtp-header-probe/internal/logging"
)

// ErrListenerExists reports an open request for a port that already has a
// listener.
var ErrListenerExists = errors.New("listener already open")

// Manager owns the probe listeners. Each listener gets a dedicated UDP
// socket and read loop; the manager serializes open and close and hands out
// snapshot views for the API.
type Manager struct {
	mu          sync.Mutex
	listeners   map[int]*Listener
	allocator   *PortAllocator
	bindIP      net.IP
	policy      PacketLogPolicy
	idleTimeout time.Duration
}

func NewManager(allocator *PortAllocator, bindIP net.IP, policy PacketLogPolicy, idleTimeout time.Duration) *Manager {
	return &Manager{
		listeners:   make(map[int]*Listener),
		allocator:   allocator,
		bindIP:      bindIP,
		policy:      policy,
		idleTimeout: idleTimeout,
	}
}

// Open binds a UDP listener and starts its read loop. Port 0 takes the
// lowest free port from the allocator; an explicit in-range port is claimed
// from the allocator so automatic opens skip it.
func (m *Manager) Open(port int) (ListenerView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allocated := false
	switch {
	case port == 0:
		candidate, err := m.allocator.Allocate()
		if err != nil {
			return ListenerView{}, err
		}
		port = candidate
		allocated = true
	case m.listeners[port] != nil:
		return ListenerView{}, fmt.Errorf("%w on port %d", ErrListenerExists, port)
	case m.allocator.Contains(port):
		if err := m.allocator.Claim(port); err != nil {
			return ListenerView{}, err
		}
		allocated = true
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: m.bindIP, Port: port})
	if err != nil {
		if allocated {
			m.allocator.Release(port)
		}
		return ListenerView{}, fmt.Errorf("listen udp port %d: %w", port, err)
	}
	listener := newListener(port, conn, m.policy)
	m.listeners[port] = listener
	listener.start()
	return listener.view(), nil
}

// Get returns the view of the listener bound to port.
func (m *Manager) Get(port int) (ListenerView, bool) {
	m.mu.Lock()
	listener := m.listeners[port]
	m.mu.Unlock()
	if listener == nil {
		return ListenerView{}, false
	}
	return listener.view(), true
}

// List returns views of all listeners ordered by port.
func (m *Manager) List() []ListenerView {
	listeners := m.snapshotListeners()
	views := make([]ListenerView, 0, len(listeners))
	for _, listener := range listeners {
		views = append(views, listener.view())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Port < views[j].Port })
	return views
}

// Close stops the listener on port and releases the port.
func (m *Manager) Close(port int) bool {
	m.mu.Lock()
	listener := m.listeners[port]
	if listener != nil {
		delete(m.listeners, port)
	}
	m.mu.Unlock()
	if listener == nil {
		return false
	}
	listener.stop()
	m.allocator.Release(port)
	return true
}

// CloseAll stops every listener. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	listeners := make([]*Listener, 0, len(m.listeners))
	for port, listener := range m.listeners {
		listeners = append(listeners, listener)
		delete(m.listeners, port)
	}
	m.mu.Unlock()
	for _, listener := range listeners {
		listener.stop()
		m.allocator.Release(listener.port)
	}
}

// Streams returns the streams observed on the listener bound to port.
func (m *Manager) Streams(port int) ([]Stream, bool) {
	m.mu.Lock()
	listener := m.listeners[port]
	m.mu.Unlock()
	if listener == nil {
		return nil, false
	}
	return listener.Streams(), true
}

// ListenerStreams groups the streams of one listener for aggregate views.
type ListenerStreams struct {
	Port    int
	Streams []Stream
}

// AllStreams returns the streams of every listener, ordered by port.
func (m *Manager) AllStreams() []ListenerStreams {
	listeners := m.snapshotListeners()
	groups := make([]ListenerStreams, 0, len(listeners))
	for _, listener := range listeners {
		groups = append(groups, ListenerStreams{Port: listener.port, Streams: listener.Streams()})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Port < groups[j].Port })
	return groups
}

// Run drives periodic work until ctx is done: idle stream expiry and the
// aggregate stats log line. A zero stats interval disables the stats log; a
// zero idle timeout disables expiry.
func (m *Manager) Run(ctx context.Context, statsInterval time.Duration) {
	reapEvery := m.idleTimeout / 2
	if reapEvery < time.Second {
		reapEvery = time.Second
	}
	reapTicker := time.NewTicker(reapEvery)
	defer reapTicker.Stop()
	var statsC <-chan time.Time
	if statsInterval > 0 {
		statsTicker := time.NewTicker(statsInterval)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-reapTicker.C:
			if m.idleTimeout > 0 {
				m.reapIdleStreams(now)
			}
		case <-statsC:
			m.logStats()
		}
	}
}

func (m *Manager) reapIdleStreams(now time.Time) {
	for _, listener := range m.snapshotListeners() {
		if removed := listener.registry.Cleanup(now, m.idleTimeout); removed > 0 {
			logging.WithListener(listener.port).Info("streams.expired", "count", removed)
		}
	}
}

func (m *Manager) logStats() {
	views := m.List()
	var packets, parsed, parseErrors uint64
	streams := 0
	for _, view := range views {
		packets += view.Counters.Packets
		parsed += view.Counters.Parsed
		parseErrors += view.Counters.ParseErrors()
		streams += view.Streams
	}
	logging.L().Info("probe.stats",
		"listeners", len(views),
		"streams", streams,
		"packets", packets,
		"parsed", parsed,
		"parse_errors", parseErrors,
	)
}

func (m *Manager) snapshotListeners() []*Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	listeners := make([]*Listener, 0, len(m.listeners))
	for _, listener := range m.listeners {
		listeners = append(listeners, listener)
	}
	return listeners
}
