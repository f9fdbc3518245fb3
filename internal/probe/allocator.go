package probe

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrNoPortsAvailable = errors.New("no available ports")

// PortAllocator hands out listener ports from a fixed range, lowest free
// port first. Released ports return to the pool and become the next
// candidates again.
type PortAllocator struct {
	mu        sync.Mutex
	min       int
	max       int
	available []int
	inUse     map[int]bool
}

func NewPortAllocator(minPort, maxPort int) (*PortAllocator, error) {
	if minPort <= 0 || maxPort <= 0 {
		return nil, fmt.Errorf("invalid port range %d-%d", minPort, maxPort)
	}
	if minPort > maxPort {
		return nil, fmt.Errorf("invalid port range %d-%d", minPort, maxPort)
	}
	available := make([]int, 0, maxPort-minPort+1)
	for port := minPort; port <= maxPort; port++ {
		available = append(available, port)
	}
	return &PortAllocator{
		min:       minPort,
		max:       maxPort,
		available: available,
		inUse:     make(map[int]bool),
	}, nil
}

// Allocate reserves the lowest free port in the range.
func (p *PortAllocator) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.available) == 0 {
		return 0, ErrNoPortsAvailable
	}
	port := p.available[0]
	p.available = append([]int(nil), p.available[1:]...)
	p.inUse[port] = true
	return port, nil
}

// Claim reserves a specific port so automatic allocation skips it.
func (p *PortAllocator) Claim(port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if port < p.min || port > p.max {
		return fmt.Errorf("port %d outside range %d-%d", port, p.min, p.max)
	}
	if p.inUse[port] {
		return fmt.Errorf("port %d already allocated", port)
	}
	for i, candidate := range p.available {
		if candidate == port {
			p.available = append(p.available[:i], p.available[i+1:]...)
			p.inUse[port] = true
			return nil
		}
	}
	return fmt.Errorf("port %d already allocated", port)
}

// Contains reports whether port falls inside the managed range.
func (p *PortAllocator) Contains(port int) bool {
	return port >= p.min && port <= p.max
}

// Release returns a port to the pool. Ports that were never allocated are
// ignored.
func (p *PortAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inUse[port] {
		return
	}
	delete(p.inUse, port)
	if port < p.min || port > p.max {
		return
	}
	p.available = append(p.available, port)
	sort.Ints(p.available)
}
