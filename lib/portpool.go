package lib

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// PortPool hands out local port numbers in random order and takes them back
// for reuse. It is a ring of the ports in [minPort, maxPort].
type PortPool struct {
	ports           []int
	capacity        int
	minPort         int
	maxPort         int
	readIdx         int
	writeIdx        int
	isFull, isEmpty bool
	allocatedMap    map[int]time.Time
	mtx             sync.Mutex
}

// NewPortPool creates a full pool for the port range.
func NewPortPool(minPort, maxPort int) (*PortPool, error) {
	if minPort <= 0 || maxPort > 0xffff || minPort > maxPort {
		return nil, fmt.Errorf("invalid port range %d-%d", minPort, maxPort)
	}
	capacity := maxPort - minPort + 1

	// Generate a random permutation of indices
	perm := rand.Perm(capacity)

	ports := make([]int, capacity)
	for i, v := range perm {
		ports[i] = minPort + v
	}

	return &PortPool{
		ports:        ports,
		capacity:     capacity,
		minPort:      minPort,
		maxPort:      maxPort,
		allocatedMap: make(map[int]time.Time),
		isFull:       true,
	}, nil
}

// Allocate takes the next port out of the pool.
func (p *PortPool) Allocate() (int, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.isEmpty {
		log.Println("Port allocation: port pool is empty. Cannot allocate")
		return 0, fmt.Errorf("port pool is empty")
	}

	port := p.ports[p.readIdx]
	p.readIdx = (p.readIdx + 1) % p.capacity // Move read index circularly
	if p.readIdx == p.writeIdx {
		p.isEmpty = true
	}
	p.isFull = false

	p.allocatedMap[port] = time.Now()
	return port, nil
}

// Release puts an allocated port back at the end of the ring.
func (p *PortPool) Release(port int) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if port < p.minPort || port > p.maxPort {
		return fmt.Errorf("port %d out of range %d-%d", port, p.minPort, p.maxPort)
	}
	if _, ok := p.allocatedMap[port]; !ok {
		return fmt.Errorf("port %d was not allocated", port)
	}

	p.ports[p.writeIdx] = port
	p.writeIdx = (p.writeIdx + 1) % p.capacity
	if p.writeIdx == p.readIdx {
		p.isFull = true
	}
	p.isEmpty = false

	delete(p.allocatedMap, port)
	return nil
}

// Available returns how many ports can still be allocated.
func (p *PortPool) Available() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.capacity - len(p.allocatedMap)
}
