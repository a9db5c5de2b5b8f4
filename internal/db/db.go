package db

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parisxmas/fieldops/internal/oxidb"
)

const dialTimeout = 5 * time.Second

// Pool is a round-robin connection pool for OxiDB with auto-reconnect.
type Pool struct {
	host     string
	port     int
	clients  []*oxidb.Client
	mu       []sync.Mutex
	idx      uint64
	stop     chan struct{}
	stopOnce sync.Once
}

// NewPool creates a pool of size OxiDB connections and starts the keepalive loop.
func NewPool(host string, port, size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		host:    host,
		port:    port,
		clients: make([]*oxidb.Client, size),
		mu:      make([]sync.Mutex, size),
		stop:    make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		c, err := oxidb.Connect(host, port, dialTimeout)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pool: connect client %d: %w", i, err)
		}
		p.clients[i] = c
	}
	// Keepalive pings every 10 seconds prevent the server's idle timeout.
	go p.keepalive(10 * time.Second)
	return p, nil
}

// Get returns the next client in round-robin order. A client whose stream was
// interrupted by a cancelled request is replaced before being handed out.
func (p *Pool) Get() *oxidb.Client {
	n := atomic.AddUint64(&p.idx, 1)
	i := int(n % uint64(len(p.clients)))
	p.mu[i].Lock()
	c := p.clients[i]
	p.mu[i].Unlock()
	if c.Broken() {
		p.reconnect(i)
		p.mu[i].Lock()
		c = p.clients[i]
		p.mu[i].Unlock()
	}
	return c
}

// Size returns the number of connections.
func (p *Pool) Size() int {
	return len(p.clients)
}

// reconnect replaces the client at index i.
func (p *Pool) reconnect(i int) {
	p.mu[i].Lock()
	defer p.mu[i].Unlock()
	c, err := oxidb.Connect(p.host, p.port, dialTimeout)
	if err != nil {
		log.Printf("Warning: pool: reconnect client %d failed: %v", i, err)
		return
	}
	if p.clients[i] != nil {
		p.clients[i].Close()
	}
	p.clients[i] = c
}

func (p *Pool) keepalive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			for i := range p.clients {
				p.mu[i].Lock()
				c := p.clients[i]
				p.mu[i].Unlock()
				ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
				_, err := c.Ping(ctx)
				cancel()
				if err != nil {
					log.Printf("Warning: pool: client %d ping failed, reconnecting: %v", i, err)
					p.reconnect(i)
				}
			}
		}
	}
}

// Close stops the keepalive loop and closes all connections.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	for i, c := range p.clients {
		p.mu[i].Lock()
		if c != nil {
			c.Close()
		}
		p.mu[i].Unlock()
	}
}
