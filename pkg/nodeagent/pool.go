package nodeagent

import (
	"sync"
)

// Pool hands out one Client per node IP. The server builds a single
// pool shared by the orchestrator and the monitor and closes it on
// shutdown; clients keep their HTTP connections warm across calls.
type Pool struct {
	mu      sync.Mutex
	port    int
	token   string
	clients map[string]*Client
}

// NewPool creates an empty pool. Clients are created lazily by Get.
func NewPool(port int, token string) *Pool {
	return &Pool{
		port:    port,
		token:   token,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for a node IP, creating it on first use.
func (p *Pool) Get(nodeIP string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[nodeIP]; ok {
		return client
	}
	client := NewClient(nodeIP, p.port, p.token)
	p.clients[nodeIP] = client
	return client
}

// Size returns how many clients the pool holds.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close releases every client's connections and empties the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, client := range p.clients {
		client.Close()
	}
	p.clients = make(map[string]*Client)
}
