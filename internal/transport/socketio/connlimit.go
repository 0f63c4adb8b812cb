package socketio

import (
	"net"
	"slices"
	"strings"
	"sync"
)

// ConnectionLimiter caps concurrent remote clients. Loopback clients are
// never counted. Once the cap is exceeded the oldest remote client is evicted.
type ConnectionLimiter struct {
	mu        sync.Mutex
	maxRemote int
	remote    []string          // Remote client IDs, oldest first
	clients   map[string]string // Client ID -> IP
}

// NewConnectionLimiter creates a limiter allowing up to maxRemote remote clients.
func NewConnectionLimiter(maxRemote int) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxRemote: maxRemote,
		clients:   make(map[string]string),
	}
}

// TryAdd registers a client and returns the ID of the client it displaced,
// or "" when nobody has to go.
func (cl *ConnectionLimiter) TryAdd(clientID, ip string) (evicted string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, ok := cl.clients[clientID]; ok {
		return ""
	}
	cl.clients[clientID] = ip
	if isLoopback(ip) {
		return ""
	}

	cl.remote = append(cl.remote, clientID)
	if len(cl.remote) <= cl.maxRemote {
		return ""
	}
	evicted = cl.remote[0]
	cl.remote = cl.remote[1:]
	delete(cl.clients, evicted)
	return evicted
}

// Remove unregisters a disconnected client.
func (cl *ConnectionLimiter) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, ok := cl.clients[clientID]; !ok {
		return
	}
	delete(cl.clients, clientID)
	if i := slices.Index(cl.remote, clientID); i >= 0 {
		cl.remote = slices.Delete(cl.remote, i, i+1)
	}
}

// RemoteCount returns the number of tracked remote clients.
func (cl *ConnectionLimiter) RemoteCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.remote)
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

// clientIP normalises a handshake address: the port is dropped and
// IPv4-mapped IPv6 addresses are reduced to IPv4.
func clientIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	addr = strings.TrimPrefix(addr, "::ffff:")
	if ip := net.ParseIP(addr); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return addr
}
