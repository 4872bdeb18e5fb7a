package markersource

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the UDP source needs.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// MockUDPSocket replays queued datagrams. Once the queue is empty, reads
// wait for the read deadline and then time out, as a quiet socket would.
type MockUDPSocket struct {
	mu       sync.Mutex
	packets  [][]byte
	deadline time.Time
	closed   bool

	// ReadError is returned by the next read if set.
	ReadError error
}

// NewMockUDPSocket queues the given datagrams.
func NewMockUDPSocket(packets ...[]byte) *MockUDPSocket {
	return &MockUDPSocket{packets: packets}
}

// Push queues another datagram.
func (m *MockUDPSocket) Push(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets = append(m.packets, p)
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if err := m.ReadError; err != nil {
		m.ReadError = nil
		m.mu.Unlock()
		return 0, nil, err
	}
	if len(m.packets) > 0 {
		p := m.packets[0]
		m.packets = m.packets[1:]
		m.mu.Unlock()
		return copy(b, p), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}, nil
	}
	deadline := m.deadline
	m.mu.Unlock()

	if !deadline.IsZero() {
		time.Sleep(time.Until(deadline))
	}
	return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = t
	return nil
}

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5600}
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
