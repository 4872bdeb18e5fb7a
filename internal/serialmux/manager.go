package serialmux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrManagerClosed is returned by a SerialPortManager after Close.
var ErrManagerClosed = errors.New("serial manager is closed")

// ErrMuxUnavailable is returned while no port is open, for example between
// closing the old port and opening the new one during a reload.
var ErrMuxUnavailable = errors.New("serial mux unavailable")

// Factory opens a mux on path. It is injected so tests and dry runs can
// supply their own constructors.
type Factory func(path string, opts PortOptions) (SerialMuxInterface, error)

// RealFactory opens a real serial port.
func RealFactory(path string, opts PortOptions) (SerialMuxInterface, error) {
	return NewRealSerialMux(path, opts)
}

// PortSnapshot describes the port currently in use.
type PortSnapshot struct {
	PortPath string      `json:"port_path"`
	Options  PortOptions `json:"options"`
	OpenedAt time.Time   `json:"opened_at"`
}

// SerialPortManager wraps the active mux so the port can be reopened, after
// the board is unplugged or moved to another device path, without the
// driver losing its subscription. It implements SerialMuxInterface.
//
// Subscribers get channels from the manager's own fan-out, which a
// background goroutine feeds from whichever mux is current. A reload closes
// only the internal subscription; subscriber channels stay open.
type SerialPortManager struct {
	mu       sync.RWMutex
	current  SerialMuxInterface
	snapshot PortSnapshot
	closed   bool

	factory  Factory
	reloadMu sync.Mutex

	done        chan struct{}
	fanoutMu    sync.RWMutex
	subscribers map[string]chan string
}

// NewSerialPortManager starts the fan-out over initial. initial may be nil
// when the first port is opened with Reload.
func NewSerialPortManager(initial SerialMuxInterface, snap PortSnapshot, factory Factory) *SerialPortManager {
	m := &SerialPortManager{
		current:     initial,
		snapshot:    snap,
		factory:     factory,
		done:        make(chan struct{}),
		subscribers: make(map[string]chan string),
	}
	go m.runFanout()
	return m
}

// CurrentMux returns the mux in use, or nil during a reload.
func (m *SerialPortManager) CurrentMux() SerialMuxInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *SerialPortManager) Snapshot() PortSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func (m *SerialPortManager) runFanout() {
	var subID string
	var subCh chan string
	var subMux SerialMuxInterface

	defer func() {
		if subID != "" && subMux != nil {
			subMux.Unsubscribe(subID)
		}
		m.fanoutMu.Lock()
		for id, ch := range m.subscribers {
			close(ch)
			delete(m.subscribers, id)
		}
		m.fanoutMu.Unlock()
	}()

	for {
		if subID == "" {
			mux := m.CurrentMux()
			if mux == nil {
				select {
				case <-m.done:
					return
				case <-time.After(50 * time.Millisecond):
					continue
				}
			}
			subID, subCh = mux.Subscribe()
			subMux = mux
		}

		select {
		case <-m.done:
			return
		case line, ok := <-subCh:
			if !ok {
				// the mux was closed, most likely by a reload
				subID, subCh, subMux = "", nil, nil
				continue
			}
			m.fanoutMu.RLock()
			for _, ch := range m.subscribers {
				select {
				case ch <- line:
				default:
					logf("subscriber channel full, dropping %q", line)
				}
			}
			m.fanoutMu.RUnlock()
		}
	}
}

// Subscribe returns a channel that survives reloads. After Close it returns
// a closed channel.
func (m *SerialPortManager) Subscribe() (string, chan string) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		ch := make(chan string)
		close(ch)
		return "", ch
	}

	id := newSubscriberID()
	ch := make(chan string, subscriberBuffer)
	m.fanoutMu.Lock()
	m.subscribers[id] = ch
	m.fanoutMu.Unlock()
	return id, ch
}

func (m *SerialPortManager) Unsubscribe(id string) {
	m.fanoutMu.Lock()
	defer m.fanoutMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *SerialPortManager) active() (SerialMuxInterface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.current == nil {
		return nil, ErrMuxUnavailable
	}
	return m.current, nil
}

func (m *SerialPortManager) SendCommand(command string) error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.SendCommand(command)
}

func (m *SerialPortManager) Initialize() error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.Initialize()
}

// Monitor follows the current mux across reloads until ctx is cancelled.
func (m *SerialPortManager) Monitor(ctx context.Context) error {
	for {
		mux := m.CurrentMux()
		if mux == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		err := mux.Monitor(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logf("serial monitor terminated: %v", err)
		}
		// the port went away or was swapped; wait for the next one
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Close closes the active mux and ends the fan-out. Subscriber channels are
// closed.
func (m *SerialPortManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cur := m.current
	m.current = nil
	m.mu.Unlock()

	close(m.done)
	if cur != nil {
		return cur.Close()
	}
	return nil
}

func (m *SerialPortManager) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutesForMux(mux, m)
}

// Reload reopens the port at path with opts and initializes the board. The
// old port is closed first since a serial device cannot be opened twice.
// Reloading the configuration already in use is a no-op and reports false.
func (m *SerialPortManager) Reload(ctx context.Context, path string, opts PortOptions) (bool, error) {
	if m.factory == nil {
		return false, errors.New("serial mux factory not configured")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	normalized, err := opts.Normalize()
	if err != nil {
		return false, fmt.Errorf("invalid serial options: %w", err)
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrManagerClosed
	}
	if m.current != nil && m.snapshot.PortPath == path && m.snapshot.Options.Equal(normalized) {
		m.mu.Unlock()
		return false, nil
	}
	old := m.current
	m.current = nil
	m.mu.Unlock()

	if old != nil {
		logf("closing %s before reload", m.Snapshot().PortPath)
		if err := old.Close(); err != nil {
			logf("close previous port: %v", err)
		}
	}

	next, err := m.factory(path, normalized)
	if err != nil {
		return false, fmt.Errorf("open serial port %s: %w", path, err)
	}
	if err := next.Initialize(); err != nil {
		next.Close()
		return false, fmt.Errorf("initialize serial port %s: %w", path, err)
	}

	m.mu.Lock()
	m.current = next
	m.snapshot = PortSnapshot{PortPath: path, Options: normalized, OpenedAt: time.Now()}
	m.mu.Unlock()
	logf("serial port %s open at %d baud", path, normalized.BaudRate)
	return true, nil
}
