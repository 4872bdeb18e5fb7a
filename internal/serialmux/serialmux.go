// Package serialmux owns the serial link to the motor board. One writer
// shares the port; any number of subscribers receive the lines the board
// sends back.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrWriteFailed is returned on a short write.
var ErrWriteFailed = errors.New("failed to write to serial port")

// subscriberBuffer is how far a subscriber may lag before its lines drop.
const subscriberBuffer = 16

// WatchdogTimeout is programmed into the board on Initialize. The board cuts
// both motors if no drive line arrives within this window.
var WatchdogTimeout = 500 * time.Millisecond

// SerialMuxInterface is implemented by SerialMux, DisabledSerialMux and
// SerialPortManager.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel of board lines. The channel is
	// closed by Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one line; a trailing newline is added if missing.
	SendCommand(string) error
	// Monitor reads the port until ctx is done, EOF, or Close.
	Monitor(context.Context) error
	Close() error
	// Initialize arms the board watchdog and stops the motors.
	Initialize() error
	// AttachAdminRoutes mounts the send and tail pages under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux multiplexes one port.
type SerialMux[T SerialPorter] struct {
	port T

	writeMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[string]chan string

	closing atomic.Bool
}

// NewSerialMux wraps an already opened port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, subscribers: make(map[string]chan string)}
}

// newSubscriberID returns 16 hex characters.
func newSubscriberID() string {
	var b [8]byte
	crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id, ch := newSubscriberID(), make(chan string, subscriberBuffer)
	s.subMu.Lock()
	s.subscribers[id] = ch
	s.subMu.Unlock()
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// broadcast hands line to every subscriber without blocking; a full
// subscriber misses it.
func (s *SerialMux[T]) broadcast(line string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

func (s *SerialMux[T]) Initialize() error {
	if err := s.SendCommand(fmt.Sprintf("W %d", WatchdogTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set watchdog: %w", err)
	}
	if err := s.SendCommand(StopLine); err != nil {
		return fmt.Errorf("failed to send initial stop: %w", err)
	}
	return nil
}

func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(command))
	switch {
	case err != nil:
		return err
	case n != len(command):
		return ErrWriteFailed
	}
	return nil
}

// Monitor fans board lines out to subscribers. It returns ctx.Err() on
// cancellation, the scanner error on a read failure, and nil at EOF or
// after Close.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scan blocks in the port's Read; keep it off the select loop.
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if s.closing.Load() {
						return nil
					}
					return err
				default:
					return ctx.Err()
				}
			}
			if s.closing.Load() {
				return nil
			}
			if line = strings.TrimSpace(line); line != "" {
				s.broadcast(line)
			}
		}
	}
}

// Close closes every subscriber channel and then the port.
func (s *SerialMux[T]) Close() error {
	s.closing.Store(true)
	s.subMu.Lock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.subMu.Unlock()
	return s.port.Close()
}
