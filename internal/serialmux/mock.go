package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory SerialPorter. With Reply set it plays
// the motor board, answering each written line.
//
// Error fields fire once and then clear. Counters and buffers may be read
// directly once the mux using the port has stopped.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	ReadBuffer  *bytes.Buffer // bytes waiting to be read
	WriteBuffer *bytes.Buffer // everything written

	ReadLatency, WriteLatency        time.Duration
	ReadError, WriteError, CloseError error

	Closed                bool
	ReadCalls, WriteCalls int

	// Reply maps a written line to the board's answer; "" sends nothing.
	Reply func(line string) string

	// BlockReads makes Read wait for data instead of returning io.EOF.
	BlockReads bool
}

// NewTestableSerialPort returns an open, empty port.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{
		ReadBuffer:  new(bytes.Buffer),
		WriteBuffer: new(bytes.Buffer),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// AckAll is a Reply that acknowledges every command.
func AckAll(string) string { return "OK" }

// pause sleeps for d with the lock released. Callers hold p.mu.
func (p *TestableSerialPort) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Unlock()
	time.Sleep(d)
	p.mu.Lock()
}

func takeErr(e *error) error {
	err := *e
	*e = nil
	return err
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadCalls++

	if p.Closed {
		return 0, errPortClosed
	}
	if err := takeErr(&p.ReadError); err != nil {
		return 0, err
	}
	p.pause(p.ReadLatency)

	for p.BlockReads && !p.Closed && p.ReadBuffer.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.ReadBuffer.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WriteCalls++

	if p.Closed {
		return 0, errPortClosed
	}
	if err := takeErr(&p.WriteError); err != nil {
		return 0, err
	}
	p.pause(p.WriteLatency)

	n, err := p.WriteBuffer.Write(b)
	if p.Reply == nil {
		return n, err
	}
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		if answer := p.Reply(line); answer != "" {
			p.ReadBuffer.WriteString(answer + "\n")
		}
	}
	p.cond.Broadcast()
	return n, err
}

// Close wakes blocked readers; later reads and writes fail.
func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return p.CloseError
}

// AddReadData queues board output, for example telemetry lines.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadBuffer.Write(data)
	p.cond.Broadcast()
}

// GetWrittenData returns a copy of everything written so far.
func (p *TestableSerialPort) GetWrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.WriteBuffer.Bytes())
}

// Reset reopens the port and clears buffers, counters and injected faults.
// Reply and BlockReads are kept.
func (p *TestableSerialPort) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadBuffer.Reset()
	p.WriteBuffer.Reset()
	p.ReadCalls, p.WriteCalls = 0, 0
	p.Closed = false
	p.ReadError, p.WriteError, p.CloseError = nil, nil, nil
	p.ReadLatency, p.WriteLatency = 0, 0
}
