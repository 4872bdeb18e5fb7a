package driver

import (
	"context"
	"sync"
)

// RecordingDriver keeps every applied command in memory. It is used for
// dry runs without a board and in tests.
type RecordingDriver struct {
	mu       sync.Mutex
	commands []Command

	// Err, when set, is returned by Apply instead of recording.
	Err error
}

func (r *RecordingDriver) Apply(_ context.Context, cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.commands = append(r.commands, cmd.Clamp())
	return nil
}

func (r *RecordingDriver) Stop(ctx context.Context) error {
	return r.Apply(ctx, Stop())
}

// Commands returns a copy of the recorded commands.
func (r *RecordingDriver) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Last returns the most recent command, or a stop if none was applied.
func (r *RecordingDriver) Last() Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commands) == 0 {
		return Stop()
	}
	return r.commands[len(r.commands)-1]
}

// Reset forgets recorded commands.
func (r *RecordingDriver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
