package events

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Type represents the type of event
type Type string

const (
	TypeLog      Type = "log"
	TypeComplete Type = "complete"
)

// Level grades a log event
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const (
	// Buffer per stream; a full pipeline emits a few dozen events
	bufferSize = 256

	// Cap on the log transcript kept for the deployment row
	maxLogBytes = 64 << 10
)

// Event is one frame in a deployment's progress stream.
type Event interface {
	Kind() Type
}

// LogEvent is human-readable progress. The message carries its own
// [HH:MM:SS] prefix so transcripts read the same everywhere.
type LogEvent struct {
	Message string `json:"message"`
	Level   Level  `json:"level"`
}

func (*LogEvent) Kind() Type { return TypeLog }

// CompleteEvent terminates a stream. Exactly one is emitted per
// stream and nothing follows it.
type CompleteEvent struct {
	Success      bool    `json:"success"`
	DeploymentID string  `json:"deployment_id"`
	Error        *string `json:"error"`
}

func (*CompleteEvent) Kind() Type { return TypeComplete }

// Stream is the ordered event sequence for one deployment attempt.
// Producers (the orchestrator) never block: log events are dropped if
// the consumer falls more than bufferSize behind, but the terminal
// event always has a reserved slot. The stream also accumulates a
// capped transcript for the deployment's log column.
type Stream struct {
	mu      sync.Mutex
	ch      chan Event
	done    bool
	buf     strings.Builder
	clipped bool
	dropped int
}

// NewStream creates a stream ready to emit.
func NewStream() *Stream {
	return &Stream{ch: make(chan Event, bufferSize)}
}

// Events returns the consumer side. The channel is closed after the
// terminal event; range until closed.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Info emits an info-level log event.
func (s *Stream) Info(format string, args ...interface{}) {
	s.log(LevelInfo, format, args...)
}

// Warn emits a warn-level log event.
func (s *Stream) Warn(format string, args ...interface{}) {
	s.log(LevelWarn, format, args...)
}

// Error emits an error-level log event.
func (s *Stream) Error(format string, args ...interface{}) {
	s.log(LevelError, format, args...)
}

func (s *Stream) log(level Level, format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}

	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	s.record(msg)

	// Keep one slot free so Complete can never be squeezed out
	if len(s.ch) >= cap(s.ch)-1 {
		s.dropped++
		return
	}
	s.ch <- &LogEvent{Message: msg, Level: level}
}

// Complete emits the terminal event and closes the stream. Later
// calls, and any log emitted after it, are ignored.
func (s *Stream) Complete(success bool, deploymentID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.done = true

	event := &CompleteEvent{Success: success, DeploymentID: deploymentID}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
	}
	s.ch <- event
	close(s.ch)
}

// Done reports whether the terminal event has been emitted.
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Transcript returns the accumulated log text, capped at maxLogBytes.
// The orchestrator persists this to the deployment row.
func (s *Stream) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Dropped returns how many log events were discarded because the
// consumer fell behind. The transcript still has them.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Stream) record(msg string) {
	if s.clipped {
		return
	}
	if s.buf.Len()+len(msg)+1 > maxLogBytes {
		s.buf.WriteString("... (log truncated)\n")
		s.clipped = true
		return
	}
	s.buf.WriteString(msg)
	s.buf.WriteByte('\n')
}

// WriteSSE encodes one event in Server-Sent Events framing:
//
//	event: <type>
//	data: <json>
//
// followed by a blank line.
func WriteSSE(w io.Writer, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind(), data)
	return err
}
