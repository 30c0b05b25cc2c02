package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
)

var stampRe = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] `)

func drain(s *Stream) []Event {
	var got []Event
	for e := range s.Events() {
		got = append(got, e)
	}
	return got
}

func TestStreamOrder(t *testing.T) {
	s := NewStream()
	s.Info("planning deploy")
	s.Warn("redis (redis) not deployed - REDIS_URL not injected")
	s.Error("health gate failed")
	s.Complete(false, "dep-1", errors.New("health gate failed"))

	got := drain(s)
	if len(got) != 4 {
		t.Fatalf("received %d events, want 4", len(got))
	}

	wantLevels := []Level{LevelInfo, LevelWarn, LevelError}
	for i, level := range wantLevels {
		log, ok := got[i].(*LogEvent)
		if !ok {
			t.Fatalf("event %d is %T, want *LogEvent", i, got[i])
		}
		if log.Level != level {
			t.Errorf("event %d level = %s, want %s", i, log.Level, level)
		}
		if !stampRe.MatchString(log.Message) {
			t.Errorf("event %d message %q lacks [HH:MM:SS] prefix", i, log.Message)
		}
	}

	complete, ok := got[3].(*CompleteEvent)
	if !ok {
		t.Fatalf("last event is %T, want *CompleteEvent", got[3])
	}
	if complete.Success {
		t.Error("complete.Success = true, want false")
	}
	if complete.DeploymentID != "dep-1" {
		t.Errorf("complete.DeploymentID = %s, want dep-1", complete.DeploymentID)
	}
	if complete.Error == nil || *complete.Error != "health gate failed" {
		t.Errorf("complete.Error = %v, want health gate failed", complete.Error)
	}
}

func TestTerminalOnce(t *testing.T) {
	s := NewStream()
	s.Info("starting")
	s.Complete(true, "dep-1", nil)

	// Nothing after the terminal event
	s.Info("should be dropped")
	s.Complete(false, "dep-1", errors.New("late"))

	got := drain(s)
	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	complete, ok := got[1].(*CompleteEvent)
	if !ok {
		t.Fatalf("last event is %T, want *CompleteEvent", got[1])
	}
	if !complete.Success || complete.Error != nil {
		t.Errorf("first Complete() must win, got %+v", complete)
	}
	if !s.Done() {
		t.Error("Done() = false after terminal event")
	}
}

func TestTranscript(t *testing.T) {
	s := NewStream()
	s.Info("step one")
	s.Error("step two failed")
	s.Complete(false, "dep-1", errors.New("step two failed"))
	drain(s)

	text := s.Transcript()
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("transcript has %d lines, want 2:\n%s", len(lines), text)
	}
	if !strings.Contains(lines[0], "step one") || !strings.Contains(lines[1], "step two failed") {
		t.Errorf("transcript content wrong:\n%s", text)
	}
	for _, line := range lines {
		if !stampRe.MatchString(line) {
			t.Errorf("transcript line %q lacks [HH:MM:SS] prefix", line)
		}
	}
}

func TestTranscriptTruncation(t *testing.T) {
	s := NewStream()
	line := strings.Repeat("x", 100)
	for i := 0; i < 1000; i++ {
		s.Info("%s", line)
	}
	s.Complete(true, "dep-1", nil)
	drain(s)

	text := s.Transcript()
	if len(text) > maxLogBytes+64 {
		t.Errorf("transcript length %d exceeds cap %d", len(text), maxLogBytes)
	}
	if !strings.Contains(text, "log truncated") {
		t.Error("transcript missing truncation marker")
	}
}

func TestSlowConsumerNeverBlocks(t *testing.T) {
	s := NewStream()

	// No consumer at all; emit far past the buffer
	for i := 0; i < bufferSize*2; i++ {
		s.Info("event %d", i)
	}
	s.Complete(true, "dep-1", nil)

	got := drain(s)
	if len(got) == 0 {
		t.Fatal("received no events")
	}
	if _, ok := got[len(got)-1].(*CompleteEvent); !ok {
		t.Errorf("last event is %T, want *CompleteEvent even under overflow", got[len(got)-1])
	}
	if s.Dropped() == 0 {
		t.Error("Dropped() = 0, want > 0 after overflow")
	}
}

func TestWriteSSE(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "log event",
			event: &LogEvent{Message: "[10:00:00] uploading image", Level: LevelInfo},
			want:  "event: log\ndata: {\"message\":\"[10:00:00] uploading image\",\"level\":\"info\"}\n\n",
		},
		{
			name:  "complete success",
			event: &CompleteEvent{Success: true, DeploymentID: "dep-1"},
			want:  "event: complete\ndata: {\"success\":true,\"deployment_id\":\"dep-1\",\"error\":null}\n\n",
		},
		{
			name: "complete failure",
			event: &CompleteEvent{Success: false, DeploymentID: "dep-2", Error: func() *string {
				s := "deadline exceeded"
				return &s
			}()},
			want: "event: complete\ndata: {\"success\":false,\"deployment_id\":\"dep-2\",\"error\":\"deadline exceeded\"}\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteSSE(&buf, tt.event); err != nil {
				t.Fatalf("WriteSSE() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("WriteSSE() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestCompleteEventJSON(t *testing.T) {
	data, err := json.Marshal(&CompleteEvent{Success: true, DeploymentID: "d"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), "\"error\":null") {
		t.Errorf("error field must serialize as null when unset, got %s", data)
	}
}
