package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

type deadlineSink struct {
	sawDeadline atomic.Bool
}

func (s *deadlineSink) Emit(ctx context.Context, _ Event) {
	_, ok := ctx.Deadline()
	s.sawDeadline.Store(ok)
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher must report zero counters")
	}
}

func TestDispatcherDeliversBeforeClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
	}
	d.Close()

	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 deliveries, got %d", got)
	}
	if d.Delivered() != 50 {
		t.Fatalf("expected delivered counter 50, got %d", d.Delivered())
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	if sink.count.Load() != 50 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestDispatcherDropIfFullDoesNotBlock(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected at least one dropped event")
	}
}

func TestDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{EventType: "e3"})
	if d.Dropped() != 1 {
		t.Fatalf("expected the timed-out emit to count as dropped, got %d", d.Dropped())
	}
}

func TestDispatcherSinkTimeout(t *testing.T) {
	sink := &deadlineSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, SinkTimeout: time.Second}, sink)
	d.Emit(context.Background(), Event{EventType: "e"})
	d.Close()

	if !sink.sawDeadline.Load() {
		t.Fatal("expected sink context to carry a deadline")
	}
}

func TestJSONSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "signin_failure", UserID: "u1", Error: "invalid_credentials"})
	sink.Emit(context.Background(), Event{EventType: "signin_success", UserID: "u1", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if rec["event_type"] != "signin_failure" || rec["error"] != "invalid_credentials" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	var got []string
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, SinkFunc(func(_ context.Context, e Event) {
		got = append(got, e.EventType)
	}))
	d.Emit(context.Background(), Event{EventType: "a"})
	d.Emit(context.Background(), Event{EventType: "b"})
	d.Close()
	d.Close()

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected in-order delivery of both events, got %v", got)
	}
}

func TestDispatcherConcurrentEmitAndClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Emit(context.Background(), Event{EventType: "e"})
			}
		}()
	}
	d.Close()
	wg.Wait()

	if uint64(sink.count.Load()) != d.Delivered() {
		t.Fatalf("sink saw %d events, dispatcher delivered %d", sink.count.Load(), d.Delivered())
	}
}

func TestSlogSinkLevelsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{
		EventType: "challenge_failure",
		UserID:    "u1",
		IP:        "203.0.113.9",
		Error:     "code_invalid",
		Metadata:  map[string]string{"factor": "totp"},
	})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("slog output is not JSON: %v", err)
	}
	if rec["level"] != "WARN" {
		t.Fatalf("failed event should log at WARN, got %v", rec["level"])
	}
	if rec["msg"] != "audit" || rec["event_type"] != "challenge_failure" || rec["user_id"] != "u1" {
		t.Fatalf("unexpected record %v", rec)
	}
	meta, ok := rec["metadata"].(map[string]any)
	if !ok || meta["factor"] != "totp" {
		t.Fatalf("expected metadata group, got %v", rec["metadata"])
	}

	buf.Reset()
	sink.Emit(context.Background(), Event{EventType: "signin_success", Success: true})
	if !strings.Contains(buf.String(), `"level":"INFO"`) {
		t.Fatalf("successful event should log at INFO: %s", buf.String())
	}
}

func TestChannelSinkBuffers(t *testing.T) {
	sink := NewChannelSink(0)
	sink.Emit(context.Background(), Event{EventType: "a"})

	select {
	case ev := <-sink.Events():
		if ev.EventType != "a" {
			t.Fatalf("unexpected event %q", ev.EventType)
		}
	default:
		t.Fatal("expected buffered event")
	}
}
