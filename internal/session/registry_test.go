package session

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"geoserver-relay/internal/events"
	"geoserver-relay/internal/metrics"
	"geoserver-relay/internal/model"
)

type fakeChannel struct {
	mu      sync.Mutex
	sent    []any
	open    bool
	sendErr error
}

func newFakeChannel() *fakeChannel { return &fakeChannel{open: true} }

func (f *fakeChannel) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeChannel) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeChannel) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_SendToRegistered(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	ch := newFakeChannel()
	r.Register("s1", ch)

	if !r.IsConnected("s1") {
		t.Fatal("IsConnected(s1) = false, want true")
	}
	r.Send("s1", "hello")

	if got := ch.messages(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("sent = %v, want [hello]", got)
	}
}

func TestRegistry_SendAfterUnregisterIsNoop(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	ch := newFakeChannel()
	r.Register("s1", ch)
	r.Unregister("s1")
	r.Unregister("s1")

	r.Send("s1", "hello")
	r.Send("never-registered", "hello")

	if got := ch.messages(); len(got) != 0 {
		t.Errorf("sent = %v, want none", got)
	}
	if r.IsConnected("s1") {
		t.Error("IsConnected(s1) = true after Unregister")
	}
}

func TestRegistry_SendToClosedChannelIsNoop(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	ch := newFakeChannel()
	ch.open = false
	r.Register("s1", ch)

	r.Send("s1", "hello")
	if got := ch.messages(); len(got) != 0 {
		t.Errorf("sent = %v, want none", got)
	}
	if r.IsConnected("s1") {
		t.Error("IsConnected(s1) = true for closed channel")
	}
}

func TestRegistry_SendErrorIsSwallowed(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	ch := newFakeChannel()
	ch.sendErr = errors.New("broken pipe")
	r.Register("s1", ch)

	r.Send("s1", "hello") // must not panic or propagate
}

func TestRegistry_LastWriterWins(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	first, second := newFakeChannel(), newFakeChannel()
	r.Register("s1", first)
	r.Register("s1", second)

	r.Send("s1", "x")
	if len(first.messages()) != 0 || len(second.messages()) != 1 {
		t.Errorf("first=%v second=%v, want only second to receive", first.messages(), second.messages())
	}

	if r.Release("s1", first) {
		t.Error("Release(stale channel) = true, want false")
	}
	if !r.IsConnected("s1") {
		t.Error("stale Release evicted the current channel")
	}
	if !r.Release("s1", second) {
		t.Error("Release(current channel) = false, want true")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_UpdatesGauge(t *testing.T) {
	m := metrics.New()
	r := NewRegistry(testLogger(), m)
	r.Register("a", newFakeChannel())
	r.Register("b", newFakeChannel())
	r.Unregister("a")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "geoserver_relay_sessions_active" {
			if v := f.GetMetric()[0].GetGauge().GetValue(); v != 1 {
				t.Errorf("sessions_active = %v, want 1", v)
			}
			return
		}
	}
	t.Error("geoserver_relay_sessions_active not gathered")
}

func TestNotifier_Handle(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	ch := newFakeChannel()
	r.Register("s1", ch)
	n := NewNotifier(r, testLogger(), metrics.New())

	hit := "HIT"
	ev := model.TelemetryEvent{Type: model.MessageProxyResponse, Status: 200, CacheResult: &hit, ViaProxy: true}

	n.Handle(events.TileServed{SessionID: "s1", Telemetry: ev})
	n.Handle(events.TileServed{SessionID: "gone", Telemetry: ev})
	n.Handle(events.SessionClosed{SessionID: "s1"})

	got := ch.messages()
	if len(got) != 1 {
		t.Fatalf("sent %d messages, want 1", len(got))
	}
	te, ok := got[0].(model.TelemetryEvent)
	if !ok {
		t.Fatalf("sent %T, want model.TelemetryEvent", got[0])
	}
	if te.CacheResult == nil || *te.CacheResult != "HIT" {
		t.Errorf("CacheResult = %v, want HIT", te.CacheResult)
	}
}
