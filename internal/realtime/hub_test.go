package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vesaa/cncmate/internal/models"
)

// fakeConn records queued messages in memory.
type fakeConn struct {
	id string

	mu     sync.Mutex
	msgs   [][]byte
	closed bool
	refuse bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.refuse {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) events(t *testing.T) []Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, 0, len(f.msgs))
	for _, m := range f.msgs {
		var ev Event
		if err := json.Unmarshal(m, &ev); err != nil {
			t.Fatalf("bad event json %s: %v", m, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestHub_GreetingFirst(t *testing.T) {
	h := NewHub(nil)
	c := newFakeConn("c1")
	if err := h.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h.Broadcast(MachineUpdate("m1", "rpm", 1500, time.Now()))

	evs := c.events(t)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if evs[0].Type != TypeConnection {
		t.Errorf("first event = %q, want %q", evs[0].Type, TypeConnection)
	}
	data, _ := evs[0].Data.(map[string]any)
	if data["message"] != GreetingMessage {
		t.Errorf("greeting message = %v, want %q", data["message"], GreetingMessage)
	}
	if evs[1].Type != TypeMachineUpdate {
		t.Errorf("second event = %q, want %q", evs[1].Type, TypeMachineUpdate)
	}
}

func TestHub_GreetingFirstUnderConcurrentBroadcast(t *testing.T) {
	h := NewHub(nil)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Broadcast(MachineUpdate("m1", "temperature", 40, time.Now()))
			}
		}
	}()

	conns := make([]*fakeConn, 50)
	for i := range conns {
		conns[i] = newFakeConn(fmt.Sprintf("c%d", i))
		if err := h.Register(conns[i]); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	for _, c := range conns {
		if evs := c.events(t); evs[0].Type != TypeConnection {
			t.Fatalf("%s first event = %q, want connection", c.id, evs[0].Type)
		}
	}
}

func TestHub_BroadcastExactlyOncePerOpenConn(t *testing.T) {
	h := NewHub(nil)
	open1, open2, closed := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")
	for _, c := range []*fakeConn{open1, open2, closed} {
		if err := h.Register(c); err != nil {
			t.Fatal(err)
		}
	}
	closed.Close()

	h.Broadcast(MachineUpdate("m1", "power", 12.5, time.Now()))

	for _, c := range []*fakeConn{open1, open2} {
		if n := len(c.events(t)); n != 2 {
			t.Errorf("%s got %d messages, want greeting + 1", c.id, n)
		}
	}
	if n := len(closed.events(t)); n != 1 {
		t.Errorf("closed conn got %d messages, want only the greeting", n)
	}
	if h.Len() != 2 {
		t.Errorf("Len = %d, want 2 after rejecting conn dropped", h.Len())
	}
}

func TestHub_RefusingConnDoesNotBlockOthers(t *testing.T) {
	h := NewHub(nil)
	slow, fast := newFakeConn("slow"), newFakeConn("fast")
	h.Register(slow)
	h.Register(fast)
	slow.mu.Lock()
	slow.refuse = true
	slow.mu.Unlock()

	h.Broadcast(StatsUpdate(models.DashboardStats{TotalMachines: 1}, time.Now()))
	h.Broadcast(StatsUpdate(models.DashboardStats{TotalMachines: 2}, time.Now()))

	if n := len(fast.events(t)); n != 3 {
		t.Errorf("fast got %d messages, want 3", n)
	}
	if !slow.closed {
		t.Error("refusing conn was not closed")
	}
}

func TestHub_UnregisterIdempotent(t *testing.T) {
	h := NewHub(nil)
	c := newFakeConn("c1")
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)
	if h.Len() != 0 {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
	h.Broadcast(MachineUpdate("m1", "rpm", 1, time.Now()))
	if n := len(c.events(t)); n != 1 {
		t.Errorf("unregistered conn got %d messages, want only the greeting", n)
	}
}

func TestHub_UnregisterKeepsReplacement(t *testing.T) {
	h := NewHub(nil)
	old, replacement := newFakeConn("same"), newFakeConn("same")
	h.Register(old)
	h.Register(replacement)
	h.Unregister(old)
	if h.Len() != 1 {
		t.Fatalf("Len = %d, want replacement kept", h.Len())
	}
}

func TestHub_Close(t *testing.T) {
	h := NewHub(nil)
	c := newFakeConn("c1")
	h.Register(c)
	h.Close()

	if !c.closed {
		t.Error("Close did not close the connection")
	}
	if err := h.Register(newFakeConn("late")); err != ErrHubClosed {
		t.Errorf("Register after Close = %v, want ErrHubClosed", err)
	}
	h.Broadcast(MachineUpdate("m1", "rpm", 1, time.Now()))
}

func TestHub_RegisterRejected(t *testing.T) {
	h := NewHub(nil)
	c := newFakeConn("c1")
	c.refuse = true
	if err := h.Register(c); err != ErrRejected {
		t.Fatalf("Register = %v, want ErrRejected", err)
	}
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
}

func TestEvent_JSONShape(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := json.Marshal(MachineUpdate("machine-001", "vibration", 2.35, now))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"machine_update","data":{"machineId":"machine-001","vibration":2.35},"timestamp":"2026-01-02T03:04:05Z"}`
	if string(raw) != want {
		t.Errorf("json = %s\nwant   %s", raw, want)
	}

	snap := &models.FleetSnapshot{
		DashboardStats: models.DashboardStats{ActiveMachines: 3, TotalMachines: 5},
		Timestamp:      now,
	}
	raw, _ = json.Marshal(DashboardUpdate(snap))
	var decoded struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	json.Unmarshal(raw, &decoded)
	if decoded.Type != TypeDashboardUpdate || decoded.Data["activeMachines"] != float64(3) {
		t.Errorf("dashboard_update = %s", raw)
	}
}
