package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(adapter *mockAdapter) (*Manager, *memoryIDStore, chan Event) {
	ids := &memoryIDStore{}
	events := make(chan Event, 64)
	m := NewManager(adapter, ids, func(ev Event) { events <- ev })
	return m, ids, events
}

func waitEvent(t *testing.T, events chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func mustConnect(t *testing.T, m *Manager, adapter *mockAdapter, id string) {
	t.Helper()
	if err := m.PowerOn(); err != nil {
		t.Fatalf("PowerOn() error = %v", err)
	}
	if err := m.Connect(context.Background(), Device{ID: id}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

func TestConnectPersistsIdentifierAndBecomesReady(t *testing.T) {
	adapter := newMockAdapter(nil)
	m, ids, events := newTestManager(adapter)

	mustConnect(t, m, adapter, "AA:BB:CC:DD:EE:FF")

	if !m.Ready() {
		t.Error("manager should be ready after connect")
	}
	if got := ids.Load(); got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("persisted identifier = %q, want %q", got, "AA:BB:CC:DD:EE:FF")
	}
	waitEvent(t, events, EventConnected)
}

func TestConnectFailureResetsPeripheral(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.connectErr = errors.New("peripheral unreachable")
	m, ids, events := newTestManager(adapter)

	if err := m.PowerOn(); err != nil {
		t.Fatalf("PowerOn() error = %v", err)
	}
	err := m.Connect(context.Background(), Device{ID: "AA:BB:CC:DD:EE:FF"})
	if err == nil {
		t.Fatal("Connect() should fail when the adapter errors")
	}

	ev := waitEvent(t, events, EventFailedToConnect)
	if ev.Err == nil {
		t.Error("failed-to-connect event should carry the error")
	}
	if m.Ready() {
		t.Error("manager must not be ready after a failed connect")
	}
	if ids.Load() != "" {
		t.Error("identifier must not be persisted on a failed connect")
	}
}

func TestWriteAppendsNewline(t *testing.T) {
	adapter := newMockAdapter(nil)
	m, _, _ := newTestManager(adapter)
	mustConnect(t, m, adapter, "AA:BB:CC:DD:EE:FF")

	m.Write("POLL")

	lines := adapter.latestConnection().char.writtenLines(t)
	if len(lines) != 1 || lines[0] != "POLL\n" {
		t.Errorf("written = %q, want [\"POLL\\n\"]", lines)
	}
}

func TestWriteModeFollowsCharacteristicProperties(t *testing.T) {
	// Acknowledged when the characteristic advertises the write property.
	adapter := newMockAdapter(nil)
	adapter.ackChar = true
	m, _, _ := newTestManager(adapter)
	mustConnect(t, m, adapter, "AA:BB:CC:DD:EE:FF")

	m.Write("POLL")
	acked, unackd := adapter.latestConnection().char.writeCounts()
	if acked != 1 || unackd != 0 {
		t.Errorf("ack characteristic: acked=%d unackd=%d, want 1/0", acked, unackd)
	}

	// Without-response otherwise.
	adapter = newMockAdapter(nil)
	m, _, _ = newTestManager(adapter)
	mustConnect(t, m, adapter, "AA:BB:CC:DD:EE:FF")

	m.Write("POLL")
	acked, unackd = adapter.latestConnection().char.writeCounts()
	if acked != 0 || unackd != 1 {
		t.Errorf("plain characteristic: acked=%d unackd=%d, want 0/1", acked, unackd)
	}
}

func TestWriteDroppedWhenNotReady(t *testing.T) {
	adapter := newMockAdapter(nil)
	m, _, _ := newTestManager(adapter)

	// Radio never powered on: the write must be silently dropped.
	m.Write("POLL")

	if n := len(adapter.latestConnection().char.writtenLines(t)); n != 0 {
		t.Errorf("wrote %d messages while not ready, want 0", n)
	}
}

func TestDisconnectClearsIdentifier(t *testing.T) {
	adapter := newMockAdapter(nil)
	m, ids, events := newTestManager(adapter)
	mustConnect(t, m, adapter, "AA:BB:CC:DD:EE:FF")

	m.Disconnect()

	if ids.Load() != "" {
		t.Error("identifier should be cleared on disconnect")
	}
	if m.Ready() {
		t.Error("manager must not be ready after disconnect")
	}
	waitEvent(t, events, EventDisconnected)
}

func TestPowerOnReconnectsSavedIdentifier(t *testing.T) {
	adapter := newMockAdapter(nil)
	ids := &memoryIDStore{id: "AA:BB:CC:DD:EE:FF"}
	events := make(chan Event, 64)
	m := NewManager(adapter, ids, func(ev Event) { events <- ev })

	if err := m.PowerOn(); err != nil {
		t.Fatalf("PowerOn() error = %v", err)
	}

	waitEvent(t, events, EventConnected)
	if !m.Ready() {
		t.Error("manager should reconnect to the saved peripheral on power-on")
	}
	if adapter.connectedID != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("reconnected to %q, want saved identifier", adapter.connectedID)
	}
}

func TestPowerOffForcesDisconnectButKeepsIdentifier(t *testing.T) {
	adapter := newMockAdapter(nil)
	m, ids, _ := newTestManager(adapter)
	mustConnect(t, m, adapter, "AA:BB:CC:DD:EE:FF")

	m.PowerOff()

	if m.Ready() {
		t.Error("manager must not be ready after power-off")
	}
	if ids.Load() != "AA:BB:CC:DD:EE:FF" {
		t.Error("power-off must keep the saved identifier for the next power-on")
	}
}

func TestRemoteDisconnectResetsState(t *testing.T) {
	adapter := newMockAdapter(nil)
	m, _, events := newTestManager(adapter)
	mustConnect(t, m, adapter, "AA:BB:CC:DD:EE:FF")

	adapter.latestConnection().SimulateDisconnect()

	waitEvent(t, events, EventDisconnected)
	if m.Ready() {
		t.Error("manager must not be ready after the peripheral drops")
	}
}

func TestScanDeduplicatesDiscoveries(t *testing.T) {
	dev := Device{Name: "QSpice", ID: "AA:BB:CC:DD:EE:FF", RSSI: -50}
	adapter := newMockAdapter([]Device{dev, dev, dev, {Name: "QSpice 2", ID: "11:22:33:44:55:66"}})
	m, _, events := newTestManager(adapter)

	if err := m.PowerOn(); err != nil {
		t.Fatalf("PowerOn() error = %v", err)
	}
	m.Scan()
	defer m.StopScan()

	seen := make(map[string]int)
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-events:
			if ev.Kind == EventDiscovered {
				seen[ev.Device.ID]++
			}
		case <-deadline:
			t.Fatalf("timed out, discovered %v", seen)
		}
	}
	if seen["AA:BB:CC:DD:EE:FF"] != 1 {
		t.Errorf("device discovered %d times, want 1", seen["AA:BB:CC:DD:EE:FF"])
	}
}

func TestScanIsNoOpWhenPoweredOff(t *testing.T) {
	adapter := newMockAdapter([]Device{{ID: "AA:BB:CC:DD:EE:FF"}})
	m, _, events := newTestManager(adapter)

	m.Scan()

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v while powered off", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

// collectLines reads lines from a Listen subscription until count are
// received or the deadline passes.
func collectLines(t *testing.T, ch <-chan string, count int) []string {
	t.Helper()
	var lines []string
	deadline := time.After(2 * time.Second)
	for len(lines) < count {
		select {
		case line := <-ch:
			lines = append(lines, line)
		case <-deadline:
			t.Fatalf("timed out after %d lines: %v", len(lines), lines)
		}
	}
	return lines
}

func TestLineFramingReassemblesChunks(t *testing.T) {
	payload := "OK 80,65,12\nINPR\nBUSY\n"
	chunkings := [][]string{
		{payload},
		{"OK 80,65,12\n", "INPR\n", "BUSY\n"},
		{"OK 80", ",65,12", "\nINPR", "\nBU", "SY\n"},
		{"O", "K", " ", "8", "0", ",", "6", "5", ",", "1", "2", "\n", "INPR\nBUSY\n"},
	}
	want := []string{"OK 80,65,12", "INPR", "BUSY"}

	for _, chunks := range chunkings {
		adapter := newMockAdapter(nil)
		m, _, _ := newTestManager(adapter)
		mustConnect(t, m, adapter, "AA:BB:CC:DD:EE:FF")

		ch, cancel := m.Listen()

		for _, chunk := range chunks {
			adapter.latestConnection().char.SimulateNotification([]byte(chunk))
		}

		got := collectLines(t, ch, len(want))
		cancel()

		for i := range want {
			if got[i] != want[i] {
				t.Errorf("chunking %q: line %d = %q, want %q", chunks, i, got[i], want[i])
			}
		}
	}
}

func TestListenCancelStopsDelivery(t *testing.T) {
	adapter := newMockAdapter(nil)
	m, _, _ := newTestManager(adapter)
	mustConnect(t, m, adapter, "AA:BB:CC:DD:EE:FF")

	ch, cancel := m.Listen()
	cancel()

	adapter.latestConnection().char.SimulateNotification([]byte("OK\n"))

	select {
	case line := <-ch:
		t.Errorf("received %q after cancel", line)
	case <-time.After(100 * time.Millisecond):
	}
}
