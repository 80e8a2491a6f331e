package ble

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager owns the single BLE radio and at most one peripheral connection.
// Construct one per process and share it by reference; all consumers observe
// the same connection state.
//
// Events are delivered through the handler passed to NewManager, on the
// goroutine the underlying radio stack delivers callbacks on. Handlers must
// not block.
type Manager struct {
	adapter Adapter
	ids     IdentifierStore
	handler func(Event)

	mu        sync.Mutex
	poweredOn bool
	conn      Connection
	device    Device
	writeChar Characteristic
	ackWrites bool
	lineBuf   []byte

	subs    map[int]chan string
	nextSub int

	scanCancel context.CancelFunc
}

// NewManager creates a transport manager. handler may be nil when the caller
// only uses request-scoped Listen subscriptions.
func NewManager(adapter Adapter, ids IdentifierStore, handler func(Event)) *Manager {
	if handler == nil {
		handler = func(Event) {}
	}
	return &Manager{
		adapter: adapter,
		ids:     ids,
		handler: handler,
		subs:    make(map[int]chan string),
	}
}

// PowerOn enables the radio. If a peripheral identifier was saved by a
// previous connect, a single reconnect attempt is made; its failure is
// logged, not returned, since the caller can still scan and connect manually.
func (m *Manager) PowerOn() error {
	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	m.mu.Lock()
	m.poweredOn = true
	m.mu.Unlock()
	m.handler(Event{Kind: EventStateChanged})

	if saved := m.ids.Load(); saved != "" {
		if err := m.Reconnect(context.Background(), saved); err != nil {
			slog.Warn("[BLE] auto-reconnect failed", "id", saved, "error", err)
		}
	}
	return nil
}

// PowerOff marks the radio off, forcing an implicit disconnect. The saved
// identifier is kept so the next power-on can reconnect.
func (m *Manager) PowerOff() {
	m.mu.Lock()
	conn := m.conn
	m.clearConnectionLocked()
	m.poweredOn = false
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Disconnect()
	}
	m.handler(Event{Kind: EventStateChanged})
}

// PoweredOn reports whether the radio is enabled.
func (m *Manager) PoweredOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poweredOn
}

// Ready reports whether commands can be transmitted: radio on, peripheral
// connected, and the write characteristic resolved.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poweredOn && m.conn != nil && m.writeChar != nil
}

// Scan begins active discovery for dispensers. A no-op when the radio is not
// powered on. Each distinct peripheral produces one EventDiscovered.
func (m *Manager) Scan() {
	m.mu.Lock()
	if !m.poweredOn || m.scanCancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.scanCancel = cancel
	m.mu.Unlock()

	go func() {
		var seenMu sync.Mutex
		seen := make(map[string]bool)

		err := m.adapter.Scan(ctx, ServiceUUID, func(dev Device) {
			seenMu.Lock()
			dup := seen[dev.ID]
			seen[dev.ID] = true
			seenMu.Unlock()
			if dup {
				return
			}
			m.handler(Event{Kind: EventDiscovered, Device: dev})
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("[BLE] scan failed", "error", err)
		}
	}()
}

// StopScan halts discovery. Idempotent.
func (m *Manager) StopScan() {
	m.mu.Lock()
	cancel := m.scanCancel
	m.scanCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = m.adapter.StopScan()
}

// Connect initiates a connection to a discovered peripheral. On success the
// peripheral identifier is persisted for auto-reconnect, the dispenser
// service is walked for its write/notify characteristic, and notifications
// are subscribed for inbound line framing.
func (m *Manager) Connect(ctx context.Context, dev Device) error {
	conn, err := m.adapter.Connect(ctx, dev.ID)
	if err != nil {
		m.handler(Event{Kind: EventFailedToConnect, Device: dev, Err: err})
		return fmt.Errorf("ble: connect to %s: %w", dev.ID, err)
	}

	char, err := conn.DiscoverCharacteristic(ServiceUUID, CharacteristicUUID)
	if err != nil {
		_ = conn.Disconnect()
		m.handler(Event{Kind: EventFailedToConnect, Device: dev, Err: err})
		return fmt.Errorf("ble: discover characteristic: %w", err)
	}

	if err := char.Subscribe(m.receiveChunk); err != nil {
		_ = conn.Disconnect()
		m.handler(Event{Kind: EventFailedToConnect, Device: dev, Err: err})
		return fmt.Errorf("ble: subscribe notifications: %w", err)
	}

	if err := m.ids.Save(dev.ID); err != nil {
		slog.Warn("[BLE] could not persist device identifier", "error", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.device = dev
	m.writeChar = char
	m.ackWrites = char.SupportsAcknowledgedWrite()
	m.lineBuf = m.lineBuf[:0]
	m.mu.Unlock()

	conn.OnDisconnect(func() {
		m.mu.Lock()
		m.clearConnectionLocked()
		m.mu.Unlock()
		m.handler(Event{Kind: EventDisconnected, Device: dev})
	})

	slog.Info("[BLE] connected", "id", dev.ID, "ack_writes", m.ackWrites)
	m.handler(Event{Kind: EventConnected, Device: dev})
	return nil
}

// Reconnect re-establishes a connection to a previously bonded peripheral
// using only its stored identifier, without a fresh scan.
func (m *Manager) Reconnect(ctx context.Context, savedID string) error {
	return m.Connect(ctx, Device{ID: savedID})
}

// Disconnect cancels the active connection and clears the persisted
// identifier, so the next power-on does not reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	dev := m.device
	m.clearConnectionLocked()
	m.mu.Unlock()

	if conn == nil {
		return
	}
	if err := m.ids.Clear(); err != nil {
		slog.Warn("[BLE] could not clear device identifier", "error", err)
	}
	_ = conn.Disconnect()
	m.handler(Event{Kind: EventDisconnected, Device: dev})
}

// Write appends the newline terminator and transmits the message, using the
// write mode the characteristic advertised at connect. The write is silently
// dropped when the transport is not ready; the device protocol is
// poll-driven, so a lost command surfaces as a poll timeout upstream.
func (m *Manager) Write(message string) {
	m.mu.Lock()
	char := m.writeChar
	ack := m.ackWrites
	ready := m.poweredOn && m.conn != nil && char != nil
	m.mu.Unlock()

	if !ready {
		slog.Debug("[BLE] dropping write, transport not ready", "message", message)
		return
	}

	data := append([]byte(message), '\n')
	var err error
	if ack {
		err = char.Write(data)
	} else {
		err = char.WriteWithoutResponse(data)
	}
	if err != nil {
		slog.Error("[BLE] write failed", "message", message, "error", err)
	}
}

// Listen returns a channel receiving each complete inbound line, and a
// cancel function that must be called to release the subscription. Lines
// are dropped for subscribers that fall behind.
func (m *Manager) Listen() (<-chan string, func()) {
	ch := make(chan string, 8)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
	return ch, cancel
}

// receiveChunk buffers raw notification payloads and emits one event per
// complete newline-terminated line. The transport delivers characteristic
// updates at arbitrary chunk granularity, so a single notification may hold
// a fragment, exactly one line, or several.
func (m *Manager) receiveChunk(data []byte) {
	var lines []string

	m.mu.Lock()
	m.lineBuf = append(m.lineBuf, data...)
	for {
		idx := bytes.IndexByte(m.lineBuf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(m.lineBuf[:idx]))
		m.lineBuf = m.lineBuf[idx+1:]
	}
	subs := make([]chan string, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, line := range lines {
		slog.Debug("[BLE] line received", "line", line)
		m.handler(Event{Kind: EventLineReceived, Line: line})
		for _, ch := range subs {
			select {
			case ch <- line:
			default:
			}
		}
	}
}

// clearConnectionLocked resets peripheral state. Caller holds mu.
func (m *Manager) clearConnectionLocked() {
	m.conn = nil
	m.device = Device{}
	m.writeChar = nil
	m.ackWrites = false
	m.lineBuf = nil
}
