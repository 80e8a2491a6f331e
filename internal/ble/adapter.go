// Package ble manages the Bluetooth Low Energy link to the QSpice automatic
// spice dispenser: radio lifecycle, peripheral discovery and connection,
// and reassembly of the device's newline-terminated text messages.
package ble

import "context"

// Dispenser GATT UUIDs. The device exposes a single serial-style service
// with one combined write/notify characteristic (HM-10 style module).
const (
	ServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data with an acknowledged write. Only valid when
	// SupportsAcknowledgedWrite reports true.
	Write(data []byte) error
	// WriteWithoutResponse sends data without waiting for an acknowledgment.
	WriteWithoutResponse(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// SupportsAcknowledgedWrite reports whether the characteristic advertises
	// the acknowledged write property. The manager selects the write call
	// accordingly.
	SupportsAcknowledgedWrite() bool
}

// Device represents a discovered BLE peripheral. ID is the platform's stable
// peripheral identifier (a MAC address on Linux, a CoreBluetooth UUID on
// macOS) and is the only datum needed to reconnect without a fresh scan.
type Device struct {
	Name string
	ID   string
	RSSI int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals advertising the given service UUID, invoking
	// found for each advertisement until ctx is cancelled. Duplicate
	// advertisements are the caller's concern.
	Scan(ctx context.Context, serviceUUID string, found func(Device)) error
	// StopScan halts an in-progress scan. Idempotent.
	StopScan() error
	// Connect establishes a connection to the peripheral with the given ID.
	Connect(ctx context.Context, id string) (Connection, error)
}

// IdentifierStore persists the connected peripheral's identifier across
// launches so the manager can reconnect without scanning.
type IdentifierStore interface {
	// Load returns the saved identifier, or "" when none is saved.
	Load() string
	// Save durably records the identifier.
	Save(id string) error
	// Clear removes the saved identifier.
	Clear() error
}

// EventKind discriminates transport events.
type EventKind int

const (
	// EventStateChanged fires when the radio powers on or off.
	EventStateChanged EventKind = iota
	// EventDiscovered fires once per distinct peripheral found while scanning.
	EventDiscovered
	// EventConnected fires after a peripheral connects and its write
	// characteristic has been resolved.
	EventConnected
	// EventDisconnected fires when the active connection drops.
	EventDisconnected
	// EventFailedToConnect fires when a connection attempt fails.
	EventFailedToConnect
	// EventLineReceived fires once per complete inbound text line.
	EventLineReceived
)

// Event is the single notification type delivered by the Manager. Which
// fields are set depends on Kind: Device for discovery/connection events,
// Line for EventLineReceived, Err for EventFailedToConnect.
type Event struct {
	Kind   EventKind
	Device Device
	Line   string
	Err    error
}
