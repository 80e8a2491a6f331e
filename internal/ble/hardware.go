package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// HardwareAdapter wraps tinygo-org/bluetooth around the host radio. The
// peripheral identifier is whatever the platform's address string is: a MAC
// address on Linux/Windows, a CoreBluetooth UUID on macOS.
type HardwareAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*hardwareConnection // keyed by peripheral identifier
}

// NewHardwareAdapter creates a BLE adapter backed by the default host radio.
func NewHardwareAdapter() *HardwareAdapter {
	return &HardwareAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*hardwareConnection),
	}
}

func (a *HardwareAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The stack fires this callback (connected=false) when a peripheral
	// drops, so route it to the matching connection's OnDisconnect.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		a.mu.Unlock()
		if ok {
			conn.notifyDisconnect()
		}
	})

	return nil
}

func (a *HardwareAdapter) Scan(ctx context.Context, serviceUUID string, found func(Device)) error {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		found(Device{
			Name: result.LocalName(),
			ID:   result.Address.String(),
			RSSI: int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *HardwareAdapter) StopScan() error {
	return a.adapter.StopScan()
}

func (a *HardwareAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(id)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// Wrap it so we also respect ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect will eventually time out or succeed;
		// it cannot be cancelled from here.
		return nil, fmt.Errorf("ble: connect to %s: %w", id, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", id, result.err)
		}
		conn := &hardwareConnection{device: &result.device}

		a.mu.Lock()
		a.connections[id] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that HardwareAdapter implements Adapter.
var _ Adapter = (*HardwareAdapter)(nil)

type hardwareConnection struct {
	device *bluetooth.Device

	// mu guards disconnectCb: OnDisconnect runs on the caller's goroutine,
	// notifyDisconnect on the BLE stack's.
	mu           sync.Mutex
	disconnectCb func()
}

func (c *hardwareConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &hardwareCharacteristic{char: &chars[0]}, nil
}

func (c *hardwareConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *hardwareConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	c.mu.Unlock()
}

func (c *hardwareConnection) notifyDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type hardwareCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

// Write is the acknowledged path. tinygo.org/x/bluetooth's client API only
// offers unacknowledged writes, and SupportsAcknowledgedWrite reports false,
// so the manager never selects this; it degrades to the same transfer.
func (c *hardwareCharacteristic) Write(data []byte) error {
	return c.WriteWithoutResponse(data)
}

func (c *hardwareCharacteristic) WriteWithoutResponse(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *hardwareCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}

func (c *hardwareCharacteristic) SupportsAcknowledgedWrite() bool {
	// tinygo.org/x/bluetooth does not surface characteristic property bits,
	// and HM-10 style serial modules take unacknowledged writes anyway.
	return false
}
