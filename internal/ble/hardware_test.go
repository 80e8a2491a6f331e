package ble

import (
	"sync"
	"testing"
)

// The stack delivers disconnect callbacks on its own goroutine, so
// registering the handler must be safe against a concurrent drop.
func TestHardwareConnectionCallbackRegistrationIsSafe(t *testing.T) {
	conn := &hardwareConnection{}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			conn.notifyDisconnect()
		}
	}()

	fired := make(chan struct{}, 1)
	conn.OnDisconnect(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	wg.Wait()

	conn.notifyDisconnect()
	select {
	case <-fired:
	default:
		t.Error("registered callback never fired")
	}
}
