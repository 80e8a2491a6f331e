package order

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/qspice/dispenser/internal/ble/protocol"
	"github.com/qspice/dispenser/internal/models"
)

// Default exchange timeouts.
const (
	PollTimeout   = 10 * time.Second
	CancelTimeout = 5 * time.Second
)

// State is the orchestrator's position in the request/response cycle,
// exposed for observability.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateAwaitingDecision
	StateSubmitting
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateAwaitingDecision:
		return "awaiting-decision"
	case StateSubmitting:
		return "submitting"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Orchestrator sequences one order submission at a time against the device:
// poll, interpret the response, validate, then hand off to the controller
// for persistence and the dispense command. A second submission while one is
// outstanding is rejected with models.ErrOrderInFlight rather than queued;
// queuing would silently reorder user-confirmed dispenses.
type Orchestrator struct {
	transport Transport
	ctrl      *Controller

	pollTimeout   time.Duration
	cancelTimeout time.Duration

	inFlight atomic.Bool
	state    atomic.Int32
}

// NewOrchestrator creates an orchestrator with the default timeouts.
func NewOrchestrator(transport Transport, ctrl *Controller) *Orchestrator {
	return &Orchestrator{
		transport:     transport,
		ctrl:          ctrl,
		pollTimeout:   PollTimeout,
		cancelTimeout: CancelTimeout,
	}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// PlaceListOrder runs the full exchange for the ad-hoc list order.
//
// Recoverable failures: a *models.LowLevelError may be bypassed with
// ContinueListOrder; models.ErrOrderInProgress may be overridden by calling
// PlaceListOrder again after user confirmation; models.ErrDeviceBusy may be
// resolved with CancelActiveDispense.
func (o *Orchestrator) PlaceListOrder(ctx context.Context) error {
	return o.place(ctx, o.ctrl.CreateListOrder)
}

// PlaceRecipeOrder runs the full exchange for the selected recipe's order.
func (o *Orchestrator) PlaceRecipeOrder(ctx context.Context) error {
	return o.place(ctx, o.ctrl.CreateRecipeOrder)
}

// ContinueListOrder re-submits the list order bypassing the stock-level
// check, after the user chose to continue despite low levels.
func (o *Orchestrator) ContinueListOrder() error {
	return o.submitDirect(o.ctrl.CreateListOrder)
}

// ContinueRecipeOrder re-submits the recipe order bypassing the stock-level
// check.
func (o *Orchestrator) ContinueRecipeOrder() error {
	return o.submitDirect(o.ctrl.CreateRecipeOrder)
}

func (o *Orchestrator) submitDirect(submit func(levels []int) error) error {
	if !o.inFlight.CompareAndSwap(false, true) {
		return models.ErrOrderInFlight
	}
	defer o.inFlight.Store(false)

	o.state.Store(int32(StateSubmitting))
	err := submit(nil)
	o.finish(err)
	return err
}

// finish records the cycle's terminal state. A low-stock outcome returns to
// StateIdle: the order itself is sound and the caller may continue without
// correcting it. Everything else that fails rests in StateFailed until the
// next submission transitions out of it.
func (o *Orchestrator) finish(err error) {
	var low *models.LowLevelError
	if err == nil || errors.As(err, &low) {
		o.state.Store(int32(StateIdle))
		return
	}
	o.state.Store(int32(StateFailed))
}

// place drives poll → decide → submit. The poll timer is realized as a
// select arm, so a late response cannot fire it after a real line already
// won the race.
func (o *Orchestrator) place(ctx context.Context, submit func(levels []int) error) (err error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return models.ErrOrderInFlight
	}
	defer o.inFlight.Store(false)
	defer func() { o.finish(err) }()

	// Connectivity gate runs before anything touches the wire.
	if !o.transport.Ready() {
		return models.ErrNotConnected
	}

	lines, cancel := o.transport.Listen()
	defer cancel()

	o.state.Store(int32(StatePolling))
	o.transport.Write(protocol.CmdPoll)

	timer := time.NewTimer(o.pollTimeout)
	defer timer.Stop()

	for {
		select {
		case line := <-lines:
			switch protocol.ParseStatus(line) {
			case protocol.StatusOK:
				o.state.Store(int32(StateAwaitingDecision))
				levels := protocol.ParseLevels(line)
				o.state.Store(int32(StateSubmitting))
				return submit(levels)
			case protocol.StatusInProgress:
				return models.ErrOrderInProgress
			case protocol.StatusBusy:
				return models.ErrDeviceBusy
			default:
				// Not a recognized status; keep waiting for one.
				slog.Debug("[order] ignoring unrecognized line", "line", line)
			}
		case <-timer.C:
			return models.ErrDeviceUnresponsive
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CancelActiveDispense asks the device to abort its current dispense and
// waits for the acknowledgment. Used after PlaceListOrder or
// PlaceRecipeOrder returned models.ErrDeviceBusy and the user confirmed
// cancellation.
func (o *Orchestrator) CancelActiveDispense(ctx context.Context) error {
	if !o.transport.Ready() {
		return models.ErrNotConnected
	}

	lines, cancel := o.transport.Listen()
	defer cancel()

	o.transport.Write(protocol.CmdQuit)

	timer := time.NewTimer(o.cancelTimeout)
	defer timer.Stop()

	for {
		select {
		case line := <-lines:
			if protocol.ParseStatus(line) == protocol.StatusOK {
				slog.Info("[order] active dispense cancelled")
				o.state.Store(int32(StateCancelled))
				return nil
			}
		case <-timer.C:
			return models.ErrCancelFailed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
