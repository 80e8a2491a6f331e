// Package order assembles dispense orders from active containers or recipes,
// validates them against the device's physical limits, and sequences the
// poll/confirm/dispense exchange with the dispenser.
package order

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/qspice/dispenser/internal/ble/protocol"
	"github.com/qspice/dispenser/internal/models"
)

// Repository is the persistence surface the order layer consumes.
type Repository interface {
	ActiveContainers() ([]models.Container, error)
	CreateListOrder(items []models.Ingredient, repeat int) (*models.Order, error)
	CreateRecipeOrder(recipe *models.Recipe, repeat int) (*models.Order, error)
}

// Transport is the slice of the BLE manager the order layer uses.
type Transport interface {
	Ready() bool
	Write(message string)
	Listen() (<-chan string, func())
}

// DispenseDelay is how long after persisting an order the DATA command is
// transmitted, giving the device time to finish the preceding poll exchange.
const DispenseDelay = time.Second

// Detail is the order being assembled. Recipe and Items are mutually
// exclusive at submission: when a recipe is selected its ingredient set is
// dispensed, otherwise the ad-hoc item list is.
type Detail struct {
	Recipe   *models.Recipe
	Items    []models.Ingredient
	Quantity int // repeat count, >= 1
}

// Controller builds and validates an in-progress order. It is not safe for
// concurrent use; the UI drives it from a single flow at a time.
type Controller struct {
	repo      Repository
	transport Transport

	active []models.Container
	detail Detail

	dispenseDelay time.Duration
	dispenseDone  chan struct{}
}

// NewController creates an order controller and resets it to an empty order
// sourced from the currently active containers.
func NewController(repo Repository, transport Transport) *Controller {
	c := &Controller{
		repo:          repo,
		transport:     transport,
		dispenseDelay: DispenseDelay,
	}
	if err := c.ClearOrder(); err != nil {
		slog.Warn("[order] could not load active containers", "error", err)
	}
	return c
}

// ClearOrder discards the in-progress order and rebuilds it: one
// zero-quantity teaspoon item per active container, no recipe, repeat 1.
// Called each time an order screen is entered.
func (c *Controller) ClearOrder() error {
	active, err := c.repo.ActiveContainers()
	if err != nil {
		return fmt.Errorf("order: fetch active containers: %w", err)
	}
	c.active = active
	c.detail = Detail{Quantity: 1}
	for _, container := range active {
		c.detail.Items = append(c.detail.Items, models.Ingredient{
			ContainerID: container.ID,
			Container:   container,
			Quantity:    0,
			Metric:      models.Teaspoon,
		})
	}
	return nil
}

// ActiveContainers returns the containers the current order was built from.
func (c *Controller) ActiveContainers() []models.Container {
	return c.active
}

// Detail returns the in-progress order.
func (c *Controller) Detail() Detail {
	return c.detail
}

// SelectRecipe toggles recipe selection: selecting the already-selected
// recipe deselects it, selecting a different one replaces it.
func (c *Controller) SelectRecipe(recipe *models.Recipe) {
	if c.detail.Recipe != nil && recipe != nil && c.detail.Recipe.UUID == recipe.UUID {
		c.detail.Recipe = nil
		return
	}
	c.detail.Recipe = recipe
}

// UpdateQuantity sets the quarter-unit quantity of one item. Validation is
// deferred to submission.
func (c *Controller) UpdateQuantity(index, quantity int) {
	if index < 0 || index >= len(c.detail.Items) {
		return
	}
	c.detail.Items[index].Quantity = quantity
}

// UpdateMetric sets the unit metric of one item.
func (c *Controller) UpdateMetric(index int, metric models.Metric) {
	if index < 0 || index >= len(c.detail.Items) {
		return
	}
	c.detail.Items[index].Metric = metric
}

// AdjustQuantity changes the repeat count by delta, floor-clamped to 1, and
// returns the new count.
func (c *Controller) AdjustQuantity(delta int) int {
	c.detail.Quantity = max(c.detail.Quantity+delta, 1)
	return c.detail.Quantity
}

// IsValidListOrder reports whether at least one item has a positive quantity.
func (c *Controller) IsValidListOrder() bool {
	for _, item := range c.detail.Items {
		if item.Quantity > 0 {
			return true
		}
	}
	return false
}

// CreateListOrder validates the ad-hoc order against the given polled stock
// levels and, on success, persists it and schedules the dispense command.
// Passing an empty levels slice bypasses the stock check ("continue anyway").
func (c *Controller) CreateListOrder(levels []int) error {
	if !c.transport.Ready() {
		return models.ErrNotConnected
	}
	if err := c.validate(c.detail.Items, levels); err != nil {
		return err
	}

	order, err := c.repo.CreateListOrder(c.detail.Items, c.detail.Quantity)
	if err != nil {
		return fmt.Errorf("order: persist list order: %w", err)
	}

	c.scheduleDispense(c.detail.Items, c.detail.Quantity)
	slog.Info("[order] list order placed", "order", order.ID, "repeat", c.detail.Quantity)
	return nil
}

// CreateRecipeOrder validates the selected recipe's order. Recipe membership
// checks run before the capacity and stock checks: the recipe must contain
// at least one ingredient, and every ingredient's container must currently
// be active.
func (c *Controller) CreateRecipeOrder(levels []int) error {
	if !c.transport.Ready() {
		return models.ErrNotConnected
	}
	recipe := c.detail.Recipe
	if recipe == nil || len(recipe.Ingredients) == 0 {
		return models.ErrNoSpices
	}

	activeByID := make(map[uint]models.Container, len(c.active))
	for _, container := range c.active {
		activeByID[container.ID] = container
	}

	// Re-home each ingredient on the live container row so slot numbers and
	// weights reflect the current assignment, not the one at recipe save.
	items := make([]models.Ingredient, len(recipe.Ingredients))
	for i, ing := range recipe.Ingredients {
		container, ok := activeByID[ing.ContainerID]
		if !ok {
			return models.ErrMissingSpices
		}
		ing.Container = container
		items[i] = ing
	}

	if err := c.validate(items, levels); err != nil {
		return err
	}

	order, err := c.repo.CreateRecipeOrder(recipe, c.detail.Quantity)
	if err != nil {
		return fmt.Errorf("order: persist recipe order: %w", err)
	}

	c.scheduleDispense(items, c.detail.Quantity)
	slog.Info("[order] recipe order placed", "order", order.ID, "recipe", recipe.Name)
	return nil
}

// validate runs the capacity and stock-level checks, in that order.
func (c *Controller) validate(items []models.Ingredient, levels []int) error {
	total := 0.0
	for _, item := range items {
		total += item.Volume()
	}
	if total*float64(c.detail.Quantity) > models.MaxBowlCapacity {
		return models.ErrExceededAmount
	}

	if low := lowLevels(items, levels); len(low) > 0 {
		return &models.LowLevelError{Slots: low}
	}
	return nil
}

// lowLevels collects (slot, name) pairs for items whose polled stock level
// is at or below the threshold, in ascending slot order. Levels are
// positional: index 0 is slot 1. An empty levels slice checks nothing.
func lowLevels(items []models.Ingredient, levels []int) []models.SlotLevel {
	var low []models.SlotLevel
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		slot := item.Container.Slot
		if slot < 1 || slot > len(levels) {
			continue
		}
		if levels[slot-1] <= models.LowLevelThreshold {
			low = append(low, models.SlotLevel{Slot: slot, Name: item.Container.Name})
		}
	}
	// Recipe ingredients arrive in stored order, not slot order.
	sort.Slice(low, func(i, j int) bool { return low[i].Slot < low[j].Slot })
	return low
}

// DispenseSent returns a channel closed once the most recently scheduled
// dispense command has been transmitted. Short-lived callers must wait on it
// before exiting, or the deferred transmit is lost. Immediately closed when
// nothing is pending.
func (c *Controller) DispenseSent() <-chan struct{} {
	if c.dispenseDone == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.dispenseDone
}

// scheduleDispense encodes the DATA command and transmits it after the
// dispense delay via a deferred timer, not a blocking sleep. The returned
// completion signal is observable through DispenseSent.
func (c *Controller) scheduleDispense(items []models.Ingredient, repeat int) {
	message := encodeDispense(items, repeat)
	done := make(chan struct{})
	c.dispenseDone = done
	time.AfterFunc(c.dispenseDelay, func() {
		c.transport.Write(message)
		close(done)
	})
}

// encodeDispense converts order items into the wire command. Amounts from
// items sharing a slot are summed.
func encodeDispense(items []models.Ingredient, repeat int) string {
	grams := make(map[int]float64)
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		grams[item.Container.Slot] += item.Grams(repeat)
	}

	dispense := make([]protocol.DispenseItem, 0, len(grams))
	for slot, g := range grams {
		dispense = append(dispense, protocol.DispenseItem{Slot: slot, Grams: g})
	}
	return protocol.EncodeDispense(dispense)
}
