// Command qspice is the operator CLI for the QSpice automatic spice
// dispenser: discover and bond the device, manage container slots, and place
// dispense orders.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qspice/dispenser/internal/ble"
	"github.com/qspice/dispenser/internal/config"
	"github.com/qspice/dispenser/internal/models"
	"github.com/qspice/dispenser/internal/order"
	"github.com/qspice/dispenser/internal/store"
)

const usage = `usage: qspice [-config path] <command> [args]

commands:
  scan                     discover dispensers (10s)
  connect <id>             connect and bond to a dispenser
  disconnect               disconnect and forget the bonded dispenser
  status                   show radio and bonded-device state
  containers               list all containers
  assign <container> <slot>  assign a container to a slot (slot 0 clears)
  recipes                  list recipes
  history                  list order history
  order <slot>=<amt>[tbsp] ...  place a list order (-repeat N)
  recipe-order <name>      place an order from a recipe (-repeat N)
  cancel                   cancel the device's active dispense
`

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/qspice/config.yaml)")
	repeat := flag.Int("repeat", 1, "order repeat count")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	setupLogging(cfg.LogLevel)

	app, err := newApp(cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	if err := app.run(flag.Arg(0), flag.Args()[1:], *repeat); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

// loadConfig loads the config from the specified path, or falls back to the
// default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

type app struct {
	repo         *store.Repository
	ids          *config.StateStore
	manager      *ble.Manager
	controller   *order.Controller
	orchestrator *order.Orchestrator
}

func newApp(cfg *config.Config) (*app, error) {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	repo := store.New(db)

	if _, err := os.Stat(cfg.SpiceFile); err == nil {
		if err := repo.Seed(cfg.SpiceFile); err != nil {
			return nil, err
		}
	}

	ids := config.NewStateStore(cfg.StatePath)
	manager := ble.NewManager(ble.NewHardwareAdapter(), ids, func(ev ble.Event) {
		switch ev.Kind {
		case ble.EventDiscovered:
			fmt.Printf("found %s  %s  rssi=%d\n", ev.Device.ID, ev.Device.Name, ev.Device.RSSI)
		case ble.EventConnected:
			fmt.Printf("connected to %s\n", ev.Device.ID)
		case ble.EventDisconnected:
			fmt.Println("disconnected")
		case ble.EventFailedToConnect:
			fmt.Printf("connection to %s failed: %v\n", ev.Device.ID, ev.Err)
		}
	})

	controller := order.NewController(repo, manager)
	return &app{
		repo:         repo,
		ids:          ids,
		manager:      manager,
		controller:   controller,
		orchestrator: order.NewOrchestrator(manager, controller),
	}, nil
}

func (a *app) run(cmd string, args []string, repeat int) error {
	switch cmd {
	case "scan":
		return a.scan()
	case "connect":
		if len(args) != 1 {
			return fmt.Errorf("usage: connect <id>")
		}
		return a.connect(args[0])
	case "disconnect":
		if err := a.manager.PowerOn(); err != nil {
			return err
		}
		a.manager.Disconnect()
		return nil
	case "status":
		return a.status()
	case "containers":
		return a.listContainers()
	case "assign":
		if len(args) != 2 {
			return fmt.Errorf("usage: assign <container-id> <slot>")
		}
		return a.assign(args[0], args[1])
	case "recipes":
		return a.listRecipes()
	case "history":
		return a.history()
	case "order":
		if len(args) == 0 {
			return fmt.Errorf("usage: order <slot>=<amount>[tbsp] ...")
		}
		return a.placeListOrder(args, repeat)
	case "recipe-order":
		if len(args) != 1 {
			return fmt.Errorf("usage: recipe-order <name>")
		}
		return a.placeRecipeOrder(args[0], repeat)
	case "cancel":
		if err := a.manager.PowerOn(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), order.CancelTimeout+time.Second)
		defer cancel()
		return a.orchestrator.CancelActiveDispense(ctx)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) scan() error {
	if err := a.manager.PowerOn(); err != nil {
		return err
	}
	fmt.Println("scanning for dispensers...")
	a.manager.Scan()
	time.Sleep(10 * time.Second)
	a.manager.StopScan()
	return nil
}

func (a *app) connect(id string) error {
	if err := a.manager.PowerOn(); err != nil {
		return err
	}
	if a.manager.Ready() {
		// Auto-reconnect already bonded this peripheral.
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.manager.Connect(ctx, ble.Device{ID: id})
}

func (a *app) status() error {
	saved := a.ids.Load()
	if saved == "" {
		saved = "(none)"
	}
	fmt.Printf("bonded device: %s\n", saved)

	if err := a.manager.PowerOn(); err != nil {
		fmt.Printf("radio: unavailable (%v)\n", err)
		return nil
	}
	fmt.Println("radio: on")
	if a.manager.Ready() {
		fmt.Println("transport: ready")
	} else {
		fmt.Println("transport: not connected")
	}
	return nil
}

func (a *app) listContainers() error {
	containers, err := a.repo.AllContainers()
	if err != nil {
		return err
	}
	for _, c := range containers {
		slot := "-"
		if c.Active {
			slot = strconv.Itoa(c.Slot)
		}
		fmt.Printf("%4d  slot=%-2s  %6.1fg/tsp  %s\n", c.ID, slot, c.Weight, c.Name)
	}
	return nil
}

func (a *app) assign(containerArg, slotArg string) error {
	containerID, err := strconv.Atoi(containerArg)
	if err != nil {
		return fmt.Errorf("invalid container id %q", containerArg)
	}
	slot, err := strconv.Atoi(slotArg)
	if err != nil {
		return fmt.Errorf("invalid slot %q", slotArg)
	}
	if slot == 0 {
		slot = models.UnassignedSlot
	}
	return a.repo.SetContainerActive(uint(containerID), slot)
}

func (a *app) listRecipes() error {
	recipes, err := a.repo.Recipes()
	if err != nil {
		return err
	}
	for _, r := range recipes {
		fmt.Printf("%s  (%d spices)\n", r.Name, len(r.Ingredients))
	}
	return nil
}

func (a *app) history() error {
	orders, err := a.repo.Orders()
	if err != nil {
		return err
	}
	for _, o := range orders {
		name := "list order"
		if o.Recipe != nil {
			name = o.Recipe.Name
		}
		fmt.Printf("%s  %s  x%d  (%d items)\n", o.Date.Format(time.RFC3339), name, o.Quantity, len(o.Items))
	}
	return nil
}

// placeListOrder parses slot=amount[tbsp] arguments against the active
// containers, then runs the submission flow with interactive recovery.
func (a *app) placeListOrder(args []string, repeat int) error {
	if err := a.manager.PowerOn(); err != nil {
		return err
	}
	if err := a.controller.ClearOrder(); err != nil {
		return err
	}

	indexBySlot := make(map[int]int)
	for i, c := range a.controller.ActiveContainers() {
		indexBySlot[c.Slot] = i
	}

	for _, arg := range args {
		slot, quantity, metric, err := parseOrderArg(arg)
		if err != nil {
			return err
		}
		index, ok := indexBySlot[slot]
		if !ok {
			return fmt.Errorf("no active container in slot %d", slot)
		}
		a.controller.UpdateQuantity(index, quantity)
		a.controller.UpdateMetric(index, metric)
	}
	a.controller.AdjustQuantity(repeat - 1)

	if !a.controller.IsValidListOrder() {
		return fmt.Errorf("order has no spices")
	}

	return a.submit(a.orchestrator.PlaceListOrder, a.orchestrator.ContinueListOrder)
}

func (a *app) placeRecipeOrder(name string, repeat int) error {
	if err := a.manager.PowerOn(); err != nil {
		return err
	}
	recipe, err := a.repo.FindRecipeByName(name)
	if err != nil {
		return err
	}
	if err := a.controller.ClearOrder(); err != nil {
		return err
	}
	a.controller.SelectRecipe(recipe)
	a.controller.AdjustQuantity(repeat - 1)

	return a.submit(a.orchestrator.PlaceRecipeOrder, a.orchestrator.ContinueRecipeOrder)
}

// submit runs one submission and walks the user through the recoverable
// failures: low stock, queued order, busy device.
func (a *app) submit(place func(context.Context) error, bypass func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), order.PollTimeout+time.Second)
	defer cancel()

	err := place(ctx)
	switch {
	case err == nil:
		return a.awaitDispense()
	case isLowLevel(err):
		fmt.Printf("%v\n", err)
		if confirm("continue anyway?") {
			if err := bypass(); err != nil {
				return err
			}
			return a.awaitDispense()
		}
		return fmt.Errorf("order cancelled")
	case err == models.ErrOrderInProgress:
		if confirm("an order is already queued on the device; place anyway?") {
			return a.submit(place, bypass)
		}
		return err
	case err == models.ErrDeviceBusy:
		if confirm("the device is dispensing; cancel the active order?") {
			cancelCtx, cancelFn := context.WithTimeout(context.Background(), order.CancelTimeout+time.Second)
			defer cancelFn()
			return a.orchestrator.CancelActiveDispense(cancelCtx)
		}
		return err
	default:
		return err
	}
}

// awaitDispense blocks until the deferred DATA command has been transmitted.
// The transmit fires on a timer after the order persists; returning from main
// before it would drop the command on the floor.
func (a *app) awaitDispense() error {
	select {
	case <-a.controller.DispenseSent():
		fmt.Println("order placed")
		return nil
	case <-time.After(order.DispenseDelay + 5*time.Second):
		return fmt.Errorf("timed out waiting for the dispense command to transmit")
	}
}

func isLowLevel(err error) bool {
	_, ok := err.(*models.LowLevelError)
	return ok
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

// parseOrderArg parses "2=1.5" or "3=0.25tbsp" into slot, quarter-unit
// quantity, and metric.
func parseOrderArg(arg string) (slot, quantity int, metric models.Metric, err error) {
	parts := strings.SplitN(arg, "=", 2)
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid order item %q", arg)
	}
	slot, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid slot in %q", arg)
	}

	amount := parts[1]
	metric = models.Teaspoon
	switch {
	case strings.HasSuffix(amount, "tbsp"):
		metric = models.Tablespoon
		amount = strings.TrimSuffix(amount, "tbsp")
	case strings.HasSuffix(amount, "tsp"):
		amount = strings.TrimSuffix(amount, "tsp")
	}

	value, err := strconv.ParseFloat(amount, 64)
	if err != nil || value < 0 {
		return 0, 0, 0, fmt.Errorf("invalid amount in %q", arg)
	}
	// Quantities are quarter-unit indexed; reject finer granularity.
	quarters := value * 4
	if quarters != float64(int(quarters)) {
		return 0, 0, 0, fmt.Errorf("amount in %q must be a multiple of 0.25", arg)
	}
	return slot, int(quarters), metric, nil
}
