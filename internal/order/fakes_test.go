package order

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qspice/dispenser/internal/models"
)

// fakeRepo is an in-memory Repository recording persisted orders.
type fakeRepo struct {
	mu           sync.Mutex
	active       []models.Container
	listOrders   int
	recipeOrders int
	err          error
}

func (r *fakeRepo) ActiveContainers() ([]models.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.err
}

func (r *fakeRepo) CreateListOrder(items []models.Ingredient, repeat int) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.listOrders++
	return &models.Order{Quantity: repeat}, nil
}

func (r *fakeRepo) CreateRecipeOrder(recipe *models.Recipe, repeat int) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.recipeOrders++
	return &models.Order{Quantity: repeat, RecipeID: &recipe.ID}, nil
}

func (r *fakeRepo) orders() (list, recipe int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listOrders, r.recipeOrders
}

// fakeTransport implements Transport with injectable inbound lines.
type fakeTransport struct {
	mu       sync.Mutex
	ready    bool
	writes   []string
	writeSig chan string
	subs     map[int]chan string
	nextSub  int
}

func newFakeTransport(ready bool) *fakeTransport {
	return &fakeTransport{
		ready:    ready,
		writeSig: make(chan string, 16),
		subs:     make(map[int]chan string),
	}
}

func (f *fakeTransport) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTransport) Write(message string) {
	f.mu.Lock()
	f.writes = append(f.writes, message)
	f.mu.Unlock()
	f.writeSig <- message
}

func (f *fakeTransport) Listen() (<-chan string, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan string, 8)
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// push delivers an inbound line to all subscribers.
func (f *fakeTransport) push(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// awaitWrite blocks until a message with the given prefix is written.
func (f *fakeTransport) awaitWrite(t *testing.T, prefix string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-f.writeSig:
			if strings.HasPrefix(msg, prefix) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for write with prefix %q", prefix)
		}
	}
}

func (f *fakeTransport) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)
	return out
}

// twoActiveContainers returns the containers used by the encoding examples:
// slot 1 holds a 2.0 g/tsp spice, slot 2 a 4.0 g/tsp spice.
func twoActiveContainers() []models.Container {
	c1 := models.Container{Name: "Cumin", Weight: 2.0, Color: "B31B1B", Active: true, Slot: 1}
	c1.ID = 1
	c2 := models.Container{Name: "Paprika", Weight: 4.0, Color: "FF6700", Active: true, Slot: 2}
	c2.ID = 2
	return []models.Container{c1, c2}
}
