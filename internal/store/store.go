// Package store persists containers, recipes, and order history in a local
// sqlite database, and exposes the repository surface the order layer
// consumes.
package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qspice/dispenser/internal/models"
)

// Open opens (creating if necessary) the sqlite database at path and
// migrates the schema.
func Open(path string) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: database path must not be empty")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the schema for all persisted entities.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("store: database handle is nil")
	}
	return db.AutoMigrate(
		&models.Container{},
		&models.Ingredient{},
		&models.Recipe{},
		&models.Order{},
		&models.OrderItem{},
	)
}

// Repository wraps the database with the operations the rest of the
// application needs. Methods return models.ErrNotFound for missing records.
type Repository struct {
	db *gorm.DB
}

// New creates a repository over an opened database.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CountContainers returns the total number of containers.
func (r *Repository) CountContainers() (int64, error) {
	var n int64
	if err := r.db.Model(&models.Container{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("store: count containers: %w", err)
	}
	return n, nil
}

// AddContainer inserts a new, unassigned container.
func (r *Repository) AddContainer(name string, weight float64, color string) error {
	c := models.Container{Name: name, Weight: weight, Color: color, Slot: models.UnassignedSlot}
	if err := r.db.Create(&c).Error; err != nil {
		return fmt.Errorf("store: add container %q: %w", name, err)
	}
	return nil
}

// AllContainers returns every container ordered by name.
func (r *Repository) AllContainers() ([]models.Container, error) {
	var out []models.Container
	if err := r.db.Order("name asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list containers: %w", err)
	}
	return out, nil
}

// ActiveContainers returns the containers currently assigned to dispensing
// slots, in ascending slot order.
func (r *Repository) ActiveContainers() ([]models.Container, error) {
	var out []models.Container
	if err := r.db.Where("active = ?", true).Order("slot asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list active containers: %w", err)
	}
	return out, nil
}

// ContainerAtSlot returns the container occupying the given slot, or
// models.ErrNotFound when the slot is vacant.
func (r *Repository) ContainerAtSlot(slot int) (*models.Container, error) {
	var c models.Container
	err := r.db.Where("slot = ?", slot).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: container at slot %d: %w", slot, err)
	}
	return &c, nil
}

// SetContainerActive assigns a container to a dispensing slot, first
// vacating whichever container occupied it. Passing models.UnassignedSlot
// clears the container's assignment instead.
func (r *Repository) SetContainerActive(containerID uint, slot int) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if slot != models.UnassignedSlot {
			if slot < 1 || slot > models.MaxActiveContainers {
				return fmt.Errorf("store: slot %d out of range", slot)
			}
			// Vacate the prior occupant. At most one container may hold a
			// slot at any time.
			err := tx.Model(&models.Container{}).
				Where("slot = ? AND id <> ?", slot, containerID).
				Updates(map[string]any{"slot": models.UnassignedSlot, "active": false}).Error
			if err != nil {
				return fmt.Errorf("store: vacate slot %d: %w", slot, err)
			}
		}

		updates := map[string]any{"slot": slot, "active": slot != models.UnassignedSlot}
		res := tx.Model(&models.Container{}).Where("id = ?", containerID).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("store: assign container %d: %w", containerID, res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// SaveRecipe creates or updates a recipe. A stable UUID is assigned on first
// save, and an empty name is rejected.
func (r *Repository) SaveRecipe(recipe *models.Recipe) error {
	if strings.TrimSpace(recipe.Name) == "" {
		return models.ErrInvalidName
	}
	if recipe.UUID == uuid.Nil {
		recipe.UUID = uuid.New()
	}
	if err := r.db.Save(recipe).Error; err != nil {
		return fmt.Errorf("store: save recipe %q: %w", recipe.Name, err)
	}
	return nil
}

// DeleteRecipe removes a recipe, its ingredients, and its stored image.
func (r *Repository) DeleteRecipe(recipe *models.Recipe) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("recipe_id = ?", recipe.ID).Delete(&models.Ingredient{}).Error; err != nil {
			return fmt.Errorf("store: delete recipe ingredients: %w", err)
		}
		if err := tx.Delete(recipe).Error; err != nil {
			return fmt.Errorf("store: delete recipe: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if recipe.ImagePath != "" {
		if err := os.Remove(recipe.ImagePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: remove recipe image: %w", err)
		}
	}
	return nil
}

// Recipes returns all recipes ordered by name, with ingredients and their
// containers preloaded.
func (r *Repository) Recipes() ([]models.Recipe, error) {
	var out []models.Recipe
	err := r.db.Preload("Ingredients.Container").Order("name asc").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("store: list recipes: %w", err)
	}
	return out, nil
}

// FindRecipeByName returns the recipe with the given name, for callers that
// address recipes by spoken or typed name.
func (r *Repository) FindRecipeByName(name string) (*models.Recipe, error) {
	var recipe models.Recipe
	err := r.db.Preload("Ingredients.Container").Where("name = ?", name).First(&recipe).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find recipe %q: %w", name, err)
	}
	return &recipe, nil
}

// CreateListOrder records a dispensed ad-hoc order. Only ingredients with a
// positive quantity are snapshotted.
func (r *Repository) CreateListOrder(items []models.Ingredient, repeat int) (*models.Order, error) {
	order := models.Order{Date: time.Now().UTC(), Quantity: repeat}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		for _, item := range items {
			if item.Quantity <= 0 {
				continue
			}
			ing := models.Ingredient{
				ContainerID: item.ContainerID,
				Quantity:    item.Quantity,
				Metric:      item.Metric,
			}
			if err := tx.Create(&ing).Error; err != nil {
				return err
			}
			oi := models.OrderItem{OrderID: order.ID, IngredientID: ing.ID}
			if err := tx.Create(&oi).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: create list order: %w", err)
	}
	return &order, nil
}

// CreateRecipeOrder records a dispensed recipe order, referencing the
// recipe's own ingredient rows.
func (r *Repository) CreateRecipeOrder(recipe *models.Recipe, repeat int) (*models.Order, error) {
	order := models.Order{Date: time.Now().UTC(), Quantity: repeat, RecipeID: &recipe.ID}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		for _, ing := range recipe.Ingredients {
			oi := models.OrderItem{OrderID: order.ID, IngredientID: ing.ID}
			if err := tx.Create(&oi).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: create recipe order: %w", err)
	}
	return &order, nil
}

// Orders returns the order history, most recent first.
func (r *Repository) Orders() ([]models.Order, error) {
	var out []models.Order
	err := r.db.Preload("Items.Ingredient.Container").Preload("Recipe").
		Order("date desc").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("store: list orders: %w", err)
	}
	return out, nil
}
