// Package models defines the persisted entities and domain types shared by
// the repository, order, and transport layers.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// MaxActiveContainers is the number of dispensing slots on the device.
	MaxActiveContainers = 6

	// MaxBowlCapacity is the largest order volume, in teaspoon-equivalents,
	// that fits in the dispensing bowl.
	MaxBowlCapacity = 30.0

	// LowLevelThreshold is the stock percentage at or below which a slot is
	// reported as running low.
	LowLevelThreshold = 15

	// UnassignedSlot marks a container that occupies no dispensing slot.
	UnassignedSlot = -1
)

// Container is a labelled spice compartment. An active container is assigned
// to a dispensing slot in [1, MaxActiveContainers]; inactive containers carry
// the UnassignedSlot sentinel.
type Container struct {
	gorm.Model
	Name   string  `gorm:"not null"`
	Weight float64 `gorm:"not null"` // grams per teaspoon
	Color  string
	Active bool `gorm:"not null;default:false"`
	Slot   int  `gorm:"not null;default:-1"`
}

// Ingredient links a recipe or order to a container with a quantity and unit.
// Quantity is a quarter-unit index: each increment is 0.25 of the display
// unit, so 5 means 1¼ teaspoons (or tablespoons).
type Ingredient struct {
	gorm.Model
	ContainerID uint      `gorm:"not null"`
	Container   Container `gorm:"foreignKey:ContainerID"`
	Quantity    int       `gorm:"not null;default:0"`
	Metric      Metric    `gorm:"not null;default:0"`

	RecipeID *uint
}

// Volume returns the ingredient's physical volume in teaspoon-equivalents.
func (i Ingredient) Volume() float64 {
	return QuantityFraction(i.Quantity) * i.Metric.TeaspoonMultiplier()
}

// Grams returns the dispensed weight for this ingredient repeated count
// times, using the container's reference weight per teaspoon.
func (i Ingredient) Grams(count int) float64 {
	return i.Container.Weight * i.Volume() * float64(count)
}

// Recipe is a user-defined set of ingredients with optional notes and image.
type Recipe struct {
	gorm.Model
	UUID        uuid.UUID `gorm:"type:text;uniqueIndex;not null"`
	Name        string    `gorm:"not null"`
	Link        string
	Content     string
	ImagePath   string
	Ingredients []Ingredient `gorm:"foreignKey:RecipeID"`
}

// Order is a historical record of a device-acknowledged dispense. It is
// created only after the device accepts the command and never mutated.
type Order struct {
	gorm.Model
	Date     time.Time `gorm:"not null"`
	Quantity int       `gorm:"not null;default:1"` // repeat count
	RecipeID *uint
	Recipe   *Recipe     `gorm:"foreignKey:RecipeID"`
	Items    []OrderItem `gorm:"foreignKey:OrderID"`
}

// OrderItem snapshots one dispensed ingredient of an order.
type OrderItem struct {
	gorm.Model
	OrderID      uint `gorm:"not null"`
	IngredientID uint
	Ingredient   Ingredient `gorm:"foreignKey:IngredientID"`
}
