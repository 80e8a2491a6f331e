package models

// Metric selects the display unit for an ingredient quantity.
type Metric int

const (
	Teaspoon Metric = iota
	Tablespoon
)

// Name returns the short display name of the metric.
func (m Metric) Name() string {
	switch m {
	case Tablespoon:
		return "tbsp"
	default:
		return "tsp"
	}
}

// TeaspoonMultiplier converts one unit of this metric into
// teaspoon-equivalents. One tablespoon is three teaspoons.
func (m Metric) TeaspoonMultiplier() float64 {
	if m == Tablespoon {
		return 3
	}
	return 1
}

// ParseMetric maps a display name back to its Metric. Unknown names default
// to teaspoon.
func ParseMetric(name string) Metric {
	if name == "tbsp" {
		return Tablespoon
	}
	return Teaspoon
}

// QuantityFraction converts a quarter-unit quantity index into its real
// value: 0, 0.25, 0.5, 0.75, 1, 1.25, ...
func QuantityFraction(quantity int) float64 {
	if quantity < 0 {
		return 0
	}
	return float64(quantity) * 0.25
}
