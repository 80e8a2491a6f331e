package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Vulgar-fraction suffixes for the quarter remainders 1..3.
var fractionRunes = [4]string{"", "¼", "½", "¾"}

// FormatQuantity renders a quarter-unit quantity index for display:
// 0 → "0", 1 → "¼", 4 → "1", 5 → "1¼", 10 → "2½".
func FormatQuantity(quantity int) string {
	if quantity <= 0 {
		return "0"
	}
	whole := quantity / 4
	frac := fractionRunes[quantity%4]
	if whole == 0 {
		return frac
	}
	if frac == "" {
		return strconv.Itoa(whole)
	}
	return strconv.Itoa(whole) + frac
}

// ParseQuantity converts a display string back into its quarter-unit index,
// the inverse of FormatQuantity.
func ParseQuantity(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("models: empty quantity")
	}

	quarters := 0
	for i := 1; i < len(fractionRunes); i++ {
		if strings.HasSuffix(s, fractionRunes[i]) {
			quarters = i
			s = strings.TrimSuffix(s, fractionRunes[i])
			break
		}
	}

	if s == "" {
		return quarters, nil
	}
	whole, err := strconv.Atoi(s)
	if err != nil || whole < 0 {
		return 0, fmt.Errorf("models: invalid quantity %q", s)
	}
	return whole*4 + quarters, nil
}
