// Package protocol implements the dispenser's line-oriented text protocol.
// It is a pure codec: the transport owns newline termination and framing,
// this package only translates between typed values and line contents.
package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Outbound command tokens.
const (
	CmdPoll = "POLL" // request per-slot stock levels and busy/idle status
	CmdQuit = "QUIT" // cancel an in-progress dispense
)

// Status classifies an inbound line. Matching is on the first
// whitespace-separated token only: a device name or free-text line that
// merely contains "OK" does not match.
type Status int

const (
	StatusUnknown Status = iota
	// StatusOK is a successful poll (with levels) or a bare acknowledgment.
	StatusOK
	// StatusInProgress means the device is mid-dispense for an already
	// queued order.
	StatusInProgress
	// StatusBusy means the device is actively dispensing.
	StatusBusy
)

// ParseStatus classifies an inbound line by its first token.
func ParseStatus(line string) Status {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return StatusUnknown
	}
	switch fields[0] {
	case "OK":
		return StatusOK
	case "INPR":
		return StatusInProgress
	case "BUSY":
		return StatusBusy
	default:
		return StatusUnknown
	}
}

// ParseLevels extracts the per-slot stock percentages from an OK poll
// response ("OK 80,65,12,..."). The integers are positional: index 0 is
// slot 1. A line with no level list (a bare acknowledgment) yields an empty
// slice, and unparseable entries default to zero.
func ParseLevels(line string) []int {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) < 2 {
		return []int{}
	}

	fields := strings.Split(parts[1], ",")
	levels := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			n = 0
		}
		levels[i] = n
	}
	return levels
}

// DispenseItem is one slot's share of a dispense command.
type DispenseItem struct {
	Slot  int
	Grams float64
}

// EncodeDispense builds the DATA command body: "DATA 1|3.0,2|8.0". Amounts
// are formatted to one decimal place and slots are emitted in ascending
// order regardless of input order.
func EncodeDispense(items []DispenseItem) string {
	sorted := make([]DispenseItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Slot < sorted[j].Slot })

	parts := make([]string, len(sorted))
	for i, item := range sorted {
		parts[i] = fmt.Sprintf("%d|%.1f", item.Slot, item.Grams)
	}
	return "DATA " + strings.Join(parts, ",")
}
