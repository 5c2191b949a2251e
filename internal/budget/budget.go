// Package budget converts a memory budget into a tile height. The functions
// are pure: they only look at their arguments.
package budget

import (
	"github.com/specialistvlad/blockcalc/internal/calcerr"
)

// DefaultBytes is the budget used when a run does not specify one.
const DefaultBytes int64 = 512 << 20

// LineBytes returns the cost of holding one grid row of width pixels for
// bandCount bands of elementSize bytes each.
func LineBytes(width, bandCount, elementSize int) int64 {
	if width <= 0 || bandCount <= 0 || elementSize <= 0 {
		return 0
	}
	return int64(width) * int64(bandCount) * int64(elementSize)
}

// MaxRows returns how many rows fit in budgetBytes when each row costs
// totalLineBytes: min(gridHeight, ceil(budgetBytes/totalLineBytes)), never
// below 1. A budget that cannot hold a single row is a configuration error.
func MaxRows(totalLineBytes, budgetBytes int64, gridHeight int) (int, error) {
	if gridHeight <= 0 {
		return 0, calcerr.Configf("grid height", "must be positive, got %d", gridHeight)
	}
	if budgetBytes <= 0 {
		return 0, calcerr.Configf("memory budget", "must be positive, got %d bytes", budgetBytes)
	}
	if totalLineBytes <= 0 {
		// Nothing is read or written per row; a single tile covers the grid.
		return gridHeight, nil
	}
	if budgetBytes < totalLineBytes {
		return 0, calcerr.Configf("memory budget",
			"%d bytes is smaller than the %d bytes needed for one row", budgetBytes, totalLineBytes)
	}

	rows := (budgetBytes + totalLineBytes - 1) / totalLineBytes
	if rows > int64(gridHeight) {
		return gridHeight, nil
	}
	return max(int(rows), 1), nil
}
