package domain

type AvailabilityStatus string

const (
	StatusAvailable  AvailabilityStatus = "AVAILABLE"
	StatusLowStock   AvailabilityStatus = "LOW_STOCK"
	StatusOutOfStock AvailabilityStatus = "OUT_OF_STOCK"
)

// LowStockThreshold is the inclusive upper bound of the LOW_STOCK band.
const LowStockThreshold = 10

// StatusForAvailable maps an available count to the label published to the
// catalog.
func StatusForAvailable(available int) AvailabilityStatus {
	switch {
	case available <= 0:
		return StatusOutOfStock
	case available <= LowStockThreshold:
		return StatusLowStock
	default:
		return StatusAvailable
	}
}
