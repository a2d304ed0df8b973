package app

import (
	"staybook/internal/domain"
	"time"
)

// Nights returns the stay duration for a date range: ceil of whole days,
// minimum 1.
func Nights(checkIn, checkOut time.Time) int {
	return domain.NightsBetween(checkIn, checkOut)
}

// TotalCanonicalMinor prices a stay in canonical-currency minor units.
// Inputs are already integers, so no rounding is involved.
func TotalCanonicalMinor(nightlyMinor int64, nights int) int64 {
	return nightlyMinor * int64(nights)
}
