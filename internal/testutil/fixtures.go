package testutil

import (
	"time"

	"github.com/shopspring/decimal"
)

// Date is shorthand for a UTC midnight instant in fixtures
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Dec is shorthand for a decimal amount in fixtures
func Dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
