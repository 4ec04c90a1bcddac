package bill

import (
	"math"

	"github.com/Rhymond/go-money"
)

// DisplayAmount rounds an internal amount to two decimal places for
// presentation. The value is converted to minor units (cents) with
// half-up rounding before going through go-money; NewFromFloat truncates
// toward zero and Money.Round rounds to whole currency units, so neither
// gives cent precision on its own. Internal accumulation stays unrounded
// so repeated edits never compound rounding error.
func DisplayAmount(v float64) float64 {
	return money.New(int64(math.Round(v*100)), money.USD).AsMajorUnits()
}
