package domain

import "time"

// AccountState is the single source of truth for capital. It is mutated only
// through the ledger service (single-writer discipline) and must always be
// reproducible by replaying the ledger.
type AccountState struct {
	Equity            float64
	AvailableMargin   float64
	DailyRealizedPnL  float64
	EquityAtDayStart  float64
	ConsecutiveLosses int
	OpenPositionIDs   []string
	Day               time.Time // UTC midnight of the day the daily figures refer to
}

// OpenPositionCount returns the number of currently open positions.
func (a AccountState) OpenPositionCount() int {
	return len(a.OpenPositionIDs)
}
