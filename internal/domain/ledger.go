package domain

import "time"

// LedgerEntryKind discriminates the append-only ledger record types.
type LedgerEntryKind string

const (
	LedgerEntryOpened    LedgerEntryKind = "position_opened"
	LedgerEntryTrade     LedgerEntryKind = "trade"
	LedgerEntryRejection LedgerEntryKind = "rejection"
)

// LedgerEntry is one record in the append-only trade ledger. Seq is assigned
// by the store and is strictly increasing. Exactly one of Position, Trade,
// Rejection is set according to Kind.
type LedgerEntry struct {
	Seq        int64
	Kind       LedgerEntryKind
	RecordedAt time.Time
	Position   *Position  // LedgerEntryOpened
	Trade      *Trade     // LedgerEntryTrade
	Rejection  *Rejection // LedgerEntryRejection
}

// Rejection records an intent that did not become a trade, with its
// machine-readable reason so rejection rates stay queryable.
type Rejection struct {
	Symbol     string
	Direction  Direction
	Confidence float64
	Reason     RejectionReason
	OccurredAt time.Time
}
