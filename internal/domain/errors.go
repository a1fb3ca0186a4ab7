package domain

import "errors"

// Error kinds returned by the engine and its components. Recoverable kinds
// (invalid signal, insufficient capital, no edge) are logged and the engine
// moves on; ErrLedgerViolation and ErrJournalWrite halt new entries.
var (
	// ErrInvalidSignal marks a malformed signal, rejected before any mutation.
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrInsufficientCapital means a reservation was denied by the ledger.
	ErrInsufficientCapital = errors.New("insufficient capital")

	// ErrNoEdge means the sizer declined the signal; no capital was touched.
	ErrNoEdge = errors.New("no edge")

	// ErrDuplicatePosition marks a signal for a market with an active
	// position that the averaging-down policy did not accept.
	ErrDuplicatePosition = errors.New("duplicate active position")

	// ErrTradingHalted means new entries are blocked (drawdown breaker or
	// a fatal accounting failure). Existing positions may still close.
	ErrTradingHalted = errors.New("trading halted")

	// ErrLedgerViolation marks a reserve/release accounting mismatch.
	// It is a programmer error, not a user-facing condition: the engine
	// freezes new intake when it surfaces.
	ErrLedgerViolation = errors.New("ledger invariant violation")

	// ErrJournalWrite means the journal could not persist a record after
	// retries. Durability can no longer be guaranteed, so the engine
	// escalates to the same halt state as a ledger violation.
	ErrJournalWrite = errors.New("journal write failure")
)
