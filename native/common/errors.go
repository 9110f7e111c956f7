package common

import "errors"

// Error kinds shared by every ledger module. Module specific errors wrap one
// of these with %w so callers can branch on the category with errors.Is while
// still matching the precise failure.
var (
	// ErrUnauthorized covers missing ward or delegation relations.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSolvency covers unsafe positions, exceeded ceilings and sub-floor dust.
	ErrSolvency = errors.New("solvency violation")
	// ErrState covers uninitialised or duplicate types, a caged system and
	// missing or settled auctions.
	ErrState = errors.New("invalid state")
	// ErrPrice covers unavailable feeds and prices outside the caller's limit.
	ErrPrice = errors.New("price unavailable")
	// ErrBudget covers exhausted liquidation limits.
	ErrBudget = errors.New("liquidation budget exhausted")
	// ErrInvalidInput covers malformed arguments such as negative amounts.
	ErrInvalidInput = errors.New("invalid input")
)
