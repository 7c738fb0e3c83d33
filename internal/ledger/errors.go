package ledger

import "errors"

var (
	// ErrInsufficientEscrow means a release would push the project's escrow
	// below zero. Surfaced to the caller, never retried.
	ErrInsufficientEscrow = errors.New("insufficient escrow for release")

	// ErrDuplicateSettlement means a completed transaction already exists for
	// the same idempotency key. Settlement workers treat this as success.
	ErrDuplicateSettlement = errors.New("settlement already completed")

	// ErrInsufficientBalance means a wallet debit would go negative.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")

	// ErrWalletNotActive means the wallet is frozen or closed.
	ErrWalletNotActive = errors.New("wallet is not active")

	// ErrWalletNotFound means no wallet row exists for the user.
	ErrWalletNotFound = errors.New("wallet not found")
)
