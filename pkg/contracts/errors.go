package contracts

import "errors"

// Rejection taxonomy. Every failure is a synchronous, non-retryable
// rejection of the call with no partial state change; callers match with
// errors.Is.
var (
	// ErrInvalidTimestamp — release timestamp is not strictly in the future.
	ErrInvalidTimestamp = errors.New("release timestamp must be in the future")

	// ErrInsufficientFunds — depositor balance cannot cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDepositNotFound — no live deposit under the given id for the depositor.
	ErrDepositNotFound = errors.New("deposit not found")

	// ErrAlreadyQueued — a live queue entry already exists for the tx id.
	ErrAlreadyQueued = errors.New("transaction already queued")

	// ErrTimestampOutOfRange — release timestamp violates the queue-time
	// window (now+min delay, now+max delay).
	ErrTimestampOutOfRange = errors.New("release timestamp outside queue window")

	// ErrNotQueued — no live queue entry for the tx id.
	ErrNotQueued = errors.New("transaction not queued")

	// ErrTimestampNotReached — execute called before the release timestamp.
	ErrTimestampNotReached = errors.New("release timestamp not reached")

	// ErrGracePeriodExpired — execute called at or after release timestamp
	// plus grace period.
	ErrGracePeriodExpired = errors.New("grace period expired")

	// ErrTransferFailed — the transfer substrate reported failure.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrNotOwner — caller is not the instance owner.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrAlreadyClaimed — the deposit was already claimed.
	ErrAlreadyClaimed = errors.New("deposit already claimed")

	// ErrGuardDenied — a release-guard policy rejected the operation.
	ErrGuardDenied = errors.New("release guard denied")
)
