package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "anchorage/pkg/domain-errors"
)

// IneligibleError reports every unmet freeze or mint precondition.
type IneligibleError struct {
	Stage    string
	Blockers []string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("not eligible for %s: %s", e.Stage, strings.Join(e.Blockers, "; "))
}

func (e *IneligibleError) ErrorCode() dErrors.Code { return dErrors.CodeIneligible }

// NotFoundError reports an unknown entity or freeze.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) ErrorCode() dErrors.Code { return dErrors.CodeNotFound }

// AlreadyFrozenError is returned when a FreezeRecord already exists.
type AlreadyFrozenError struct {
	EntityType EntityType
	EntityID   string
}

func (e *AlreadyFrozenError) Error() string {
	return fmt.Sprintf("%s %s is already frozen", e.EntityType, e.EntityID)
}

func (e *AlreadyFrozenError) ErrorCode() dErrors.Code { return dErrors.CodeConflict }

// AlreadyMintedError is returned when the freeze already has a MintRecord.
type AlreadyMintedError struct {
	FreezeID string
}

func (e *AlreadyMintedError) Error() string {
	return fmt.Sprintf("freeze %s is already minted", e.FreezeID)
}

func (e *AlreadyMintedError) ErrorCode() dErrors.Code { return dErrors.CodeConflict }

// MintInProgressError is returned when another mint holds the minting stage.
type MintInProgressError struct {
	EntityID string
}

func (e *MintInProgressError) Error() string {
	return fmt.Sprintf("minting already in progress for %s", e.EntityID)
}

func (e *MintInProgressError) ErrorCode() dErrors.Code { return dErrors.CodeConflict }

// NotMaturedError is returned when the maturation window has not elapsed.
type NotMaturedError struct {
	MinMintDate   time.Time
	DaysRemaining int
}

func (e *NotMaturedError) Error() string {
	return fmt.Sprintf("freeze not matured: %s (until %s)",
		WaitMessage(e.DaysRemaining), e.MinMintDate.UTC().Format(time.RFC3339))
}

func (e *NotMaturedError) ErrorCode() dErrors.Code { return dErrors.CodeIneligible }

// LedgerSubmissionError is a transient ledger failure. The entity has been
// returned to frozen_offchain and minting may be retried.
type LedgerSubmissionError struct {
	Err error
}

func (e *LedgerSubmissionError) Error() string {
	return fmt.Sprintf("minting failed, will remain available for retry: %v", e.Err)
}

func (e *LedgerSubmissionError) Unwrap() error { return e.Err }

func (e *LedgerSubmissionError) ErrorCode() dErrors.Code { return dErrors.CodeUnavailable }

// LedgerConfirmationTimeoutError is ambiguous: the transaction was broadcast
// but no receipt was observed, so it may still be mined. Callers must reconcile through VerifyOnChain before retrying.
type LedgerConfirmationTimeoutError struct {
	TxHash string
	Err    error
}

func (e *LedgerConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("minting failed, will remain available for retry: confirmation of %s not observed: %v", e.TxHash, e.Err)
}

func (e *LedgerConfirmationTimeoutError) Unwrap() error { return e.Err }

func (e *LedgerConfirmationTimeoutError) ErrorCode() dErrors.Code { return dErrors.CodeTimeout }

// WaitMessage is the maturation blocker shown to callers.
func WaitMessage(days int) string {
	if days == 1 {
		return "Must wait 1 more day"
	}
	return fmt.Sprintf("Must wait %d more days", days)
}

// DaysRemaining rounds the remaining maturation time up to whole days.
func DaysRemaining(now, minMintDate time.Time) int {
	remaining := minMintDate.Sub(now)
	if remaining <= 0 {
		return 0
	}
	const day = 24 * time.Hour
	return int((remaining + day - 1) / day)
}
