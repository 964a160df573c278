package domain

import "errors"

// Kind classifies an error for callers that need to map it to a transport status.
type Kind string

const (
	KindValidation Kind = "validation"
	KindInvariant  Kind = "invariant"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindExternal   Kind = "external"
	KindUnknown    Kind = "unknown"
)

var (
	// Supply
	ErrInvalidMethod            = errors.New("invalid fractionalization method")
	ErrNonPositivePrice         = errors.New("token price must be positive")
	ErrNonPositiveValue         = errors.New("asset value must be positive")
	ErrInvalidParams            = errors.New("invalid supply parameters")
	ErrNonPositiveAmount        = errors.New("amount must be positive")
	ErrInvalidAdjustmentType    = errors.New("invalid supply adjustment type")
	ErrSupplyInvariantViolation = errors.New("supply invariant violation")
	ErrSupplyNotFound           = errors.New("token supply not found")
	ErrSupplyExists             = errors.New("token supply already exists for asset")

	// Vesting
	ErrInvalidSchedule   = errors.New("invalid vesting schedule")
	ErrNothingClaimable  = errors.New("nothing claimable")
	ErrVestingOverClaim  = errors.New("claim would exceed vesting total")
	ErrScheduleFrozen    = errors.New("vesting schedule is paused or cancelled")
	ErrScheduleNotFound  = errors.New("vesting schedule not found")
	ErrInvalidTransition = errors.New("invalid status transition")

	// Lockup
	ErrInvalidLockup      = errors.New("invalid lockup period")
	ErrLockupNotFound     = errors.New("lockup period not found")
	ErrConditionNotFound  = errors.New("unlock condition not found")
	ErrConditionRevoked   = errors.New("unlock condition has been revoked")
	ErrLockupAlreadyFinal = errors.New("lockup period already unlocked")

	// Ownership / concentration
	ErrInvalidSnapshot      = errors.New("invalid ownership snapshot")
	ErrEmptySnapshot        = errors.New("ownership snapshot is empty")
	ErrOwnershipUnavailable = errors.New("ownership data unavailable")

	// Distribution
	ErrNoEligibleRecipients = errors.New("no eligible recipients")
	ErrInvalidTaxRate       = errors.New("tax rate must be between 0 and 1")
	ErrInvalidDistribution  = errors.New("invalid distribution request")
	ErrLedgerUnavailable    = errors.New("ledger unavailable")
	ErrTransferFailed       = errors.New("transfer failed")
	ErrRunNotFound          = errors.New("distribution run not found")
	ErrRunNotResumable      = errors.New("distribution run has nothing to resume")

	// Collaborators / concurrency
	ErrValuationUnavailable = errors.New("valuation unavailable")
	ErrStaleValuation       = errors.New("valuation is stale")
	ErrAssetBusy            = errors.New("another operation holds the asset")
	ErrInvalidAssetID       = errors.New("asset_id is required")
)

var kinds = map[error]Kind{
	ErrInvalidMethod:         KindValidation,
	ErrNonPositivePrice:      KindValidation,
	ErrNonPositiveValue:      KindValidation,
	ErrInvalidParams:         KindValidation,
	ErrNonPositiveAmount:     KindValidation,
	ErrInvalidAdjustmentType: KindValidation,
	ErrInvalidSchedule:       KindValidation,
	ErrInvalidLockup:         KindValidation,
	ErrInvalidSnapshot:       KindValidation,
	ErrEmptySnapshot:         KindValidation,
	ErrInvalidTaxRate:        KindValidation,
	ErrInvalidDistribution:   KindValidation,
	ErrInvalidAssetID:        KindValidation,

	ErrSupplyInvariantViolation: KindInvariant,
	ErrVestingOverClaim:         KindInvariant,
	ErrNothingClaimable:         KindInvariant,
	ErrScheduleFrozen:           KindInvariant,
	ErrInvalidTransition:        KindInvariant,
	ErrConditionRevoked:         KindInvariant,
	ErrLockupAlreadyFinal:       KindInvariant,
	ErrNoEligibleRecipients:     KindInvariant,
	ErrRunNotResumable:          KindInvariant,

	ErrSupplyNotFound:    KindNotFound,
	ErrScheduleNotFound:  KindNotFound,
	ErrLockupNotFound:    KindNotFound,
	ErrConditionNotFound: KindNotFound,
	ErrRunNotFound:       KindNotFound,

	ErrSupplyExists: KindConflict,
	ErrAssetBusy:    KindConflict,

	ErrLedgerUnavailable:    KindExternal,
	ErrTransferFailed:       KindExternal,
	ErrValuationUnavailable: KindExternal,
	ErrStaleValuation:       KindExternal,
	ErrOwnershipUnavailable: KindExternal,
}

// KindOf returns the kind of the first known sentinel wrapped by err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for sentinel, k := range kinds {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindUnknown
}
