package vault

import nativecommon "optionsvault/native/common"

var (
	ErrUnauthorized       = nativecommon.NewError(nativecommon.ClassAuth, "vault: caller is not the owner")
	ErrInvalidState       = nativecommon.NewError(nativecommon.ClassPhase, "vault: operation not allowed in current state")
	ErrVaultPaused        = nativecommon.NewError(nativecommon.ClassPhase, "vault: emergency pause active")
	ErrRoundNotClosed     = nativecommon.NewError(nativecommon.ClassPhase, "vault: round not closed")
	ErrCapExceeded        = nativecommon.NewError(nativecommon.ClassCapacity, "vault: cap exceeded")
	ErrInvalidAllocation  = nativecommon.NewError(nativecommon.ClassCapacity, "vault: invalid allocation")
	ErrInvalidAmount      = nativecommon.NewError(nativecommon.ClassValidation, "vault: invalid amount")
	ErrInsufficientShares = nativecommon.NewError(nativecommon.ClassValidation, "vault: insufficient shares")
	ErrNoPendingEntry     = nativecommon.NewError(nativecommon.ClassValidation, "vault: no queued entry for round")
	ErrInvalidFee         = nativecommon.NewError(nativecommon.ClassValidation, "vault: fee out of range")
	ErrInvalidConfig      = nativecommon.NewError(nativecommon.ClassValidation, "vault: invalid configuration")
	ErrNativeUnsupported  = nativecommon.NewError(nativecommon.ClassValidation, "vault: asset is not the wrapped native token")
	ErrArithmetic         = nativecommon.NewError(nativecommon.ClassArithmetic, "vault: arithmetic overflow or invalid share price")
	ErrNotConfigured      = nativecommon.NewError(nativecommon.ClassExternal, "vault engine: collaborator not configured")
)
