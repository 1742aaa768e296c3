package action

import nativecommon "optionsvault/native/common"

var (
	ErrUnauthorized       = nativecommon.NewError(nativecommon.ClassAuth, "action: caller is not owner or operator")
	ErrNotVault           = nativecommon.NewError(nativecommon.ClassAuth, "action: caller is not the vault")
	ErrInvalidState       = nativecommon.NewError(nativecommon.ClassPhase, "action: operation not allowed in current state")
	ErrCommitPhaseNotOver = nativecommon.NewError(nativecommon.ClassPhase, "action: commit phase not over")
	ErrCloseTooEarly      = nativecommon.NewError(nativecommon.ClassPhase, "action: close grace period not elapsed")
	ErrAuctionNotSettled  = nativecommon.NewError(nativecommon.ClassPhase, "action: auction still running")
	ErrWrongAsset         = nativecommon.NewError(nativecommon.ClassValidation, "action: order asset does not match vault asset")
	ErrWrongInstrument    = nativecommon.NewError(nativecommon.ClassValidation, "action: order instrument does not match active option")
	ErrPremiumTooLow      = nativecommon.NewError(nativecommon.ClassValidation, "action: premium below minimum")
	ErrInvalidAmount      = nativecommon.NewError(nativecommon.ClassValidation, "action: invalid amount")
	ErrUnknownAuction     = nativecommon.NewError(nativecommon.ClassValidation, "action: auction not started by this action")
	ErrNotConfigured      = nativecommon.NewError(nativecommon.ClassExternal, "action engine: collaborator not configured")
)
