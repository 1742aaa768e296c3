package options

import "optionsvault/native/common"

var (
	ErrInstrumentNotFound     = common.NewError(common.ClassValidation, "options: instrument not found")
	ErrInstrumentExists       = common.NewError(common.ClassValidation, "options: instrument already exists")
	ErrInvalidInstrument      = common.NewError(common.ClassValidation, "options: invalid instrument parameters")
	ErrInstrumentExpired      = common.NewError(common.ClassValidation, "options: instrument expired")
	ErrCollateralMismatch     = common.NewError(common.ClassValidation, "options: collateral asset mismatch")
	ErrOptionTypeMismatch     = common.NewError(common.ClassValidation, "options: put/call mismatch")
	ErrStrikeOutOfRange       = common.NewError(common.ClassValidation, "options: strike outside allowed distance")
	ErrExpiryOutOfRange       = common.NewError(common.ClassValidation, "options: expiry outside allowed window")
	ErrPositionNotFound       = common.NewError(common.ClassValidation, "options: position not found")
	ErrPositionSettled        = common.NewError(common.ClassPhase, "options: position already settled")
	ErrInstrumentAlreadySet   = common.NewError(common.ClassValidation, "options: position holds another instrument")
	ErrInsufficientCollateral = common.NewError(common.ClassCapacity, "options: insufficient collateral")
	ErrInvalidAmount          = common.NewError(common.ClassValidation, "options: invalid amount")
	ErrUnsupportedVaultType   = common.NewError(common.ClassValidation, "options: unsupported vault type")
	ErrUnauthorized           = common.NewError(common.ClassAuth, "options: unauthorized")

	// Settlement failures are reported as external: they come from the
	// protocol and callers retry once the condition clears.
	ErrNotExpired   = common.NewError(common.ClassExternal, "options: instrument not expired")
	ErrPriceNotSet  = common.NewError(common.ClassExternal, "options: expiry price not set")
	ErrLivePriceNil = common.NewError(common.ClassExternal, "options: live price not set")
)
