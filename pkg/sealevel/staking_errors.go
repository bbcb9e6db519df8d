package sealevel

// StakingError is a staking program failure carried as a custom instruction
// error. Codes are stable and follow declaration order.
type StakingError struct {
	code uint32
	name string
}

func (e *StakingError) Error() string { return e.name }
func (e *StakingError) Code() uint32  { return e.code }

var (
	StakingErrUnauthorized      = &StakingError{0, "StakingErrUnauthorized"}
	StakingErrNotRentExempt     = &StakingError{1, "StakingErrNotRentExempt"}
	StakingErrInvalidOwner      = &StakingError{2, "StakingErrInvalidOwner"}
	StakingErrInvalidMint       = &StakingError{3, "StakingErrInvalidMint"}
	StakingErrDoubleStake       = &StakingError{4, "StakingErrDoubleStake"}
	StakingErrZeroAmount        = &StakingError{5, "StakingErrZeroAmount"}
	StakingErrLockActive        = &StakingError{6, "StakingErrLockActive"}
	StakingErrOverflow          = &StakingError{7, "StakingErrOverflow"}
	StakingErrVaultInsufficient = &StakingError{8, "StakingErrVaultInsufficient"}
	// StakingErrATAMissing is reserved; no operation returns it.
	StakingErrATAMissing        = &StakingError{9, "StakingErrATAMissing"}
	StakingErrTimeWentBackwards = &StakingError{10, "StakingErrTimeWentBackwards"}
)

var stakingErrors = []*StakingError{
	StakingErrUnauthorized,
	StakingErrNotRentExempt,
	StakingErrInvalidOwner,
	StakingErrInvalidMint,
	StakingErrDoubleStake,
	StakingErrZeroAmount,
	StakingErrLockActive,
	StakingErrOverflow,
	StakingErrVaultInsufficient,
	StakingErrATAMissing,
	StakingErrTimeWentBackwards,
}

// StakingErrorFromCode returns the staking error with the given custom code.
func StakingErrorFromCode(code uint32) (*StakingError, bool) {
	if code >= uint32(len(stakingErrors)) {
		return nil, false
	}
	return stakingErrors[code], true
}
