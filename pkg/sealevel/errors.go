package sealevel

import "errors"

// instruction errors
var (
	InstrErrInvalidArgument             = errors.New("InstrErrInvalidArgument")
	InstrErrInvalidInstructionData      = errors.New("InstrErrInvalidInstructionData")
	InstrErrInvalidAccountData          = errors.New("InstrErrInvalidAccountData")
	InstrErrAccountDataTooSmall         = errors.New("InstrErrAccountDataTooSmall")
	InstrErrInsufficientFunds           = errors.New("InstrErrInsufficientFunds")
	InstrErrIncorrectProgramId          = errors.New("InstrErrIncorrectProgramId")
	InstrErrMissingRequiredSignature    = errors.New("InstrErrMissingRequiredSignature")
	InstrErrAccountAlreadyInitialized   = errors.New("InstrErrAccountAlreadyInitialized")
	InstrErrUninitializedAccount        = errors.New("InstrErrUninitializedAccount")
	InstrErrNotEnoughAccountKeys        = errors.New("InstrErrNotEnoughAccountKeys")
	InstrErrAccountBorrowFailed         = errors.New("InstrErrAccountBorrowFailed")
	InstrErrMissingAccount              = errors.New("InstrErrMissingAccount")
	InstrErrInvalidAccountOwner         = errors.New("InstrErrInvalidAccountOwner")
	InstrErrArithmeticOverflow          = errors.New("InstrErrArithmeticOverflow")
	InstrErrInvalidSeeds                = errors.New("InstrErrInvalidSeeds")
	InstrErrInvalidRealloc              = errors.New("InstrErrInvalidRealloc")
	InstrErrIllegalOwner                = errors.New("InstrErrIllegalOwner")
	InstrErrExecutableDataModified      = errors.New("InstrErrExecutableDataModified")
	InstrErrReadonlyDataModified        = errors.New("InstrErrReadonlyDataModified")
	InstrErrExternalAccountDataModified = errors.New("InstrErrExternalAccountDataModified")
	InstrErrAccountDataSizeChanged      = errors.New("InstrErrAccountDataSizeChanged")
	InstrErrReadonlyLamportChange       = errors.New("InstrErrReadonlyLamportChange")
	InstrErrExternalAccountLamportSpend = errors.New("InstrErrExternalAccountLamportSpend")
	InstrErrExecutableLamportChange     = errors.New("InstrErrExecutableLamportChange")
	InstrErrModifiedProgramId           = errors.New("InstrErrModifiedProgramId")
	InstrErrPrivilegeEscalation         = errors.New("InstrErrPrivilegeEscalation")
	InstrErrAccountNotExecutable        = errors.New("InstrErrAccountNotExecutable")
	InstrErrUnsupportedProgramId        = errors.New("InstrErrUnsupportedProgramId")
	InstrErrCallDepth                   = errors.New("InstrErrCallDepth")
	InstrErrReentrancyNotAllowed        = errors.New("InstrErrReentrancyNotAllowed")
	InstrErrComputationalBudgetExceeded = errors.New("InstrErrComputationalBudgetExceeded")
	InstrErrUnsupportedSysvar           = errors.New("InstrErrUnsupportedSysvar")
)

// Solana error codes for instruction errors, offset by one so that zero
// denotes success.
const (
	InstrSuccess                            = 0
	InstrErrCodeInvalidArgument             = 2
	InstrErrCodeInvalidInstructionData      = 3
	InstrErrCodeInvalidAccountData          = 4
	InstrErrCodeAccountDataTooSmall         = 5
	InstrErrCodeInsufficientFunds           = 6
	InstrErrCodeIncorrectProgramId          = 7
	InstrErrCodeMissingRequiredSignature    = 8
	InstrErrCodeAccountAlreadyInitialized   = 9
	InstrErrCodeUninitializedAccount        = 10
	InstrErrCodeModifiedProgramId           = 12
	InstrErrCodeExternalAccountLamportSpend = 13
	InstrErrCodeExternalAccountDataModified = 14
	InstrErrCodeReadonlyLamportChange       = 15
	InstrErrCodeReadonlyDataModified        = 16
	InstrErrCodeNotEnoughAccountKeys        = 20
	InstrErrCodeAccountDataSizeChanged      = 21
	InstrErrCodeAccountNotExecutable        = 22
	InstrErrCodeAccountBorrowFailed         = 23
	InstrErrCodeCustom                      = 26
	InstrErrCodeExecutableDataModified      = 28
	InstrErrCodeExecutableLamportChange     = 29
	InstrErrCodeUnsupportedProgramId        = 31
	InstrErrCodeCallDepth                   = 32
	InstrErrCodeMissingAccount              = 33
	InstrErrCodeReentrancyNotAllowed        = 34
	InstrErrCodeInvalidSeeds                = 36
	InstrErrCodeInvalidRealloc              = 37
	InstrErrCodeComputationalBudgetExceeded = 38
	InstrErrCodePrivilegeEscalation         = 39
	InstrErrCodeInvalidAccountOwner         = 47
	InstrErrCodeArithmeticOverflow          = 48
	InstrErrCodeUnsupportedSysvar           = 49
	InstrErrCodeIllegalOwner                = 50
)

var instrErrCodes = map[error]int{
	InstrErrInvalidArgument:             InstrErrCodeInvalidArgument,
	InstrErrInvalidInstructionData:      InstrErrCodeInvalidInstructionData,
	InstrErrInvalidAccountData:          InstrErrCodeInvalidAccountData,
	InstrErrAccountDataTooSmall:         InstrErrCodeAccountDataTooSmall,
	InstrErrInsufficientFunds:           InstrErrCodeInsufficientFunds,
	InstrErrIncorrectProgramId:          InstrErrCodeIncorrectProgramId,
	InstrErrMissingRequiredSignature:    InstrErrCodeMissingRequiredSignature,
	InstrErrAccountAlreadyInitialized:   InstrErrCodeAccountAlreadyInitialized,
	InstrErrUninitializedAccount:        InstrErrCodeUninitializedAccount,
	InstrErrModifiedProgramId:           InstrErrCodeModifiedProgramId,
	InstrErrExternalAccountLamportSpend: InstrErrCodeExternalAccountLamportSpend,
	InstrErrExternalAccountDataModified: InstrErrCodeExternalAccountDataModified,
	InstrErrReadonlyLamportChange:       InstrErrCodeReadonlyLamportChange,
	InstrErrReadonlyDataModified:        InstrErrCodeReadonlyDataModified,
	InstrErrNotEnoughAccountKeys:        InstrErrCodeNotEnoughAccountKeys,
	InstrErrAccountDataSizeChanged:      InstrErrCodeAccountDataSizeChanged,
	InstrErrAccountNotExecutable:        InstrErrCodeAccountNotExecutable,
	InstrErrAccountBorrowFailed:         InstrErrCodeAccountBorrowFailed,
	InstrErrExecutableLamportChange:     InstrErrCodeExecutableLamportChange,
	InstrErrExecutableDataModified:      InstrErrCodeExecutableDataModified,
	InstrErrUnsupportedProgramId:        InstrErrCodeUnsupportedProgramId,
	InstrErrCallDepth:                   InstrErrCodeCallDepth,
	InstrErrMissingAccount:              InstrErrCodeMissingAccount,
	InstrErrReentrancyNotAllowed:        InstrErrCodeReentrancyNotAllowed,
	InstrErrComputationalBudgetExceeded: InstrErrCodeComputationalBudgetExceeded,
	InstrErrPrivilegeEscalation:         InstrErrCodePrivilegeEscalation,
	InstrErrInvalidAccountOwner:         InstrErrCodeInvalidAccountOwner,
	InstrErrArithmeticOverflow:          InstrErrCodeArithmeticOverflow,
	InstrErrUnsupportedSysvar:           InstrErrCodeUnsupportedSysvar,
	InstrErrIllegalOwner:                InstrErrCodeIllegalOwner,
	InstrErrInvalidSeeds:                InstrErrCodeInvalidSeeds,
	InstrErrInvalidRealloc:              InstrErrCodeInvalidRealloc,
}

// CustomError is implemented by program-specific errors that surface as
// InstructionError::Custom(code).
type CustomError interface {
	error
	Code() uint32
}

// InstrErrCode maps an instruction error to its numeric Solana code. For
// program-specific errors the second return value carries the custom code.
func InstrErrCode(err error) (int, uint32, bool) {
	var custom CustomError
	if errors.As(err, &custom) {
		return InstrErrCodeCustom, custom.Code(), true
	}
	for sentinel, code := range instrErrCodes {
		if errors.Is(err, sentinel) {
			return code, 0, true
		}
	}
	return 0, 0, false
}
