package sealevel

import (
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/stakeledger/pkg/base58"
)

const NativeLoaderAddrStr = "NativeLoader1111111111111111111111111111111"

var NativeLoaderAddr = solana.PublicKey(base58.MustDecodeFromString(NativeLoaderAddrStr))

const SystemProgramAddrStr = "11111111111111111111111111111111"

var SystemProgramAddr = solana.PublicKey(base58.MustDecodeFromString(SystemProgramAddrStr))

const TokenProgramAddrStr = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

var TokenProgramAddr = solana.PublicKey(base58.MustDecodeFromString(TokenProgramAddrStr))

const AssociatedTokenProgramAddrStr = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"

var AssociatedTokenProgramAddr = solana.PublicKey(base58.MustDecodeFromString(AssociatedTokenProgramAddrStr))

const StakingProgramAddrStr = "StakeLedger11111111111111111111111111111111"

var StakingProgramAddr = solana.PublicKey(base58.MustDecodeFromString(StakingProgramAddrStr))

const SysvarOwnerAddrStr = "Sysvar1111111111111111111111111111111111111"

var SysvarOwnerAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarOwnerAddrStr))

// compute units charged on entry to each builtin
const (
	CUSystemProgramDefaultComputeUnits   = 150
	CUTokenProgramDefaultComputeUnits    = 2000
	CUAssociatedTokenDefaultComputeUnits = 1500
	CUStakingProgramDefaultComputeUnits  = 3000
	CUInvokeUnits                        = 1000
)

// NativePrograms lists the builtin program ids the runtime can dispatch to.
var NativePrograms = []solana.PublicKey{
	SystemProgramAddr,
	TokenProgramAddr,
	AssociatedTokenProgramAddr,
	StakingProgramAddr,
}

func IsNativeProgram(programId solana.PublicKey) bool {
	_, err := resolveNativeProgramById(programId)
	return err == nil
}

func resolveNativeProgramById(programId solana.PublicKey) (func(ctx *ExecutionCtx) error, error) {
	switch programId {
	case SystemProgramAddr:
		return SystemProgramExecute, nil
	case TokenProgramAddr:
		return TokenProgramExecute, nil
	case AssociatedTokenProgramAddr:
		return AssociatedTokenProgramExecute, nil
	case StakingProgramAddr:
		return StakingProgramExecute, nil
	}

	return nil, InstrErrUnsupportedProgramId
}

func verifySigner(authorized solana.PublicKey, signers []solana.PublicKey) error {
	for _, signer := range signers {
		if signer == authorized {
			return nil
		}
	}
	return InstrErrMissingRequiredSignature
}
