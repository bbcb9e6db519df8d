package sealevel

import (
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/stakeledger/pkg/pda"
	"k8s.io/klog/v2"
)

const (
	AssociatedTokenInstrTypeCreate = iota
	AssociatedTokenInstrTypeCreateIdempotent
)

// FindAssociatedTokenAddress derives the canonical token account address for
// (wallet, mint).
func FindAssociatedTokenAddress(wallet, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return pda.FindProgramAddress([][]byte{wallet[:], TokenProgramAddr[:], mint[:]}, AssociatedTokenProgramAddr)
}

func newAssociatedTokenInstruction(instrType byte, payer, ata, wallet, mint solana.PublicKey) *Instruction {
	return &Instruction{
		Accounts: []AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: ata, IsWritable: true},
			{Pubkey: wallet},
			{Pubkey: mint},
			{Pubkey: SystemProgramAddr},
			{Pubkey: TokenProgramAddr},
		},
		Data:      []byte{instrType},
		ProgramId: AssociatedTokenProgramAddr,
	}
}

func NewCreateAssociatedTokenAccountInstruction(payer, wallet, mint solana.PublicKey) *Instruction {
	return newAssociatedTokenInstruction(AssociatedTokenInstrTypeCreate, payer, mustFindAssociatedTokenAddress(wallet, mint), wallet, mint)
}

func NewCreateIdempotentAssociatedTokenAccountInstruction(payer, wallet, mint solana.PublicKey) *Instruction {
	return newAssociatedTokenInstruction(AssociatedTokenInstrTypeCreateIdempotent, payer, mustFindAssociatedTokenAddress(wallet, mint), wallet, mint)
}

func AssociatedTokenProgramExecute(execCtx *ExecutionCtx) error {
	err := execCtx.consumeCompute(CUAssociatedTokenDefaultComputeUnits)
	if err != nil {
		return err
	}

	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	instrType := byte(AssociatedTokenInstrTypeCreate)
	switch len(instrCtx.Data) {
	case 0:
	case 1:
		instrType = instrCtx.Data[0]
	default:
		return InstrErrInvalidInstructionData
	}
	if instrType > AssociatedTokenInstrTypeCreateIdempotent {
		return InstrErrInvalidInstructionData
	}

	err = instrCtx.CheckNumOfInstructionAccounts(6)
	if err != nil {
		return err
	}

	var keys [6]solana.PublicKey
	for idx := range keys {
		keys[idx], err = instrCtx.InstructionAccountKey(txCtx, uint64(idx))
		if err != nil {
			return err
		}
	}
	payer, ataKey, wallet, mint, tokenProgram := keys[0], keys[1], keys[2], keys[3], keys[5]

	if tokenProgram != TokenProgramAddr {
		return InstrErrIncorrectProgramId
	}

	expected, bump, err := FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return InstrErrInvalidSeeds
	}
	if expected != ataKey {
		klog.Errorf("associated token address mismatch: got %s, expected %s", ataKey, expected)
		return InstrErrInvalidSeeds
	}

	ataAcct, err := instrCtx.BorrowInstructionAccount(txCtx, 1)
	if err != nil {
		return err
	}
	owner := ataAcct.Owner()
	ataAcct.Drop()

	if instrType == AssociatedTokenInstrTypeCreateIdempotent && owner == TokenProgramAddr {
		existing, _, err := readInitializedTokenAccount(execCtx, 1)
		if err != nil {
			return err
		}
		if existing.Owner != wallet {
			return InstrErrIllegalOwner
		}
		if existing.Mint != mint {
			return TokenErrMintMismatch
		}
		return nil
	}

	if owner != SystemProgramAddr {
		return InstrErrIllegalOwner
	}

	rent, err := ReadRentSysvar(execCtx.Accounts)
	if err != nil {
		return err
	}

	createInstr := newCreateAccountInstruction(payer, ataKey, rent.MinimumBalance(TokenAccountSize), TokenAccountSize, TokenProgramAddr)
	seeds := [][]byte{wallet[:], TokenProgramAddr[:], mint[:], {bump}}
	err = execCtx.NativeInvokeSigned(*createInstr, [][][]byte{seeds})
	if err != nil {
		return err
	}

	return execCtx.NativeInvoke(*NewInitializeAccount3Instruction(ataKey, mint, wallet), nil)
}
