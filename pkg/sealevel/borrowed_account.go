package sealevel

import (
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/stakeledger/pkg/accounts"
	"go.firedancer.io/stakeledger/pkg/safemath"
)

type BorrowedAccount struct {
	TxCtx              *TransactionCtx
	InstrCtx           *InstructionCtx
	IndexInTransaction uint64
	IndexInInstruction uint64
	Account            *accounts.Account
}

func (acct *BorrowedAccount) Drop() {
	acct.TxCtx.Accounts.Unlock(acct.IndexInTransaction)
}

func (acct *BorrowedAccount) Key() solana.PublicKey {
	return acct.Account.Key
}

func (acct *BorrowedAccount) Owner() solana.PublicKey {
	return acct.Account.Owner
}

func (acct *BorrowedAccount) Lamports() uint64 {
	return acct.Account.Lamports
}

func (acct *BorrowedAccount) Data() []byte {
	return acct.Account.Data
}

func (acct *BorrowedAccount) IsExecutable() bool {
	return acct.Account.Executable
}

func (acct *BorrowedAccount) Touch() error {
	return acct.TxCtx.Accounts.Touch(acct.IndexInTransaction)
}

func (acct *BorrowedAccount) IsSigner() bool {
	instrCtx := acct.InstrCtx
	if acct.IndexInInstruction < instrCtx.NumberOfProgramAccounts() {
		return false
	}

	instrAcctIdx := safemath.SaturatingSubU64(acct.IndexInInstruction, instrCtx.NumberOfProgramAccounts())
	isSigner, err := instrCtx.IsInstructionAccountSigner(instrAcctIdx)
	if err != nil {
		return false
	}
	return isSigner
}

func (acct *BorrowedAccount) IsWritable() bool {
	instrCtx := acct.InstrCtx
	if acct.IndexInInstruction < instrCtx.NumberOfProgramAccounts() {
		return false
	}

	instrAcctIdx := safemath.SaturatingSubU64(acct.IndexInInstruction, instrCtx.NumberOfProgramAccounts())
	writable, err := instrCtx.IsInstructionAccountWritable(instrAcctIdx)
	if err != nil {
		return false
	}

	return writable
}

func (acct *BorrowedAccount) IsOwnedByCurrentProgram() bool {
	return acct.InstrCtx.ProgramId() == acct.Owner()
}

func (acct *BorrowedAccount) DataCanBeChanged() error {
	if acct.IsExecutable() {
		return InstrErrExecutableDataModified
	}
	if !acct.IsWritable() {
		return InstrErrReadonlyDataModified
	}
	if !acct.IsOwnedByCurrentProgram() {
		return InstrErrExternalAccountDataModified
	}
	return nil
}

// SetData overwrites the account data. The length of the data must not
// change; use SetDataLength to resize.
func (acct *BorrowedAccount) SetData(data []byte) error {
	if err := acct.DataCanBeChanged(); err != nil {
		return err
	}
	if len(data) != len(acct.Account.Data) {
		return InstrErrAccountDataSizeChanged
	}
	if err := acct.Touch(); err != nil {
		return err
	}
	copy(acct.Account.Data, data)
	return nil
}

func (acct *BorrowedAccount) SetDataLength(newLength uint64) error {
	if err := acct.DataCanBeChanged(); err != nil {
		return err
	}
	if newLength > MaxPermittedDataLength {
		return InstrErrInvalidRealloc
	}
	if uint64(len(acct.Account.Data)) == newLength {
		return nil
	}
	if err := acct.Touch(); err != nil {
		return err
	}
	resized := make([]byte, newLength)
	copy(resized, acct.Account.Data)
	acct.Account.Data = resized
	return nil
}

func (acct *BorrowedAccount) SetOwner(owner solana.PublicKey) error {
	if !acct.IsOwnedByCurrentProgram() {
		return InstrErrModifiedProgramId
	}
	if !acct.IsWritable() {
		return InstrErrModifiedProgramId
	}
	if acct.IsExecutable() {
		return InstrErrModifiedProgramId
	}
	for _, b := range acct.Data() {
		if b != 0 {
			return InstrErrModifiedProgramId
		}
	}
	if acct.Owner() == owner {
		return nil
	}
	if err := acct.Touch(); err != nil {
		return err
	}
	acct.Account.Owner = owner
	return nil
}

func (acct *BorrowedAccount) SetLamports(lamports uint64) error {
	if !acct.IsOwnedByCurrentProgram() && lamports < acct.Lamports() {
		return InstrErrExternalAccountLamportSpend
	}
	if !acct.IsWritable() {
		return InstrErrReadonlyLamportChange
	}
	if acct.IsExecutable() {
		return InstrErrExecutableLamportChange
	}
	if acct.Lamports() == lamports {
		return nil
	}
	if err := acct.Touch(); err != nil {
		return err
	}
	acct.Account.Lamports = lamports
	return nil
}

func (acct *BorrowedAccount) CheckedAddLamports(lamports uint64) error {
	balance, err := safemath.CheckedAddU64(acct.Lamports(), lamports)
	if err != nil {
		return InstrErrArithmeticOverflow
	}
	return acct.SetLamports(balance)
}

func (acct *BorrowedAccount) CheckedSubLamports(lamports uint64) error {
	balance, err := safemath.CheckedSubU64(acct.Lamports(), lamports)
	if err != nil {
		return InstrErrArithmeticOverflow
	}
	return acct.SetLamports(balance)
}
