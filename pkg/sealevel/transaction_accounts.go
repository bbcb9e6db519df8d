package sealevel

import (
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/stakeledger/pkg/accounts"
)

// TransactionAccounts holds the working copies of every account referenced
// by a transaction. Touched marks accounts that were written and must be
// committed. An account can be borrowed by at most one BorrowedAccount at a
// time.
type TransactionAccounts struct {
	Accounts []*accounts.Account
	Touched  []bool
	locked   []bool
}

func NewTransactionAccounts(accts []accounts.Account) *TransactionAccounts {
	txAccounts := &TransactionAccounts{
		Accounts: make([]*accounts.Account, 0, len(accts)),
		Touched:  make([]bool, len(accts)),
		locked:   make([]bool, len(accts)),
	}
	for idx := range accts {
		txAccounts.Accounts = append(txAccounts.Accounts, accts[idx].Clone())
	}
	return txAccounts
}

func (txAccounts *TransactionAccounts) Len() uint64 {
	return uint64(len(txAccounts.Accounts))
}

// GetAccount returns the account at idx without borrowing it.
func (txAccounts *TransactionAccounts) GetAccount(idx uint64) (*accounts.Account, error) {
	if idx >= txAccounts.Len() {
		return nil, InstrErrNotEnoughAccountKeys
	}
	return txAccounts.Accounts[idx], nil
}

func (txAccounts *TransactionAccounts) Lock(idx uint64) (*accounts.Account, error) {
	if idx >= txAccounts.Len() {
		return nil, InstrErrNotEnoughAccountKeys
	}
	if txAccounts.locked[idx] {
		return nil, InstrErrAccountBorrowFailed
	}
	txAccounts.locked[idx] = true
	return txAccounts.Accounts[idx], nil
}

func (txAccounts *TransactionAccounts) Unlock(idx uint64) {
	if idx < txAccounts.Len() {
		txAccounts.locked[idx] = false
	}
}

func (txAccounts *TransactionAccounts) Touch(idx uint64) error {
	if idx >= txAccounts.Len() {
		return InstrErrNotEnoughAccountKeys
	}
	txAccounts.Touched[idx] = true
	return nil
}

// TouchedAccounts returns the accounts written during execution.
func (txAccounts *TransactionAccounts) TouchedAccounts() []*accounts.Account {
	var touched []*accounts.Account
	for idx, acct := range txAccounts.Accounts {
		if txAccounts.Touched[idx] {
			touched = append(touched, acct)
		}
	}
	return touched
}

func (txAccounts *TransactionAccounts) IndexOf(pubkey solana.PublicKey) (uint64, bool) {
	for idx, acct := range txAccounts.Accounts {
		if acct.Key == pubkey {
			return uint64(idx), true
		}
	}
	return 0, false
}

// accountResolver maps an account key to its index in the transaction and
// in the calling instruction.
type accountResolver func(key solana.PublicKey) (idxInTx uint64, idxInCaller uint64, err error)

// resolveInstructionAccounts builds the instruction accounts of metas.
// Repeated keys point at their first position and share the signer and
// writable flags of all their metas.
func resolveInstructionAccounts(metas []AccountMeta, resolve accountResolver) ([]InstructionAccount, error) {
	instrAccts := make([]InstructionAccount, 0, len(metas))

	for instrAcctIdx, meta := range metas {
		idxInTx, idxInCaller, err := resolve(meta.Pubkey)
		if err != nil {
			return nil, err
		}

		idxInCallee := uint64(instrAcctIdx)
		for pos := range instrAccts {
			if instrAccts[pos].IndexInTransaction == idxInTx {
				idxInCallee = uint64(pos)
				break
			}
		}

		instrAccts = append(instrAccts, InstructionAccount{
			IndexInTransaction: idxInTx,
			IndexInCaller:      idxInCaller,
			IndexInCallee:      idxInCallee,
			IsSigner:           meta.IsSigner,
			IsWritable:         meta.IsWritable,
		})
	}

	for idx := range instrAccts {
		first := &instrAccts[instrAccts[idx].IndexInCallee]
		first.IsSigner = first.IsSigner || instrAccts[idx].IsSigner
		first.IsWritable = first.IsWritable || instrAccts[idx].IsWritable
	}
	for idx := range instrAccts {
		first := instrAccts[instrAccts[idx].IndexInCallee]
		instrAccts[idx].IsSigner = first.IsSigner
		instrAccts[idx].IsWritable = first.IsWritable
	}

	return instrAccts, nil
}

// InstructionAccountsFromMetas resolves top-level account metas against the
// transaction's accounts.
func InstructionAccountsFromMetas(metas []AccountMeta, txAccounts *TransactionAccounts) ([]InstructionAccount, error) {
	return resolveInstructionAccounts(metas, func(key solana.PublicKey) (uint64, uint64, error) {
		idx, ok := txAccounts.IndexOf(key)
		if !ok {
			return 0, 0, InstrErrMissingAccount
		}
		return idx, idx, nil
	})
}
