package sealevel

import (
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/stakeledger/pkg/accounts"
)

const DefaultMaxInstructionStackDepth = 5

type TransactionCtx struct {
	Accounts         *TransactionAccounts
	instructionStack []*InstructionCtx
	maxStackDepth    uint64
}

func NewTransactionCtx(txAccts *TransactionAccounts, maxStackDepth uint64) *TransactionCtx {
	if maxStackDepth == 0 {
		maxStackDepth = DefaultMaxInstructionStackDepth
	}
	return &TransactionCtx{Accounts: txAccts, maxStackDepth: maxStackDepth}
}

func (txCtx *TransactionCtx) InstructionCtxStackHeight() uint64 {
	return uint64(len(txCtx.instructionStack))
}

func (txCtx *TransactionCtx) CurrentInstructionCtx() (*InstructionCtx, error) {
	if len(txCtx.instructionStack) == 0 {
		return nil, InstrErrCallDepth
	}
	return txCtx.instructionStack[len(txCtx.instructionStack)-1], nil
}

func (txCtx *TransactionCtx) InstructionCtxAtNestingLevel(level uint64) (*InstructionCtx, error) {
	if level >= txCtx.InstructionCtxStackHeight() {
		return nil, InstrErrCallDepth
	}
	return txCtx.instructionStack[level], nil
}

func (txCtx *TransactionCtx) Push(instrCtx *InstructionCtx) error {
	if txCtx.InstructionCtxStackHeight() >= txCtx.maxStackDepth {
		return InstrErrCallDepth
	}
	txCtx.instructionStack = append(txCtx.instructionStack, instrCtx)
	return nil
}

func (txCtx *TransactionCtx) Pop() error {
	if len(txCtx.instructionStack) == 0 {
		return InstrErrCallDepth
	}
	txCtx.instructionStack = txCtx.instructionStack[:len(txCtx.instructionStack)-1]
	return nil
}

func (txCtx *TransactionCtx) IndexOfAccount(pubkey solana.PublicKey) (uint64, error) {
	idx, ok := txCtx.Accounts.IndexOf(pubkey)
	if !ok {
		return 0, InstrErrMissingAccount
	}
	return idx, nil
}

func (txCtx *TransactionCtx) KeyOfAccountAtIndex(index uint64) (solana.PublicKey, error) {
	acct, err := txCtx.Accounts.GetAccount(index)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return acct.Key, nil
}

func (txCtx *TransactionCtx) AccountAtIndex(index uint64) (*accounts.Account, error) {
	return txCtx.Accounts.GetAccount(index)
}
