package sealevel

import (
	"github.com/gagliardetto/solana-go"
	"github.com/samber/lo"
	"go.firedancer.io/stakeledger/pkg/accounts"
	"go.firedancer.io/stakeledger/pkg/cu"
	"go.firedancer.io/stakeledger/pkg/pda"
	"k8s.io/klog/v2"
)

// ExecutionCtx carries the state needed to run a transaction's instructions:
// the transaction's working accounts, the sysvar cache, the compute meter
// and the program log.
type ExecutionCtx struct {
	Log                Logger
	Accounts           accounts.Accounts
	TransactionContext *TransactionCtx
	ComputeMeter       cu.ComputeMeter
}

// PrepareInstruction resolves the accounts of a cross-program invocation
// against the calling instruction. signers are the addresses the calling
// program signs for.
func (execCtx *ExecutionCtx) PrepareInstruction(ix Instruction, signers []solana.PublicKey) ([]InstructionAccount, []uint64, error) {
	txCtx := execCtx.TransactionContext

	callerCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return nil, nil, err
	}

	instrAccts, err := resolveInstructionAccounts(ix.Accounts, func(key solana.PublicKey) (uint64, uint64, error) {
		idxInTx, err := txCtx.IndexOfAccount(key)
		if err != nil {
			klog.Errorf("instruction references unknown account %s", key)
			return 0, 0, err
		}
		idxInCaller, err := callerCtx.IndexOfInstructionAccount(txCtx, key)
		return idxInTx, idxInCaller, err
	})
	if err != nil {
		return nil, nil, err
	}

	for pos, instrAcct := range instrAccts {
		if instrAcct.IndexInCallee != uint64(pos) {
			continue
		}
		if err = checkCalleePrivileges(txCtx, callerCtx, instrAcct, signers); err != nil {
			return nil, nil, err
		}
	}

	programAcctIdx, err := callerCtx.IndexOfInstructionAccount(txCtx, ix.ProgramId)
	if err != nil {
		klog.Errorf("unknown program %s", ix.ProgramId)
		return nil, nil, err
	}

	program, err := callerCtx.BorrowInstructionAccount(txCtx, programAcctIdx)
	if err != nil {
		return nil, nil, err
	}
	defer program.Drop()

	if !program.IsExecutable() {
		klog.Errorf("account %s is not executable", ix.ProgramId)
		return nil, nil, InstrErrAccountNotExecutable
	}

	return instrAccts, []uint64{program.IndexInTransaction}, nil
}

// checkCalleePrivileges rejects a callee account that is writable or signed
// without being so in the caller, unless the calling program signs for it.
func checkCalleePrivileges(txCtx *TransactionCtx, callerCtx *InstructionCtx, instrAcct InstructionAccount, signers []solana.PublicKey) error {
	acct, err := callerCtx.BorrowInstructionAccount(txCtx, instrAcct.IndexInCaller)
	if err != nil {
		return err
	}
	key, isWritable, isSigner := acct.Key(), acct.IsWritable(), acct.IsSigner()
	acct.Drop()

	if instrAcct.IsWritable && !isWritable {
		klog.Errorf("%s: writable privilege escalated", key)
		return InstrErrPrivilegeEscalation
	}
	if instrAcct.IsSigner && !isSigner && !lo.Contains(signers, key) {
		klog.Errorf("%s: signer privilege escalated", key)
		return InstrErrPrivilegeEscalation
	}
	return nil
}

func (execCtx *ExecutionCtx) ProcessInstruction(instrData []byte, instructionAccts []InstructionAccount, programIndices []uint64) error {
	instrCtx := new(InstructionCtx)
	instrCtx.Configure(programIndices, instructionAccts, instrData)

	err := execCtx.Push(instrCtx)
	if err != nil {
		return err
	}

	err1 := execCtx.ExecuteInstruction()

	err2 := execCtx.Pop()

	if err1 != nil {
		return err1
	} else if err2 != nil {
		return err2
	}

	return nil
}

func (execCtx *ExecutionCtx) ExecuteInstruction() error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	borrowedRootAccount, err := instrCtx.BorrowLastProgramAccount(txCtx)
	if err != nil {
		return InstrErrUnsupportedProgramId
	}
	ownerId := borrowedRootAccount.Owner()
	programId := borrowedRootAccount.Key()
	borrowedRootAccount.Drop()

	if ownerId != NativeLoaderAddr {
		klog.Errorf("program %s is not a builtin (owner %s)", programId, ownerId)
		return InstrErrUnsupportedProgramId
	}

	nativeProgramFn, err := resolveNativeProgramById(programId)
	if err != nil {
		return err
	}

	klog.V(2).Infof("calling native program %s (depth %d)", programId, txCtx.InstructionCtxStackHeight())
	return nativeProgramFn(execCtx)
}

func (execCtx *ExecutionCtx) Push(instrCtx *InstructionCtx) error {
	txCtx := execCtx.TransactionContext

	programId, err := instrCtx.LastProgramKey(txCtx)
	if err != nil {
		return InstrErrUnsupportedProgramId
	}
	instrCtx.programId = programId

	if txCtx.InstructionCtxStackHeight() != 0 {
		var contains bool
		for level := uint64(0); level < txCtx.InstructionCtxStackHeight(); level++ {
			ic, err := txCtx.InstructionCtxAtNestingLevel(level)
			if err == nil && ic.ProgramId() == programId {
				contains = true
				break
			}
		}

		current, err := txCtx.CurrentInstructionCtx()
		if err != nil {
			return err
		}
		isLast := current.ProgramId() == programId

		if contains && !isLast {
			return InstrErrReentrancyNotAllowed
		}
	}

	return txCtx.Push(instrCtx)
}

func (execCtx *ExecutionCtx) Pop() error {
	return execCtx.TransactionContext.Pop()
}

func (execCtx *ExecutionCtx) StackHeight() uint64 {
	return execCtx.TransactionContext.InstructionCtxStackHeight()
}

func (execCtx *ExecutionCtx) NativeInvoke(instruction Instruction, signers []solana.PublicKey) error {
	if err := execCtx.ComputeMeter.Consume(CUInvokeUnits); err != nil {
		return InstrErrComputationalBudgetExceeded
	}

	instrAccts, programIndices, err := execCtx.PrepareInstruction(instruction, signers)
	if err != nil {
		return err
	}

	return execCtx.ProcessInstruction(instruction.Data, instrAccts, programIndices)
}

// NativeInvokeSigned invokes instruction with the program-derived addresses
// generated from signerSeeds under the calling program's id as additional
// signers.
func (execCtx *ExecutionCtx) NativeInvokeSigned(instruction Instruction, signerSeeds [][][]byte) error {
	instrCtx, err := execCtx.TransactionContext.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	signers := make([]solana.PublicKey, 0, len(signerSeeds))
	for _, seeds := range signerSeeds {
		signer, err := pda.CreateProgramAddress(seeds, instrCtx.ProgramId())
		if err != nil {
			return InstrErrInvalidSeeds
		}
		signers = append(signers, signer)
	}

	return execCtx.NativeInvoke(instruction, signers)
}

func (execCtx *ExecutionCtx) consumeCompute(cost uint64) error {
	if err := execCtx.ComputeMeter.Consume(cost); err != nil {
		return InstrErrComputationalBudgetExceeded
	}
	return nil
}
