// Package ledger executes transactions against an account store. Each
// transaction runs on working copies of its accounts and is committed in
// full or not at all.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"go.firedancer.io/stakeledger/pkg/accounts"
	"go.firedancer.io/stakeledger/pkg/cu"
	"go.firedancer.io/stakeledger/pkg/sealevel"
	"k8s.io/klog/v2"
)

var (
	ErrEmptyTransaction = errors.New("transaction has no instructions")
	ErrRecordNotFound   = errors.New("record not found")
)

// Transaction is an ordered list of instructions together with the keys
// that signed it.
type Transaction struct {
	Instructions []sealevel.Instruction
	Signers      []solana.PublicKey
}

type TransactionResult struct {
	Slot                 uint64
	Logs                 []string
	ComputeUnitsConsumed uint64
}

// InstructionError reports the instruction a failed transaction stopped at.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d failed: %s", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

type Ledger struct {
	mu      sync.Mutex
	store   accounts.Accounts
	clock   Clock
	cfg     Config
	rent    sealevel.SysvarRent
	metrics *metrics
	slot    uint64
	digest  [32]byte
}

func New(store accounts.Accounts, clock Clock, cfg Config, reg prometheus.Registerer) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		store:   store,
		clock:   clock,
		cfg:     cfg,
		rent:    cfg.rentSysvar(),
		metrics: m,
	}, nil
}

// ProcessTransaction executes tx. On success every account written by the
// transaction is committed to the store; on failure nothing is. Logs and
// compute usage are returned in both cases.
func (l *Ledger) ProcessTransaction(ctx context.Context, tx *Transaction) (*TransactionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tx.Instructions) == 0 {
		return nil, ErrEmptyTransaction
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.processTransaction(tx)
	l.metrics.observeTransaction(result, err)
	return result, err
}

func (l *Ledger) processTransaction(tx *Transaction) (*TransactionResult, error) {
	instrs, err := resolveSigners(tx)
	if err != nil {
		return nil, err
	}

	sysvars := accounts.NewMemAccounts()
	clock := sealevel.SysvarClock{Slot: l.slot, UnixTimestamp: l.clock.Now()}
	if err = sealevel.WriteClockSysvar(sysvars, clock); err != nil {
		return nil, err
	}
	if err = sealevel.WriteRentSysvar(sysvars, l.rent); err != nil {
		return nil, err
	}

	txAccts, err := l.loadAccounts(transactionKeys(instrs), sysvars)
	if err != nil {
		return nil, err
	}

	var log sealevel.LogRecorder
	execCtx := &sealevel.ExecutionCtx{
		Log:                &log,
		Accounts:           sysvars,
		TransactionContext: sealevel.NewTransactionCtx(txAccts, l.cfg.MaxInstructionStackDepth),
		ComputeMeter:       cu.NewComputeMeter(l.cfg.ComputeUnitLimit),
	}

	result := &TransactionResult{Slot: l.slot}
	for idx, instr := range instrs {
		err = executeInstruction(execCtx, instr)
		l.metrics.observeInstruction(instr, err)
		if err != nil {
			result.Logs = log.Logs
			result.ComputeUnitsConsumed = execCtx.ComputeMeter.Used()
			klog.V(2).Infof("transaction failed at instruction %d (%s): %s", idx, programLabel(instr.ProgramId), err)
			return result, &InstructionError{Index: idx, Err: err}
		}
	}
	result.Logs = log.Logs
	result.ComputeUnitsConsumed = execCtx.ComputeMeter.Used()

	committed := committableAccounts(txAccts)
	if err = l.store.SetAccounts(committed); err != nil {
		return result, fmt.Errorf("committing transaction: %w", err)
	}

	l.digest = nextDigest(l.digest, deltaHash(committed), l.slot)
	l.metrics.observeCommit(committed)
	klog.V(2).Infof("slot %d: committed %d accounts, %d CUs", l.slot, len(committed), result.ComputeUnitsConsumed)
	l.slot++

	return result, nil
}

// resolveSigners checks that every account an instruction requires to sign
// did sign, and marks every signing key as a signer wherever it appears.
func resolveSigners(tx *Transaction) ([]sealevel.Instruction, error) {
	instrs := make([]sealevel.Instruction, len(tx.Instructions))
	for idx, instr := range tx.Instructions {
		for _, meta := range instr.Accounts {
			if meta.IsSigner && !lo.Contains(tx.Signers, meta.Pubkey) {
				klog.Errorf("instruction %d: %s did not sign", idx, meta.Pubkey)
				return nil, &InstructionError{Index: idx, Err: sealevel.InstrErrMissingRequiredSignature}
			}
		}

		instr.Accounts = lo.Map(instr.Accounts, func(meta sealevel.AccountMeta, _ int) sealevel.AccountMeta {
			meta.IsSigner = lo.Contains(tx.Signers, meta.Pubkey)
			return meta
		})
		instrs[idx] = instr
	}
	return instrs, nil
}

func transactionKeys(instrs []sealevel.Instruction) []solana.PublicKey {
	var keys []solana.PublicKey
	for _, instr := range instrs {
		keys = append(keys, instr.ProgramId)
		for _, meta := range instr.Accounts {
			keys = append(keys, meta.Pubkey)
		}
	}
	return lo.Uniq(keys)
}

func (l *Ledger) loadAccounts(keys []solana.PublicKey, sysvars accounts.Accounts) (*sealevel.TransactionAccounts, error) {
	accts := make([]accounts.Account, 0, len(keys))

	for _, key := range keys {
		if sealevel.IsNativeProgram(key) {
			accts = append(accts, accounts.Account{Key: key, Lamports: 1, Owner: sealevel.NativeLoaderAddr, Executable: true})
			continue
		}

		if sysvar, err := sysvars.GetAccount(&key); err == nil {
			accts = append(accts, *sysvar)
			continue
		}

		acct, err := l.store.GetAccount(&key)
		if errors.Is(err, accounts.ErrNoAccount) {
			acct = &accounts.Account{Key: key, Owner: sealevel.SystemProgramAddr}
		} else if err != nil {
			return nil, fmt.Errorf("loading account %s: %w", key, err)
		}
		accts = append(accts, *acct)
	}

	return sealevel.NewTransactionAccounts(accts), nil
}

func executeInstruction(execCtx *sealevel.ExecutionCtx, instr sealevel.Instruction) error {
	txAccts := execCtx.TransactionContext.Accounts

	instrAccts, err := sealevel.InstructionAccountsFromMetas(instr.Accounts, txAccts)
	if err != nil {
		return err
	}

	programIdx, ok := txAccts.IndexOf(instr.ProgramId)
	if !ok {
		return sealevel.InstrErrUnsupportedProgramId
	}

	return execCtx.ProcessInstruction(instr.Data, instrAccts, []uint64{programIdx})
}

func committableAccounts(txAccts *sealevel.TransactionAccounts) []*accounts.Account {
	var committed []*accounts.Account
	for _, acct := range txAccts.TouchedAccounts() {
		if sealevel.IsNativeProgram(acct.Key) || acct.Owner == sealevel.SysvarOwnerAddr {
			continue
		}
		committed = append(committed, acct.Clone())
	}
	return committed
}

// Digest is the running hash over every commit made by this ledger.
func (l *Ledger) Digest() [32]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.digest
}

// Slot is the number of transactions committed so far.
func (l *Ledger) Slot() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot
}

func (l *Ledger) Rent() sealevel.SysvarRent {
	return l.rent
}

func (l *Ledger) Account(key solana.PublicKey) (*accounts.Account, error) {
	return l.store.GetAccount(&key)
}

func (l *Ledger) programRecord(key solana.PublicKey) ([]byte, error) {
	acct, err := l.store.GetAccount(&key)
	if errors.Is(err, accounts.ErrNoAccount) {
		return nil, ErrRecordNotFound
	} else if err != nil {
		return nil, err
	}
	if acct.Owner != sealevel.StakingProgramAddr {
		return nil, ErrRecordNotFound
	}
	return acct.Data, nil
}

// Pool returns the staking pool of mint.
func (l *Ledger) Pool(mint solana.PublicKey) (*sealevel.StakingPool, error) {
	key, _, err := sealevel.FindStakingPoolAddress(sealevel.StakingProgramAddr, mint)
	if err != nil {
		return nil, err
	}
	data, err := l.programRecord(key)
	if err != nil {
		return nil, err
	}
	return sealevel.UnmarshalStakingPool(data)
}

// UserStake returns owner's position in the pool of mint.
func (l *Ledger) UserStake(mint, owner solana.PublicKey) (*sealevel.UserStake, error) {
	pool, _, err := sealevel.FindStakingPoolAddress(sealevel.StakingProgramAddr, mint)
	if err != nil {
		return nil, err
	}
	key, _, err := sealevel.FindUserStakeAddress(sealevel.StakingProgramAddr, pool, owner)
	if err != nil {
		return nil, err
	}
	data, err := l.programRecord(key)
	if err != nil {
		return nil, err
	}
	return sealevel.UnmarshalUserStake(data)
}

func (l *Ledger) TokenBalance(key solana.PublicKey) (uint64, error) {
	acct, err := l.store.GetAccount(&key)
	if errors.Is(err, accounts.ErrNoAccount) {
		return 0, ErrRecordNotFound
	} else if err != nil {
		return 0, err
	}
	if acct.Owner != sealevel.TokenProgramAddr {
		return 0, ErrRecordNotFound
	}
	ta, err := sealevel.UnmarshalTokenAccount(acct.Data)
	if err != nil {
		return 0, err
	}
	return ta.Amount, nil
}
