package sealevel

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.firedancer.io/stakeledger/pkg/accounts"
	"go.firedancer.io/stakeledger/pkg/cu"
)

// testBank runs single instructions against an in-memory account set and
// keeps the touched accounts of every successful instruction.
type testBank struct {
	t     *testing.T
	accts map[solana.PublicKey]accounts.Account
	now   int64
	rent  SysvarRent
	logs  LogRecorder
	cu    uint64
}

func newTestBank(t *testing.T) *testBank {
	return &testBank{
		t:     t,
		accts: make(map[solana.PublicKey]accounts.Account),
		now:   1_700_000_000,
		rent:  DefaultRent(),
	}
}

func nativeProgramAccount(key solana.PublicKey) accounts.Account {
	return accounts.Account{Key: key, Lamports: 1, Owner: NativeLoaderAddr, Executable: true}
}

func (bank *testBank) account(key solana.PublicKey) accounts.Account {
	if acct, ok := bank.accts[key]; ok {
		return *acct.Clone()
	}
	if IsNativeProgram(key) {
		return nativeProgramAccount(key)
	}
	switch key {
	case SysvarRentAddr:
		return *NewSysvarAccount(SysvarRentAddr, bank.rent.Marshal())
	case SysvarClockAddr:
		return *NewSysvarAccount(SysvarClockAddr, (&SysvarClock{UnixTimestamp: bank.now}).Marshal())
	}
	return accounts.Account{Key: key, Owner: SystemProgramAddr}
}

func (bank *testBank) set(acct accounts.Account) {
	bank.accts[acct.Key] = acct
}

func (bank *testBank) execute(instr *Instruction) error {
	keys := []solana.PublicKey{instr.ProgramId}
	for _, meta := range instr.Accounts {
		seen := false
		for _, key := range keys {
			if key == meta.Pubkey {
				seen = true
				break
			}
		}
		if !seen {
			keys = append(keys, meta.Pubkey)
		}
	}

	txAccts := make([]accounts.Account, len(keys))
	for idx, key := range keys {
		txAccts[idx] = bank.account(key)
	}
	transactionAccts := NewTransactionAccounts(txAccts)

	instrAccts, err := InstructionAccountsFromMetas(instr.Accounts, transactionAccts)
	require.NoError(bank.t, err)

	sysvars := accounts.NewMemAccounts()
	require.NoError(bank.t, WriteClockSysvar(sysvars, SysvarClock{UnixTimestamp: bank.now}))
	require.NoError(bank.t, WriteRentSysvar(sysvars, bank.rent))

	bank.logs = LogRecorder{}
	execCtx := ExecutionCtx{
		Log:                &bank.logs,
		Accounts:           sysvars,
		TransactionContext: NewTransactionCtx(transactionAccts, 0),
		ComputeMeter:       cu.NewComputeMeterDefault(),
	}

	err = execCtx.ProcessInstruction(instr.Data, instrAccts, []uint64{0})
	bank.cu = execCtx.ComputeMeter.Used()
	if err != nil {
		return err
	}

	for _, acct := range transactionAccts.TouchedAccounts() {
		bank.accts[acct.Key] = *acct.Clone()
	}
	return nil
}

func (bank *testBank) fund(key solana.PublicKey, lamports uint64) {
	acct := bank.account(key)
	acct.Lamports = lamports
	bank.set(acct)
}

func (bank *testBank) createMint(authority solana.PublicKey) solana.PublicKey {
	mintKey := solana.NewWallet().PublicKey()
	mint := TokenMint{MintAuthority: &authority, Decimals: 6, IsInitialized: true}
	bank.set(accounts.Account{
		Key:      mintKey,
		Lamports: bank.rent.MinimumBalance(TokenMintSize),
		Data:     mint.Marshal(),
		Owner:    TokenProgramAddr,
	})
	return mintKey
}

// createFundedAta creates wallet's associated token account for mint and
// mints amount tokens into it.
func (bank *testBank) createFundedAta(wallet, mint, mintAuthority solana.PublicKey, amount uint64) solana.PublicKey {
	payer := solana.NewWallet().PublicKey()
	bank.fund(payer, 1_000_000_000)
	require.NoError(bank.t, bank.execute(NewCreateAssociatedTokenAccountInstruction(payer, wallet, mint)))

	ata := mustFindAssociatedTokenAddress(wallet, mint)
	if amount > 0 {
		require.NoError(bank.t, bank.execute(NewTokenMintToInstruction(mint, ata, mintAuthority, amount)))
	}
	return ata
}

func (bank *testBank) tokenAccount(key solana.PublicKey) *TokenAccount {
	acct, ok := bank.accts[key]
	require.True(bank.t, ok, "token account %s missing", key)
	ta, err := UnmarshalTokenAccount(acct.Data)
	require.NoError(bank.t, err)
	return ta
}

func (bank *testBank) tokenBalance(key solana.PublicKey) uint64 {
	return bank.tokenAccount(key).Amount
}
