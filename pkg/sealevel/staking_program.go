package sealevel

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/stakeledger/pkg/safemath"
	"k8s.io/klog/v2"
)

// instruction account positions
const (
	initPoolAcctPayer = iota
	initPoolAcctAuthority
	initPoolAcctPool
	initPoolAcctMint
	initPoolAcctVault
	initPoolAcctTokenProgram
	initPoolAcctAtaProgram
	initPoolAcctSystemProgram
	initPoolAcctRent
	initPoolNumAccts
)

const (
	updateConfigAcctAuthority = iota
	updateConfigAcctPool
	updateConfigNumAccts
)

const (
	initUserAcctPayer = iota
	initUserAcctUser
	initUserAcctPool
	initUserAcctUserStake
	initUserAcctSystemProgram
	initUserAcctRent
	initUserNumAccts
)

const (
	stakeAcctUser = iota
	stakeAcctUserAta
	stakeAcctMint
	stakeAcctPool
	stakeAcctUserStake
	stakeAcctVault
	stakeAcctTokenProgram
	stakeNumAccts
)

// shared by ClaimRewards and Unstake
const (
	settleAcctUser = iota
	settleAcctUserAta
	settleAcctMint
	settleAcctUserStake
	settleAcctPool
	settleAcctVault
	settleAcctTokenProgram
	settleNumAccts
)

// poolSigner is the capability to authorize on behalf of a pool address.
// It can only be obtained by re-deriving the pool address from its mint.
type poolSigner struct {
	address solana.PublicKey
	bump    uint8
	seeds   [][]byte
}

func derivePoolSigner(programId, mint, pool solana.PublicKey) (*poolSigner, error) {
	expected, bump, err := FindStakingPoolAddress(programId, mint)
	if err != nil {
		return nil, InstrErrInvalidSeeds
	}
	if expected != pool {
		klog.Errorf("pool address mismatch for mint %s: got %s, expected %s", mint, pool, expected)
		return nil, InstrErrInvalidArgument
	}
	return &poolSigner{
		address: expected,
		bump:    bump,
		seeds:   [][]byte{[]byte(StakingPoolSeed), mint[:], {bump}},
	}, nil
}

// transfer moves amount tokens out of the pool's vault.
func (signer *poolSigner) transfer(execCtx *ExecutionCtx, vault, destination solana.PublicKey, amount uint64) error {
	instr := NewTokenTransferInstruction(vault, destination, signer.address, amount)
	return execCtx.NativeInvokeSigned(*instr, [][][]byte{signer.seeds})
}

func (signer *poolSigner) createPoolAccount(execCtx *ExecutionCtx, payer solana.PublicKey, lamports uint64) error {
	return createProgramAccount(execCtx, payer, signer.address, lamports, StakingPoolSize, signer.seeds)
}

func createProgramAccount(execCtx *ExecutionCtx, payer, address solana.PublicKey, lamports uint64, space uint64, seeds [][]byte) error {
	instrCtx, err := execCtx.TransactionContext.CurrentInstructionCtx()
	if err != nil {
		return err
	}
	instr := newCreateAccountInstruction(payer, address, lamports, space, instrCtx.ProgramId())
	return execCtx.NativeInvokeSigned(*instr, [][][]byte{seeds})
}

// accountSnapshot is a copy of an instruction account taken without holding
// a borrow.
type accountSnapshot struct {
	key      solana.PublicKey
	owner    solana.PublicKey
	lamports uint64
	data     []byte
	isSigner bool
}

func snapshotAccount(execCtx *ExecutionCtx, instrAcctIdx uint64) (accountSnapshot, error) {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return accountSnapshot{}, err
	}

	acct, err := instrCtx.BorrowInstructionAccount(txCtx, instrAcctIdx)
	if err != nil {
		return accountSnapshot{}, err
	}
	defer acct.Drop()

	return accountSnapshot{
		key:      acct.Key(),
		owner:    acct.Owner(),
		lamports: acct.Lamports(),
		data:     append([]byte(nil), acct.Data()...),
		isSigner: acct.IsSigner(),
	}, nil
}

func snapshotAccounts(execCtx *ExecutionCtx, count uint64) ([]accountSnapshot, error) {
	snapshots := make([]accountSnapshot, count)
	for idx := range snapshots {
		snapshot, err := snapshotAccount(execCtx, uint64(idx))
		if err != nil {
			return nil, err
		}
		snapshots[idx] = snapshot
	}
	return snapshots, nil
}

// writeRecord stores an encoded record at the start of an account's data.
func writeRecord(execCtx *ExecutionCtx, instrAcctIdx uint64, record []byte) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	acct, err := instrCtx.BorrowInstructionAccount(txCtx, instrAcctIdx)
	if err != nil {
		return err
	}
	defer acct.Drop()

	if len(acct.Data()) < len(record) {
		return InstrErrAccountDataTooSmall
	}
	data := append([]byte(nil), acct.Data()...)
	copy(data, record)
	return acct.SetData(data)
}

func loadStakingPool(programId solana.PublicKey, acct accountSnapshot) (*StakingPool, error) {
	if len(acct.data) == 0 {
		return nil, InstrErrUninitializedAccount
	}
	if acct.owner != programId {
		return nil, InstrErrInvalidAccountOwner
	}
	return UnmarshalStakingPool(acct.data)
}

func loadUserStake(programId solana.PublicKey, acct accountSnapshot) (*UserStake, error) {
	if len(acct.data) == 0 {
		return nil, InstrErrUninitializedAccount
	}
	if acct.owner != programId {
		return nil, InstrErrInvalidAccountOwner
	}
	return UnmarshalUserStake(acct.data)
}

func loadTokenAccount(acct accountSnapshot) (*TokenAccount, error) {
	if acct.owner != TokenProgramAddr {
		return nil, InstrErrInvalidAccountData
	}
	ta, err := UnmarshalTokenAccount(acct.data)
	if err != nil {
		return nil, err
	}
	if !ta.IsInitialized() {
		return nil, InstrErrInvalidAccountData
	}
	return ta, nil
}

func checkUserStakeAddress(programId, pool, owner, userStake solana.PublicKey) (uint8, error) {
	expected, bump, err := FindUserStakeAddress(programId, pool, owner)
	if err != nil {
		return 0, InstrErrInvalidSeeds
	}
	if expected != userStake {
		klog.Errorf("user stake address mismatch for %s: got %s, expected %s", owner, userStake, expected)
		return 0, InstrErrInvalidArgument
	}
	return bump, nil
}

func unixTimestamp(execCtx *ExecutionCtx) (int64, error) {
	clock, err := ReadClockSysvar(execCtx.Accounts)
	if err != nil {
		return 0, err
	}
	return clock.UnixTimestamp, nil
}

func StakingProgramExecute(execCtx *ExecutionCtx) error {
	err := execCtx.consumeCompute(CUStakingProgramDefaultComputeUnits)
	if err != nil {
		return err
	}

	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	if len(instrCtx.Data) == 0 {
		return InstrErrInvalidInstructionData
	}
	decoder := bin.NewBinDecoder(instrCtx.Data[1:])

	switch instrCtx.Data[0] {
	case StakingInstrTypeInitializePool:
		var instr StakingInstrInitializePool
		if instr.UnmarshalWithDecoder(decoder) != nil || decoder.Remaining() != 0 {
			return InstrErrInvalidInstructionData
		}
		err = StakingProgramInitializePool(execCtx, instr.RewardRate, instr.MinLockPeriod)

	case StakingInstrTypeUpdateConfig:
		var instr StakingInstrUpdateConfig
		if instr.UnmarshalWithDecoder(decoder) != nil || decoder.Remaining() != 0 {
			return InstrErrInvalidInstructionData
		}
		err = StakingProgramUpdateConfig(execCtx, instr.RewardRate, instr.MinLockPeriod)

	case StakingInstrTypeInitializeUser:
		if decoder.Remaining() != 0 {
			return InstrErrInvalidInstructionData
		}
		err = StakingProgramInitializeUser(execCtx)

	case StakingInstrTypeStake:
		var instr StakingInstrStake
		if instr.UnmarshalWithDecoder(decoder) != nil || decoder.Remaining() != 0 {
			return InstrErrInvalidInstructionData
		}
		err = StakingProgramStake(execCtx, instr.Amount)

	case StakingInstrTypeClaimRewards:
		if decoder.Remaining() != 0 {
			return InstrErrInvalidInstructionData
		}
		err = StakingProgramClaimRewards(execCtx)

	case StakingInstrTypeUnstake:
		if decoder.Remaining() != 0 {
			return InstrErrInvalidInstructionData
		}
		err = StakingProgramUnstake(execCtx)

	default:
		return InstrErrInvalidInstructionData
	}

	if err != nil {
		klog.Errorf("%s rejected: %s", StakingInstructionName(instrCtx.Data), err)
	}
	return err
}

func StakingProgramInitializePool(execCtx *ExecutionCtx, rewardRate uint64, minLockPeriod int64) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}
	programId := instrCtx.ProgramId()

	err = instrCtx.CheckNumOfInstructionAccounts(initPoolNumAccts)
	if err != nil {
		return err
	}

	accts, err := snapshotAccounts(execCtx, initPoolNumAccts)
	if err != nil {
		return err
	}
	payer, authority, mint := accts[initPoolAcctPayer], accts[initPoolAcctAuthority], accts[initPoolAcctMint]

	if !payer.isSigner || !authority.isSigner {
		return StakingErrUnauthorized
	}

	signer, err := derivePoolSigner(programId, mint.key, accts[initPoolAcctPool].key)
	if err != nil {
		return err
	}

	rent, err := rentFromInstructionAccount(execCtx, initPoolAcctRent)
	if err != nil {
		return err
	}

	var existing *StakingPool
	if len(accts[initPoolAcctPool].data) == 0 {
		err = signer.createPoolAccount(execCtx, payer.key, rent.MinimumBalance(StakingPoolSize))
		if err != nil {
			return err
		}
		poolAcct, err := snapshotAccount(execCtx, initPoolAcctPool)
		if err != nil {
			return err
		}
		if !rent.IsExempt(poolAcct.lamports, uint64(len(poolAcct.data))) {
			return StakingErrNotRentExempt
		}
	} else {
		existing, err = loadStakingPool(programId, accts[initPoolAcctPool])
		if err != nil {
			return err
		}
	}

	vault := accts[initPoolAcctVault]
	if len(vault.data) == 0 {
		instr := newAssociatedTokenInstruction(AssociatedTokenInstrTypeCreate, payer.key, vault.key, signer.address, mint.key)
		err = execCtx.NativeInvoke(*instr, nil)
		if err != nil {
			return err
		}
		vault, err = snapshotAccount(execCtx, initPoolAcctVault)
		if err != nil {
			return err
		}
	}

	vaultToken, err := loadTokenAccount(vault)
	if err != nil {
		return err
	}
	if vaultToken.Owner != signer.address {
		return StakingErrInvalidOwner
	}
	if vaultToken.Mint != mint.key {
		return StakingErrInvalidMint
	}

	pool := NewStakingPool(authority.key, vault.key, rewardRate, minLockPeriod, signer.bump)
	// re-initialization resets the config but never the custody total
	if existing != nil {
		pool.TotalStaked = existing.TotalStaked
		pool.Reserved = existing.Reserved
	}

	err = writeRecord(execCtx, initPoolAcctPool, pool.Marshal())
	if err != nil {
		return err
	}

	execCtx.logf("Pool initialized. Authority=%s, Rate=%d, Lock=%ds", authority.key, rewardRate, minLockPeriod)
	return nil
}

func StakingProgramUpdateConfig(execCtx *ExecutionCtx, rewardRate *uint64, minLockPeriod *int64) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	err = instrCtx.CheckNumOfInstructionAccounts(updateConfigNumAccts)
	if err != nil {
		return err
	}

	accts, err := snapshotAccounts(execCtx, updateConfigNumAccts)
	if err != nil {
		return err
	}
	authority, poolAcct := accts[updateConfigAcctAuthority], accts[updateConfigAcctPool]

	if !authority.isSigner {
		return StakingErrUnauthorized
	}
	if len(poolAcct.data) == 0 {
		return InstrErrUninitializedAccount
	}

	pool, err := UnmarshalStakingPool(poolAcct.data)
	if err != nil {
		return err
	}
	if pool.Authority != authority.key {
		return StakingErrUnauthorized
	}

	if rewardRate != nil {
		pool.RewardRate = *rewardRate
	}
	if minLockPeriod != nil {
		pool.MinLockPeriod = *minLockPeriod
	}

	err = writeRecord(execCtx, updateConfigAcctPool, pool.Marshal())
	if err != nil {
		return err
	}

	execCtx.logf("Config updated. Rate=%d, Lock=%ds", pool.RewardRate, pool.MinLockPeriod)
	return nil
}

func StakingProgramInitializeUser(execCtx *ExecutionCtx) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}
	programId := instrCtx.ProgramId()

	err = instrCtx.CheckNumOfInstructionAccounts(initUserNumAccts)
	if err != nil {
		return err
	}

	accts, err := snapshotAccounts(execCtx, initUserNumAccts)
	if err != nil {
		return err
	}
	payer, user := accts[initUserAcctPayer], accts[initUserAcctUser]
	poolAcct, userStakeAcct := accts[initUserAcctPool], accts[initUserAcctUserStake]

	if !payer.isSigner || !user.isSigner {
		return StakingErrUnauthorized
	}

	bump, err := checkUserStakeAddress(programId, poolAcct.key, user.key, userStakeAcct.key)
	if err != nil {
		return err
	}

	if _, err = loadStakingPool(programId, poolAcct); err != nil {
		return err
	}

	rent, err := rentFromInstructionAccount(execCtx, initUserAcctRent)
	if err != nil {
		return err
	}

	if len(userStakeAcct.data) != 0 {
		// already initialized; leave the position untouched
		if _, err = loadUserStake(programId, userStakeAcct); err != nil {
			return err
		}
		execCtx.logf("User stake account already initialized for %s", user.key)
		return nil
	}

	seeds := [][]byte{[]byte(UserStakeSeed), poolAcct.key[:], user.key[:], {bump}}
	err = createProgramAccount(execCtx, payer.key, userStakeAcct.key, rent.MinimumBalance(UserStakeSize), UserStakeSize, seeds)
	if err != nil {
		return err
	}

	created, err := snapshotAccount(execCtx, initUserAcctUserStake)
	if err != nil {
		return err
	}
	if !rent.IsExempt(created.lamports, uint64(len(created.data))) {
		return StakingErrNotRentExempt
	}

	position := UserStake{Owner: user.key, Pool: poolAcct.key}
	err = writeRecord(execCtx, initUserAcctUserStake, position.Marshal())
	if err != nil {
		return err
	}

	execCtx.logf("User stake account initialized for %s", user.key)
	return nil
}

func StakingProgramStake(execCtx *ExecutionCtx, amount uint64) error {
	if amount == 0 {
		return StakingErrZeroAmount
	}

	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}
	programId := instrCtx.ProgramId()

	err = instrCtx.CheckNumOfInstructionAccounts(stakeNumAccts)
	if err != nil {
		return err
	}

	accts, err := snapshotAccounts(execCtx, stakeNumAccts)
	if err != nil {
		return err
	}
	user, userAta, mint := accts[stakeAcctUser], accts[stakeAcctUserAta], accts[stakeAcctMint]
	poolAcct, userStakeAcct, vault := accts[stakeAcctPool], accts[stakeAcctUserStake], accts[stakeAcctVault]

	if !user.isSigner {
		return StakingErrUnauthorized
	}

	if _, err = checkUserStakeAddress(programId, poolAcct.key, user.key, userStakeAcct.key); err != nil {
		return err
	}
	if _, err = derivePoolSigner(programId, mint.key, poolAcct.key); err != nil {
		return err
	}

	pool, err := loadStakingPool(programId, poolAcct)
	if err != nil {
		return err
	}

	vaultToken, err := loadTokenAccount(vault)
	if err != nil {
		return err
	}
	if vaultToken.Owner != poolAcct.key {
		return StakingErrInvalidOwner
	}
	if vaultToken.Mint != mint.key || pool.Vault != vault.key {
		return StakingErrInvalidMint
	}

	userToken, err := loadTokenAccount(userAta)
	if err != nil {
		return err
	}
	if userToken.Owner != user.key {
		return StakingErrInvalidOwner
	}
	if userToken.Mint != mint.key {
		return StakingErrInvalidMint
	}
	if userToken.Amount < amount {
		return StakingErrVaultInsufficient
	}

	position, err := loadUserStake(programId, userStakeAcct)
	if err != nil {
		return err
	}
	if position.IsActive() {
		return StakingErrDoubleStake
	}
	if position.Owner != user.key || position.Pool != poolAcct.key {
		return StakingErrInvalidOwner
	}

	now, err := unixTimestamp(execCtx)
	if err != nil {
		return err
	}

	totalStaked, err := safemath.CheckedAddU64(pool.TotalStaked, amount)
	if err != nil {
		return StakingErrOverflow
	}

	err = execCtx.NativeInvoke(*NewTokenTransferInstruction(userAta.key, vault.key, user.key, amount), nil)
	if err != nil {
		return err
	}

	position.Amount = amount
	position.StartTime = now
	position.LastClaimTime = now
	err = writeRecord(execCtx, stakeAcctUserStake, position.Marshal())
	if err != nil {
		return err
	}

	pool.TotalStaked = totalStaked
	err = writeRecord(execCtx, stakeAcctPool, pool.Marshal())
	if err != nil {
		return err
	}

	execCtx.logf("Staked: %d tokens by %s", amount, user.key)
	return nil
}

// settlement holds the validated accounts of a ClaimRewards or Unstake.
type settlement struct {
	user       accountSnapshot
	userAta    accountSnapshot
	vault      accountSnapshot
	pool       *StakingPool
	position   *UserStake
	vaultToken *TokenAccount
	signer     *poolSigner
}

func loadSettlement(execCtx *ExecutionCtx) (*settlement, error) {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return nil, err
	}
	programId := instrCtx.ProgramId()

	err = instrCtx.CheckNumOfInstructionAccounts(settleNumAccts)
	if err != nil {
		return nil, err
	}

	accts, err := snapshotAccounts(execCtx, settleNumAccts)
	if err != nil {
		return nil, err
	}
	user, userAta, mint := accts[settleAcctUser], accts[settleAcctUserAta], accts[settleAcctMint]
	userStakeAcct, poolAcct, vault := accts[settleAcctUserStake], accts[settleAcctPool], accts[settleAcctVault]

	if !user.isSigner {
		return nil, StakingErrUnauthorized
	}

	if _, err = checkUserStakeAddress(programId, poolAcct.key, user.key, userStakeAcct.key); err != nil {
		return nil, err
	}
	signer, err := derivePoolSigner(programId, mint.key, poolAcct.key)
	if err != nil {
		return nil, err
	}

	pool, err := loadStakingPool(programId, poolAcct)
	if err != nil {
		return nil, err
	}
	position, err := loadUserStake(programId, userStakeAcct)
	if err != nil {
		return nil, err
	}
	if position.Owner != user.key || position.Pool != poolAcct.key {
		return nil, StakingErrInvalidOwner
	}

	vaultToken, err := loadTokenAccount(vault)
	if err != nil {
		return nil, err
	}
	userToken, err := loadTokenAccount(userAta)
	if err != nil {
		return nil, err
	}
	if vaultToken.Owner != poolAcct.key || pool.Vault != vault.key {
		return nil, StakingErrInvalidOwner
	}
	if vaultToken.Mint != mint.key || userToken.Mint != mint.key {
		return nil, StakingErrInvalidMint
	}
	if userToken.Owner != user.key {
		return nil, StakingErrInvalidOwner
	}

	return &settlement{
		user:       user,
		userAta:    userAta,
		vault:      vault,
		pool:       pool,
		position:   position,
		vaultToken: vaultToken,
		signer:     signer,
	}, nil
}

func StakingProgramClaimRewards(execCtx *ExecutionCtx) error {
	s, err := loadSettlement(execCtx)
	if err != nil {
		return err
	}

	now, err := unixTimestamp(execCtx)
	if err != nil {
		return err
	}
	if now < s.position.LastClaimTime {
		return StakingErrTimeWentBackwards
	}
	if !s.position.IsActive() {
		return nil
	}

	position, payout, err := settleRewards(*s.position, *s.pool, now)
	if err != nil {
		return err
	}

	if payout > 0 {
		if s.vaultToken.Amount < payout {
			return StakingErrVaultInsufficient
		}
		err = s.signer.transfer(execCtx, s.vault.key, s.userAta.key, payout)
		if err != nil {
			return err
		}
	}

	err = writeRecord(execCtx, settleAcctUserStake, position.Marshal())
	if err != nil {
		return err
	}

	execCtx.logf("Claimed %d rewards for %s", payout, s.user.key)
	return nil
}

func StakingProgramUnstake(execCtx *ExecutionCtx) error {
	s, err := loadSettlement(execCtx)
	if err != nil {
		return err
	}

	now, err := unixTimestamp(execCtx)
	if err != nil {
		return err
	}
	if now < s.position.StartTime {
		return StakingErrTimeWentBackwards
	}
	if !s.position.IsActive() {
		return nil
	}
	staked, err := safemath.CheckedSubI64(now, s.position.StartTime)
	if err != nil {
		return StakingErrOverflow
	}
	if staked < s.pool.MinLockPeriod {
		return StakingErrLockActive
	}

	position, payout, err := settleRewards(*s.position, *s.pool, now)
	if err != nil {
		return err
	}

	principal := position.Amount
	vaultBalance := s.vaultToken.Amount
	if vaultBalance < payout {
		return StakingErrVaultInsufficient
	}
	vaultBalance -= payout
	if vaultBalance < principal {
		return StakingErrVaultInsufficient
	}

	totalStaked, err := safemath.CheckedSubU64(s.pool.TotalStaked, principal)
	if err != nil {
		return StakingErrOverflow
	}

	if payout > 0 {
		err = s.signer.transfer(execCtx, s.vault.key, s.userAta.key, payout)
		if err != nil {
			return err
		}
	}
	err = s.signer.transfer(execCtx, s.vault.key, s.userAta.key, principal)
	if err != nil {
		return err
	}

	position.Amount = 0
	position.StartTime = 0
	position.LastClaimTime = 0
	err = writeRecord(execCtx, settleAcctUserStake, position.Marshal())
	if err != nil {
		return err
	}

	pool := *s.pool
	pool.TotalStaked = totalStaked
	err = writeRecord(execCtx, settleAcctPool, pool.Marshal())
	if err != nil {
		return err
	}

	execCtx.logf("Unstaked: %d returned to %s", principal, s.user.key)
	return nil
}
