package sealevel

import (
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.firedancer.io/stakeledger/pkg/accounts"
)

const (
	testRewardRate = RewardRateScale / 10 // 0.1 token per staked token per second
	testLockPeriod = 60
)

type stakingFixture struct {
	t             *testing.T
	bank          *testBank
	programId     solana.PublicKey
	mint          solana.PublicKey
	mintAuthority solana.PublicKey
	authority     solana.PublicKey
	pool          solana.PublicKey
	vault         solana.PublicKey
}

func newStakingFixture(t *testing.T, rewardRate uint64, minLockPeriod int64) *stakingFixture {
	bank := newTestBank(t)

	f := &stakingFixture{
		t:             t,
		bank:          bank,
		programId:     StakingProgramAddr,
		mintAuthority: solana.NewWallet().PublicKey(),
		authority:     solana.NewWallet().PublicKey(),
	}
	f.mint = bank.createMint(f.mintAuthority)
	f.pool = mustFindStakingPoolAddress(f.programId, f.mint)
	f.vault = mustFindAssociatedTokenAddress(f.pool, f.mint)

	bank.fund(f.authority, 10_000_000_000)
	require.NoError(t, bank.execute(NewInitializePoolInstruction(f.programId, f.authority, f.authority, f.mint, rewardRate, minLockPeriod)))
	return f
}

func (f *stakingFixture) newStaker(balance uint64) (solana.PublicKey, solana.PublicKey) {
	user := solana.NewWallet().PublicKey()
	f.bank.fund(user, 1_000_000_000)
	userAta := f.bank.createFundedAta(user, f.mint, f.mintAuthority, balance)
	require.NoError(f.t, f.bank.execute(NewInitializeUserInstruction(f.programId, user, user, f.mint)))
	return user, userAta
}

func (f *stakingFixture) fundVault(amount uint64) {
	require.NoError(f.t, f.bank.execute(NewTokenMintToInstruction(f.mint, f.vault, f.mintAuthority, amount)))
}

func (f *stakingFixture) poolState() *StakingPool {
	pool, err := UnmarshalStakingPool(f.bank.accts[f.pool].Data)
	require.NoError(f.t, err)
	return pool
}

func (f *stakingFixture) position(user solana.PublicKey) *UserStake {
	key := mustFindUserStakeAddress(f.programId, f.pool, user)
	position, err := UnmarshalUserStake(f.bank.accts[key].Data)
	require.NoError(f.t, err)
	return position
}

func TestStaking_InitializePool(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)

	_, bump, err := FindStakingPoolAddress(f.programId, f.mint)
	require.NoError(t, err)

	pool := f.poolState()
	assert.Equal(t, f.authority, pool.Authority)
	assert.Equal(t, f.vault, pool.Vault)
	assert.Equal(t, uint64(testRewardRate), pool.RewardRate)
	assert.Equal(t, int64(testLockPeriod), pool.MinLockPeriod)
	assert.Equal(t, uint64(0), pool.TotalStaked)
	assert.Equal(t, bump, pool.Bump)

	poolAcct := f.bank.accts[f.pool]
	assert.Equal(t, f.programId, poolAcct.Owner)
	assert.Equal(t, f.bank.rent.MinimumBalance(StakingPoolSize), poolAcct.Lamports)

	vault := f.bank.tokenAccount(f.vault)
	assert.Equal(t, f.pool, vault.Owner)
	assert.Equal(t, f.mint, vault.Mint)

	assert.Contains(t, f.bank.logs.Logs, fmt.Sprintf("Program log: Pool initialized. Authority=%s, Rate=%d, Lock=%ds", f.authority, testRewardRate, testLockPeriod))
}

func TestStaking_InitializePool_Reinitialize(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, _ := f.newStaker(1000)
	require.NoError(t, f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 1000)))

	// re-running InitializePool replaces the configuration but keeps the
	// running total
	newAuthority := solana.NewWallet().PublicKey()
	require.NoError(t, f.bank.execute(NewInitializePoolInstruction(f.programId, f.authority, newAuthority, f.mint, 7, 8)))

	pool := f.poolState()
	assert.Equal(t, newAuthority, pool.Authority)
	assert.Equal(t, uint64(7), pool.RewardRate)
	assert.Equal(t, int64(8), pool.MinLockPeriod)
	assert.Equal(t, uint64(1000), pool.TotalStaked)
}

func TestStaking_InitializePool_Rejects(t *testing.T) {
	bank := newTestBank(t)
	mint := bank.createMint(solana.NewWallet().PublicKey())
	authority := solana.NewWallet().PublicKey()
	bank.fund(authority, 10_000_000_000)

	unsigned := NewInitializePoolInstruction(StakingProgramAddr, authority, authority, mint, 1, 1)
	unsigned.Accounts[initPoolAcctAuthority].IsSigner = false
	unsigned.Accounts[initPoolAcctPayer].IsSigner = false
	assert.ErrorIs(t, bank.execute(unsigned), StakingErrUnauthorized)

	wrongPool := NewInitializePoolInstruction(StakingProgramAddr, authority, authority, mint, 1, 1)
	wrongPool.Accounts[initPoolAcctPool].Pubkey = solana.NewWallet().PublicKey()
	assert.ErrorIs(t, bank.execute(wrongPool), InstrErrInvalidArgument)

	wrongRent := NewInitializePoolInstruction(StakingProgramAddr, authority, authority, mint, 1, 1)
	wrongRent.Accounts[initPoolAcctRent].Pubkey = SysvarClockAddr
	assert.ErrorIs(t, bank.execute(wrongRent), InstrErrInvalidArgument)

	// nothing was committed
	_, ok := bank.accts[mustFindStakingPoolAddress(StakingProgramAddr, mint)]
	assert.False(t, ok)
}

func TestStaking_UpdateConfig(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)

	rate := uint64(42)
	require.NoError(t, f.bank.execute(NewUpdateConfigInstruction(f.programId, f.authority, f.pool, &rate, nil)))
	assert.Equal(t, uint64(42), f.poolState().RewardRate)
	assert.Equal(t, int64(testLockPeriod), f.poolState().MinLockPeriod)
	assert.Contains(t, f.bank.logs.Logs, "Program log: Config updated. Rate=42, Lock=60s")

	lock := int64(0)
	require.NoError(t, f.bank.execute(NewUpdateConfigInstruction(f.programId, f.authority, f.pool, nil, &lock)))
	assert.Equal(t, uint64(42), f.poolState().RewardRate)
	assert.Equal(t, int64(0), f.poolState().MinLockPeriod)

	require.NoError(t, f.bank.execute(NewUpdateConfigInstruction(f.programId, f.authority, f.pool, nil, nil)))
	assert.Equal(t, uint64(42), f.poolState().RewardRate)

	before := *f.poolState()
	otherRate, otherLock := uint64(7), int64(99)
	stranger := solana.NewWallet().PublicKey()
	err := f.bank.execute(NewUpdateConfigInstruction(f.programId, stranger, f.pool, &otherRate, &otherLock))
	assert.ErrorIs(t, err, StakingErrUnauthorized)
	assert.Equal(t, before, *f.poolState())

	unsigned := NewUpdateConfigInstruction(f.programId, f.authority, f.pool, &otherRate, &otherLock)
	unsigned.Accounts[updateConfigAcctAuthority].IsSigner = false
	assert.ErrorIs(t, f.bank.execute(unsigned), StakingErrUnauthorized)
	assert.Equal(t, before, *f.poolState())

	emptyPool := solana.NewWallet().PublicKey()
	err = f.bank.execute(NewUpdateConfigInstruction(f.programId, f.authority, emptyPool, &rate, nil))
	assert.ErrorIs(t, err, InstrErrUninitializedAccount)
}

func TestStaking_InitializeUser(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, _ := f.newStaker(0)

	key := mustFindUserStakeAddress(f.programId, f.pool, user)
	acct := f.bank.accts[key]
	assert.Equal(t, f.programId, acct.Owner)
	assert.Equal(t, f.bank.rent.MinimumBalance(UserStakeSize), acct.Lamports)

	position := f.position(user)
	assert.Equal(t, user, position.Owner)
	assert.Equal(t, f.pool, position.Pool)
	assert.False(t, position.IsActive())
	assert.Contains(t, f.bank.logs.Logs, fmt.Sprintf("Program log: User stake account initialized for %s", user))
}

func TestStaking_InitializeUser_PreservesActivePosition(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, _ := f.newStaker(500)
	require.NoError(t, f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 500)))
	before := *f.position(user)

	require.NoError(t, f.bank.execute(NewInitializeUserInstruction(f.programId, user, user, f.mint)))
	assert.Equal(t, before, *f.position(user))
}

func TestStaking_InitializeUser_RequiresPool(t *testing.T) {
	bank := newTestBank(t)
	mint := bank.createMint(solana.NewWallet().PublicKey())
	user := solana.NewWallet().PublicKey()
	bank.fund(user, 1_000_000_000)

	err := bank.execute(NewInitializeUserInstruction(StakingProgramAddr, user, user, mint))
	assert.ErrorIs(t, err, InstrErrUninitializedAccount)
}

func TestStaking_Stake(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, userAta := f.newStaker(1500)

	require.NoError(t, f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 1000)))

	assert.Equal(t, uint64(500), f.bank.tokenBalance(userAta))
	assert.Equal(t, uint64(1000), f.bank.tokenBalance(f.vault))
	assert.Equal(t, uint64(1000), f.poolState().TotalStaked)

	position := f.position(user)
	assert.Equal(t, uint64(1000), position.Amount)
	assert.Equal(t, f.bank.now, position.StartTime)
	assert.Equal(t, f.bank.now, position.LastClaimTime)
	assert.Equal(t, uint64(0), position.RewardsClaimed)
	assert.Contains(t, f.bank.logs.Logs, fmt.Sprintf("Program log: Staked: 1000 tokens by %s", user))

	err := f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 100))
	assert.ErrorIs(t, err, StakingErrDoubleStake)
	assert.Equal(t, uint64(500), f.bank.tokenBalance(userAta))
}

func TestStaking_Stake_Rejects(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, _ := f.newStaker(100)

	err := f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 0))
	assert.ErrorIs(t, err, StakingErrZeroAmount)

	err = f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 101))
	assert.ErrorIs(t, err, StakingErrVaultInsufficient)

	unsigned := NewStakeInstruction(f.programId, user, f.mint, 10)
	unsigned.Accounts[stakeAcctUser].IsSigner = false
	assert.ErrorIs(t, f.bank.execute(unsigned), StakingErrUnauthorized)

	wrongPosition := NewStakeInstruction(f.programId, user, f.mint, 10)
	wrongPosition.Accounts[stakeAcctUserStake].Pubkey = solana.NewWallet().PublicKey()
	assert.ErrorIs(t, f.bank.execute(wrongPosition), InstrErrInvalidArgument)

	wrongVault := NewStakeInstruction(f.programId, user, f.mint, 10)
	wrongVault.Accounts[stakeAcctVault].Pubkey = mustFindAssociatedTokenAddress(user, f.mint)
	wrongVault.Accounts[stakeAcctUserAta].Pubkey = f.vault
	assert.ErrorIs(t, f.bank.execute(wrongVault), StakingErrInvalidOwner)

	// a user who never ran InitializeUser has no position record
	stranger := solana.NewWallet().PublicKey()
	f.bank.createFundedAta(stranger, f.mint, f.mintAuthority, 10)
	err = f.bank.execute(NewStakeInstruction(f.programId, stranger, f.mint, 10))
	assert.ErrorIs(t, err, InstrErrUninitializedAccount)

	assert.Equal(t, uint64(0), f.poolState().TotalStaked)
	assert.False(t, f.position(user).IsActive())
}

func TestStaking_ClaimRewards(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, userAta := f.newStaker(1000)
	f.fundVault(10_000)

	require.NoError(t, f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 1000)))
	stakedAt := f.bank.now

	f.bank.now += 100
	require.NoError(t, f.bank.execute(NewClaimRewardsInstruction(f.programId, user, f.mint)))

	assert.Equal(t, uint64(10_000), f.bank.tokenBalance(userAta))
	assert.Equal(t, uint64(1000), f.bank.tokenBalance(f.vault))
	assert.Contains(t, f.bank.logs.Logs, fmt.Sprintf("Program log: Claimed 10000 rewards for %s", user))

	position := f.position(user)
	assert.Equal(t, uint64(1000), position.Amount)
	assert.Equal(t, stakedAt, position.StartTime)
	assert.Equal(t, f.bank.now, position.LastClaimTime)
	assert.Equal(t, uint64(10_000), position.RewardsClaimed)

	// claiming again at the same instant pays nothing
	require.NoError(t, f.bank.execute(NewClaimRewardsInstruction(f.programId, user, f.mint)))
	assert.Equal(t, uint64(10_000), f.bank.tokenBalance(userAta))

	// 20s accrue 2000 but the vault only holds the 1000 principal
	f.bank.now += 20
	err := f.bank.execute(NewClaimRewardsInstruction(f.programId, user, f.mint))
	assert.ErrorIs(t, err, StakingErrVaultInsufficient)
	assert.Equal(t, *position, *f.position(user))

	f.bank.now -= 30
	err = f.bank.execute(NewClaimRewardsInstruction(f.programId, user, f.mint))
	assert.ErrorIs(t, err, StakingErrTimeWentBackwards)
}

func TestStaking_ClaimRewards_InactiveIsNoop(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, userAta := f.newStaker(10)
	before := *f.position(user)

	f.bank.now += 1000
	require.NoError(t, f.bank.execute(NewClaimRewardsInstruction(f.programId, user, f.mint)))
	assert.Equal(t, before, *f.position(user))
	assert.Equal(t, uint64(10), f.bank.tokenBalance(userAta))
}

func TestStaking_ClaimRewards_WrongOwner(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, _ := f.newStaker(10)
	other, _ := f.newStaker(10)

	instr := NewClaimRewardsInstruction(f.programId, other, f.mint)
	instr.Accounts[settleAcctUserAta].Pubkey = mustFindAssociatedTokenAddress(user, f.mint)
	assert.ErrorIs(t, f.bank.execute(instr), StakingErrInvalidOwner)
}

func TestStaking_Unstake(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, userAta := f.newStaker(1000)
	f.fundVault(10_000)

	require.NoError(t, f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 1000)))

	f.bank.now += testLockPeriod - 1
	err := f.bank.execute(NewUnstakeInstruction(f.programId, user, f.mint))
	assert.ErrorIs(t, err, StakingErrLockActive)

	f.bank.now += 1
	require.NoError(t, f.bank.execute(NewUnstakeInstruction(f.programId, user, f.mint)))

	// 60s at 0.1/s on 1000 tokens pays 6000 on top of the principal
	assert.Equal(t, uint64(7000), f.bank.tokenBalance(userAta))
	assert.Equal(t, uint64(4000), f.bank.tokenBalance(f.vault))
	assert.Equal(t, uint64(0), f.poolState().TotalStaked)
	assert.Contains(t, f.bank.logs.Logs, fmt.Sprintf("Program log: Unstaked: 1000 returned to %s", user))

	position := f.position(user)
	assert.Equal(t, uint64(0), position.Amount)
	assert.Equal(t, int64(0), position.StartTime)
	assert.Equal(t, int64(0), position.LastClaimTime)
	assert.Equal(t, uint64(6000), position.RewardsClaimed)

	// inactive unstake is a no-op
	require.NoError(t, f.bank.execute(NewUnstakeInstruction(f.programId, user, f.mint)))
	assert.Equal(t, uint64(7000), f.bank.tokenBalance(userAta))

	// the position can be reused
	require.NoError(t, f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 7000)))
	assert.Equal(t, uint64(7000), f.poolState().TotalStaked)
	assert.Equal(t, uint64(6000), f.position(user).RewardsClaimed)
}

func TestStaking_Unstake_InactiveSkipsLock(t *testing.T) {
	// a never-staked position has start_time 0, so any lock longer than the
	// clock's unix time would still be active
	f := newStakingFixture(t, testRewardRate, 1<<40)
	user, userAta := f.newStaker(10)
	before := *f.position(user)

	require.NoError(t, f.bank.execute(NewUnstakeInstruction(f.programId, user, f.mint)))
	assert.Equal(t, before, *f.position(user))
	assert.Equal(t, uint64(10), f.bank.tokenBalance(userAta))
	assert.Equal(t, uint64(0), f.poolState().TotalStaked)
}

func TestStaking_Unstake_VaultInsufficient(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, 0)
	user, userAta := f.newStaker(1000)

	require.NoError(t, f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 1000)))

	// the vault holds exactly the principal, so any reward would eat into it
	f.bank.now += 1
	err := f.bank.execute(NewUnstakeInstruction(f.programId, user, f.mint))
	assert.ErrorIs(t, err, StakingErrVaultInsufficient)
	assert.Equal(t, uint64(0), f.bank.tokenBalance(userAta))
	assert.Equal(t, uint64(1000), f.poolState().TotalStaked)

	f.fundVault(100)
	require.NoError(t, f.bank.execute(NewUnstakeInstruction(f.programId, user, f.mint)))
	assert.Equal(t, uint64(1100), f.bank.tokenBalance(userAta))
	assert.Equal(t, uint64(0), f.bank.tokenBalance(f.vault))
}

func TestStaking_TotalStakedTracksPositions(t *testing.T) {
	f := newStakingFixture(t, 0, 0)
	alice, _ := f.newStaker(300)
	bob, _ := f.newStaker(700)

	require.NoError(t, f.bank.execute(NewStakeInstruction(f.programId, alice, f.mint, 300)))
	require.NoError(t, f.bank.execute(NewStakeInstruction(f.programId, bob, f.mint, 700)))
	assert.Equal(t, uint64(1000), f.poolState().TotalStaked)

	f.bank.now += 10
	require.NoError(t, f.bank.execute(NewUnstakeInstruction(f.programId, alice, f.mint)))
	assert.Equal(t, uint64(700), f.poolState().TotalStaked)
	assert.Equal(t, f.position(bob).Amount, f.poolState().TotalStaked)
	assert.Equal(t, uint64(700), f.bank.tokenBalance(f.vault))
}

func TestStaking_InstructionData(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, _ := f.newStaker(10)

	trailing := NewClaimRewardsInstruction(f.programId, user, f.mint)
	trailing.Data = append(trailing.Data, 0)
	assert.ErrorIs(t, f.bank.execute(trailing), InstrErrInvalidInstructionData)

	short := NewStakeInstruction(f.programId, user, f.mint, 1)
	short.Data = short.Data[:5]
	assert.ErrorIs(t, f.bank.execute(short), InstrErrInvalidInstructionData)

	unknown := NewClaimRewardsInstruction(f.programId, user, f.mint)
	unknown.Data = []byte{6}
	assert.ErrorIs(t, f.bank.execute(unknown), InstrErrInvalidInstructionData)

	empty := NewClaimRewardsInstruction(f.programId, user, f.mint)
	empty.Data = nil
	assert.ErrorIs(t, f.bank.execute(empty), InstrErrInvalidInstructionData)

	missing := NewClaimRewardsInstruction(f.programId, user, f.mint)
	missing.Accounts = missing.Accounts[:3]
	assert.ErrorIs(t, f.bank.execute(missing), InstrErrNotEnoughAccountKeys)
}

func TestStaking_RejectsForeignRecords(t *testing.T) {
	f := newStakingFixture(t, testRewardRate, testLockPeriod)
	user, _ := f.newStaker(10)

	// a record with the right bytes but the wrong owner is not trusted
	key := mustFindUserStakeAddress(f.programId, f.pool, user)
	forged := f.bank.accts[key]
	forged.Owner = SystemProgramAddr
	f.bank.set(forged)

	err := f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 10))
	assert.ErrorIs(t, err, InstrErrInvalidAccountOwner)

	truncated := accounts.Account{Key: key, Lamports: 1, Data: make([]byte, UserStakeSize-1), Owner: f.programId}
	f.bank.set(truncated)
	err = f.bank.execute(NewStakeInstruction(f.programId, user, f.mint, 10))
	assert.ErrorIs(t, err, InstrErrInvalidAccountData)
}
