package sealevel

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStakingPool_Layout(t *testing.T) {
	pool := NewStakingPool(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 500_000_000, 3600, 254)
	pool.TotalStaked = 1_000_000
	pool.Reserved[0] = 0xAA
	pool.Reserved[22] = 0x55

	data := pool.Marshal()
	require.Equal(t, StakingPoolSize, len(data))

	assert.Equal(t, pool.Authority[:], data[0:32])
	assert.Equal(t, pool.Vault[:], data[32:64])
	assert.Equal(t, uint64(500_000_000), binary.LittleEndian.Uint64(data[64:72]))
	assert.Equal(t, int64(3600), int64(binary.LittleEndian.Uint64(data[72:80])))
	assert.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(data[80:88]))
	assert.Equal(t, byte(254), data[88])
	assert.Equal(t, byte(0xAA), data[89])
	assert.Equal(t, byte(0x55), data[111])

	decoded, err := UnmarshalStakingPool(data)
	require.NoError(t, err)
	assert.Equal(t, pool, *decoded)
}

func TestUserStake_Layout(t *testing.T) {
	position := UserStake{
		Owner:          solana.NewWallet().PublicKey(),
		Pool:           solana.NewWallet().PublicKey(),
		Amount:         77,
		StartTime:      -5,
		LastClaimTime:  1_700_000_000,
		RewardsClaimed: 9,
	}
	position.Reserved[7] = 1

	data := position.Marshal()
	require.Equal(t, UserStakeSize, len(data))

	assert.Equal(t, position.Owner[:], data[0:32])
	assert.Equal(t, position.Pool[:], data[32:64])
	assert.Equal(t, uint64(77), binary.LittleEndian.Uint64(data[64:72]))
	assert.Equal(t, int64(-5), int64(binary.LittleEndian.Uint64(data[72:80])))
	assert.Equal(t, int64(1_700_000_000), int64(binary.LittleEndian.Uint64(data[80:88])))
	assert.Equal(t, uint64(9), binary.LittleEndian.Uint64(data[88:96]))
	assert.Equal(t, byte(1), data[103])

	decoded, err := UnmarshalUserStake(data)
	require.NoError(t, err)
	assert.Equal(t, position, *decoded)
	assert.True(t, decoded.IsActive())
}

func TestStakingRecords_RejectWrongSize(t *testing.T) {
	_, err := UnmarshalStakingPool(make([]byte, StakingPoolSize-1))
	assert.ErrorIs(t, err, InstrErrInvalidAccountData)
	_, err = UnmarshalStakingPool(make([]byte, StakingPoolSize+1))
	assert.ErrorIs(t, err, InstrErrInvalidAccountData)

	_, err = UnmarshalUserStake(make([]byte, UserStakeSize-1))
	assert.ErrorIs(t, err, InstrErrInvalidAccountData)
	_, err = UnmarshalUserStake(nil)
	assert.ErrorIs(t, err, InstrErrInvalidAccountData)

	empty, err := UnmarshalUserStake(make([]byte, UserStakeSize))
	require.NoError(t, err)
	assert.False(t, empty.IsActive())
}

func TestStakingAddresses_MatchSolanaGo(t *testing.T) {
	programId := StakingProgramAddr
	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	expectedPool, expectedPoolBump, err := solana.FindProgramAddress([][]byte{[]byte("pool"), mint[:]}, programId)
	require.NoError(t, err)
	pool, poolBump, err := FindStakingPoolAddress(programId, mint)
	require.NoError(t, err)
	assert.Equal(t, expectedPool, pool)
	assert.Equal(t, expectedPoolBump, poolBump)

	expectedUser, expectedUserBump, err := solana.FindProgramAddress([][]byte{[]byte("user"), pool[:], owner[:]}, programId)
	require.NoError(t, err)
	userStake, userBump, err := FindUserStakeAddress(programId, pool, owner)
	require.NoError(t, err)
	assert.Equal(t, expectedUser, userStake)
	assert.Equal(t, expectedUserBump, userBump)
}

func TestStakingError_Codes(t *testing.T) {
	for code, expected := range []*StakingError{
		StakingErrUnauthorized,
		StakingErrNotRentExempt,
		StakingErrInvalidOwner,
		StakingErrInvalidMint,
		StakingErrDoubleStake,
		StakingErrZeroAmount,
		StakingErrLockActive,
		StakingErrOverflow,
		StakingErrVaultInsufficient,
		StakingErrATAMissing,
		StakingErrTimeWentBackwards,
	} {
		assert.Equal(t, uint32(code), expected.Code())
		fromCode, ok := StakingErrorFromCode(uint32(code))
		assert.True(t, ok)
		assert.Same(t, expected, fromCode)

		instrCode, custom, ok := InstrErrCode(expected)
		assert.True(t, ok)
		assert.Equal(t, InstrErrCodeCustom, instrCode)
		assert.Equal(t, uint32(code), custom)
	}

	_, ok := StakingErrorFromCode(11)
	assert.False(t, ok)
}
