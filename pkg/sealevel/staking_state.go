package sealevel

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/stakeledger/pkg/pda"
)

const (
	StakingPoolSize = 112
	UserStakeSize   = 104

	stakingPoolReservedLen = 23
	userStakeReservedLen   = 8
)

const (
	StakingPoolSeed = "pool"
	UserStakeSeed   = "user"
)

// RewardRateScale is the fixed-point scale of StakingPool.RewardRate: a rate
// of RewardRateScale pays one token per staked token per second.
const RewardRateScale = 1_000_000_000

// StakingPool is the per-mint pool configuration and running total.
type StakingPool struct {
	Authority     solana.PublicKey
	Vault         solana.PublicKey
	RewardRate    uint64
	MinLockPeriod int64
	TotalStaked   uint64
	Bump          uint8
	Reserved      [stakingPoolReservedLen]byte
}

// UserStake is one owner's position in one pool. A zero Amount means the
// position is inactive.
type UserStake struct {
	Owner          solana.PublicKey
	Pool           solana.PublicKey
	Amount         uint64
	StartTime      int64
	LastClaimTime  int64
	RewardsClaimed uint64
	Reserved       [userStakeReservedLen]byte
}

func NewStakingPool(authority, vault solana.PublicKey, rewardRate uint64, minLockPeriod int64, bump uint8) StakingPool {
	return StakingPool{
		Authority:     authority,
		Vault:         vault,
		RewardRate:    rewardRate,
		MinLockPeriod: minLockPeriod,
		Bump:          bump,
	}
}

func (us *UserStake) IsActive() bool {
	return us.Amount != 0
}

func (pool *StakingPool) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if pool.Authority, err = readPubkey(decoder); err != nil {
		return fmt.Errorf("failed to read Authority when decoding StakingPool: %w", err)
	}
	if pool.Vault, err = readPubkey(decoder); err != nil {
		return fmt.Errorf("failed to read Vault when decoding StakingPool: %w", err)
	}
	if pool.RewardRate, err = decoder.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("failed to read RewardRate when decoding StakingPool: %w", err)
	}
	if pool.MinLockPeriod, err = decoder.ReadInt64(bin.LE); err != nil {
		return fmt.Errorf("failed to read MinLockPeriod when decoding StakingPool: %w", err)
	}
	if pool.TotalStaked, err = decoder.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("failed to read TotalStaked when decoding StakingPool: %w", err)
	}
	if pool.Bump, err = decoder.ReadByte(); err != nil {
		return fmt.Errorf("failed to read Bump when decoding StakingPool: %w", err)
	}
	reserved, err := decoder.ReadBytes(stakingPoolReservedLen)
	if err != nil {
		return fmt.Errorf("failed to read Reserved when decoding StakingPool: %w", err)
	}
	copy(pool.Reserved[:], reserved)
	return nil
}

func (pool *StakingPool) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteBytes(pool.Authority[:], false)
	_ = encoder.WriteBytes(pool.Vault[:], false)
	_ = encoder.WriteUint64(pool.RewardRate, bin.LE)
	_ = encoder.WriteInt64(pool.MinLockPeriod, bin.LE)
	_ = encoder.WriteUint64(pool.TotalStaked, bin.LE)
	_ = encoder.WriteByte(pool.Bump)
	return encoder.WriteBytes(pool.Reserved[:], false)
}

func (pool *StakingPool) Marshal() []byte {
	buf := new(bytes.Buffer)
	if err := pool.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		panic(fmt.Sprintf("encoding staking pool: %s", err))
	}
	return buf.Bytes()
}

// UnmarshalStakingPool decodes a pool record. The data must be exactly
// StakingPoolSize bytes.
func UnmarshalStakingPool(data []byte) (*StakingPool, error) {
	if len(data) != StakingPoolSize {
		return nil, InstrErrInvalidAccountData
	}
	pool := new(StakingPool)
	if err := pool.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, InstrErrInvalidAccountData
	}
	return pool, nil
}

func (us *UserStake) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if us.Owner, err = readPubkey(decoder); err != nil {
		return fmt.Errorf("failed to read Owner when decoding UserStake: %w", err)
	}
	if us.Pool, err = readPubkey(decoder); err != nil {
		return fmt.Errorf("failed to read Pool when decoding UserStake: %w", err)
	}
	if us.Amount, err = decoder.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("failed to read Amount when decoding UserStake: %w", err)
	}
	if us.StartTime, err = decoder.ReadInt64(bin.LE); err != nil {
		return fmt.Errorf("failed to read StartTime when decoding UserStake: %w", err)
	}
	if us.LastClaimTime, err = decoder.ReadInt64(bin.LE); err != nil {
		return fmt.Errorf("failed to read LastClaimTime when decoding UserStake: %w", err)
	}
	if us.RewardsClaimed, err = decoder.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("failed to read RewardsClaimed when decoding UserStake: %w", err)
	}
	reserved, err := decoder.ReadBytes(userStakeReservedLen)
	if err != nil {
		return fmt.Errorf("failed to read Reserved when decoding UserStake: %w", err)
	}
	copy(us.Reserved[:], reserved)
	return nil
}

func (us *UserStake) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteBytes(us.Owner[:], false)
	_ = encoder.WriteBytes(us.Pool[:], false)
	_ = encoder.WriteUint64(us.Amount, bin.LE)
	_ = encoder.WriteInt64(us.StartTime, bin.LE)
	_ = encoder.WriteInt64(us.LastClaimTime, bin.LE)
	_ = encoder.WriteUint64(us.RewardsClaimed, bin.LE)
	return encoder.WriteBytes(us.Reserved[:], false)
}

func (us *UserStake) Marshal() []byte {
	buf := new(bytes.Buffer)
	if err := us.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		panic(fmt.Sprintf("encoding user stake: %s", err))
	}
	return buf.Bytes()
}

// UnmarshalUserStake decodes a position record. The data must be exactly
// UserStakeSize bytes.
func UnmarshalUserStake(data []byte) (*UserStake, error) {
	if len(data) != UserStakeSize {
		return nil, InstrErrInvalidAccountData
	}
	us := new(UserStake)
	if err := us.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, InstrErrInvalidAccountData
	}
	return us, nil
}

func FindStakingPoolAddress(programId, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return pda.FindProgramAddress([][]byte{[]byte(StakingPoolSeed), mint[:]}, programId)
}

func FindUserStakeAddress(programId, pool, owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	return pda.FindProgramAddress([][]byte{[]byte(UserStakeSeed), pool[:], owner[:]}, programId)
}
