package sealevel

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	StakingInstrTypeInitializePool = iota
	StakingInstrTypeUpdateConfig
	StakingInstrTypeInitializeUser
	StakingInstrTypeStake
	StakingInstrTypeClaimRewards
	StakingInstrTypeUnstake
)

var stakingInstrNames = []string{
	"InitializePool",
	"UpdateConfig",
	"InitializeUser",
	"Stake",
	"ClaimRewards",
	"Unstake",
}

// StakingInstructionName returns the operation name of encoded staking
// instruction data, or "Unknown".
func StakingInstructionName(data []byte) string {
	if len(data) == 0 || int(data[0]) >= len(stakingInstrNames) {
		return "Unknown"
	}
	return stakingInstrNames[data[0]]
}

type StakingInstrInitializePool struct {
	RewardRate    uint64
	MinLockPeriod int64
}

type StakingInstrUpdateConfig struct {
	RewardRate    *uint64
	MinLockPeriod *int64
}

type StakingInstrStake struct {
	Amount uint64
}

func (instr *StakingInstrInitializePool) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error

	instr.RewardRate, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}

	instr.MinLockPeriod, err = decoder.ReadInt64(bin.LE)
	return err
}

func (instr *StakingInstrInitializePool) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteByte(StakingInstrTypeInitializePool)
	_ = encoder.WriteUint64(instr.RewardRate, bin.LE)
	return encoder.WriteInt64(instr.MinLockPeriod, bin.LE)
}

func readOptionTag(decoder *bin.Decoder) (bool, error) {
	tag, err := decoder.ReadByte()
	if err != nil {
		return false, err
	}
	switch tag {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, InstrErrInvalidInstructionData
	}
}

func (instr *StakingInstrUpdateConfig) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	present, err := readOptionTag(decoder)
	if err != nil {
		return err
	}
	if present {
		rate, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		instr.RewardRate = &rate
	}

	present, err = readOptionTag(decoder)
	if err != nil {
		return err
	}
	if present {
		lock, err := decoder.ReadInt64(bin.LE)
		if err != nil {
			return err
		}
		instr.MinLockPeriod = &lock
	}
	return nil
}

func (instr *StakingInstrUpdateConfig) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteByte(StakingInstrTypeUpdateConfig)
	if instr.RewardRate == nil {
		_ = encoder.WriteByte(0)
	} else {
		_ = encoder.WriteByte(1)
		_ = encoder.WriteUint64(*instr.RewardRate, bin.LE)
	}
	if instr.MinLockPeriod == nil {
		return encoder.WriteByte(0)
	}
	_ = encoder.WriteByte(1)
	return encoder.WriteInt64(*instr.MinLockPeriod, bin.LE)
}

func (instr *StakingInstrStake) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	instr.Amount, err = decoder.ReadUint64(bin.LE)
	return err
}

func (instr *StakingInstrStake) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteByte(StakingInstrTypeStake)
	return encoder.WriteUint64(instr.Amount, bin.LE)
}

type marshalerWithEncoder interface {
	MarshalWithEncoder(encoder *bin.Encoder) error
}

func encodeStakingInstr(instr marshalerWithEncoder) []byte {
	buf := new(bytes.Buffer)
	err := instr.MarshalWithEncoder(bin.NewBinEncoder(buf))
	if err != nil {
		panic("shouldn't fail")
	}
	return buf.Bytes()
}

func mustFindStakingPoolAddress(programId, mint solana.PublicKey) solana.PublicKey {
	pool, _, err := FindStakingPoolAddress(programId, mint)
	if err != nil {
		panic("shouldn't fail")
	}
	return pool
}

func mustFindUserStakeAddress(programId, pool, owner solana.PublicKey) solana.PublicKey {
	userStake, _, err := FindUserStakeAddress(programId, pool, owner)
	if err != nil {
		panic("shouldn't fail")
	}
	return userStake
}

func mustFindAssociatedTokenAddress(wallet, mint solana.PublicKey) solana.PublicKey {
	ata, _, err := FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		panic("shouldn't fail")
	}
	return ata
}

// NewInitializePoolInstruction creates the pool for mint. The pool address
// and its vault are derived from the mint.
func NewInitializePoolInstruction(programId, payer, authority, mint solana.PublicKey, rewardRate uint64, minLockPeriod int64) *Instruction {
	pool := mustFindStakingPoolAddress(programId, mint)
	vault := mustFindAssociatedTokenAddress(pool, mint)

	data := encodeStakingInstr(&StakingInstrInitializePool{RewardRate: rewardRate, MinLockPeriod: minLockPeriod})

	return &Instruction{
		Accounts: []AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: authority, IsSigner: true},
			{Pubkey: pool, IsWritable: true},
			{Pubkey: mint},
			{Pubkey: vault, IsWritable: true},
			{Pubkey: TokenProgramAddr},
			{Pubkey: AssociatedTokenProgramAddr},
			{Pubkey: SystemProgramAddr},
			{Pubkey: SysvarRentAddr},
		},
		Data:      data,
		ProgramId: programId,
	}
}

func NewUpdateConfigInstruction(programId, authority, pool solana.PublicKey, rewardRate *uint64, minLockPeriod *int64) *Instruction {
	data := encodeStakingInstr(&StakingInstrUpdateConfig{RewardRate: rewardRate, MinLockPeriod: minLockPeriod})

	return &Instruction{
		Accounts: []AccountMeta{
			{Pubkey: authority, IsSigner: true},
			{Pubkey: pool, IsWritable: true},
		},
		Data:      data,
		ProgramId: programId,
	}
}

func NewInitializeUserInstruction(programId, payer, user, mint solana.PublicKey) *Instruction {
	pool := mustFindStakingPoolAddress(programId, mint)
	userStake := mustFindUserStakeAddress(programId, pool, user)

	return &Instruction{
		Accounts: []AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: user, IsSigner: true},
			{Pubkey: pool},
			{Pubkey: userStake, IsWritable: true},
			{Pubkey: SystemProgramAddr},
			{Pubkey: SysvarRentAddr},
		},
		Data:      []byte{StakingInstrTypeInitializeUser},
		ProgramId: programId,
	}
}

func NewStakeInstruction(programId, user, mint solana.PublicKey, amount uint64) *Instruction {
	pool := mustFindStakingPoolAddress(programId, mint)
	userStake := mustFindUserStakeAddress(programId, pool, user)
	userAta := mustFindAssociatedTokenAddress(user, mint)
	vault := mustFindAssociatedTokenAddress(pool, mint)

	return &Instruction{
		Accounts: []AccountMeta{
			{Pubkey: user, IsSigner: true},
			{Pubkey: userAta, IsWritable: true},
			{Pubkey: mint},
			{Pubkey: pool, IsWritable: true},
			{Pubkey: userStake, IsWritable: true},
			{Pubkey: vault, IsWritable: true},
			{Pubkey: TokenProgramAddr},
		},
		Data:      encodeStakingInstr(&StakingInstrStake{Amount: amount}),
		ProgramId: programId,
	}
}

func newSettleInstruction(instrType byte, programId, user, mint solana.PublicKey) *Instruction {
	pool := mustFindStakingPoolAddress(programId, mint)
	userStake := mustFindUserStakeAddress(programId, pool, user)
	userAta := mustFindAssociatedTokenAddress(user, mint)
	vault := mustFindAssociatedTokenAddress(pool, mint)

	return &Instruction{
		Accounts: []AccountMeta{
			{Pubkey: user, IsSigner: true},
			{Pubkey: userAta, IsWritable: true},
			{Pubkey: mint},
			{Pubkey: userStake, IsWritable: true},
			{Pubkey: pool, IsWritable: true},
			{Pubkey: vault, IsWritable: true},
			{Pubkey: TokenProgramAddr},
		},
		Data:      []byte{instrType},
		ProgramId: programId,
	}
}

func NewClaimRewardsInstruction(programId, user, mint solana.PublicKey) *Instruction {
	return newSettleInstruction(StakingInstrTypeClaimRewards, programId, user, mint)
}

func NewUnstakeInstruction(programId, user, mint solana.PublicKey) *Instruction {
	return newSettleInstruction(StakingInstrTypeUnstake, programId, user, mint)
}
