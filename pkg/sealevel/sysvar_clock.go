package sealevel

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/stakeledger/pkg/accounts"
	"go.firedancer.io/stakeledger/pkg/base58"
	"k8s.io/klog/v2"
)

const SysvarClockAddrStr = "SysvarC1ock11111111111111111111111111111111"

var SysvarClockAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarClockAddrStr))

const SysvarClockStructLen = 40

type SysvarClock struct {
	Slot                uint64
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

func (sc *SysvarClock) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	slot, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read Slot when decoding SysvarClock: %w", err)
	}
	sc.Slot = slot

	epochStartTimestamp, err := decoder.ReadInt64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read EpochStartTimestamp when decoding SysvarClock: %w", err)
	}
	sc.EpochStartTimestamp = epochStartTimestamp

	epoch, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read Epoch when decoding SysvarClock: %w", err)
	}
	sc.Epoch = epoch

	leaderScheduleEpoch, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read LeaderScheduleEpoch when decoding SysvarClock: %w", err)
	}
	sc.LeaderScheduleEpoch = leaderScheduleEpoch

	unixTimestamp, err := decoder.ReadInt64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read UnixTimestamp when decoding SysvarClock: %w", err)
	}
	sc.UnixTimestamp = unixTimestamp
	return
}

func (sc *SysvarClock) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint64(sc.Slot, bin.LE)
	_ = encoder.WriteInt64(sc.EpochStartTimestamp, bin.LE)
	_ = encoder.WriteUint64(sc.Epoch, bin.LE)
	_ = encoder.WriteUint64(sc.LeaderScheduleEpoch, bin.LE)
	return encoder.WriteInt64(sc.UnixTimestamp, bin.LE)
}

func (sc *SysvarClock) Marshal() []byte {
	buf := new(bytes.Buffer)
	if err := sc.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		panic(fmt.Sprintf("encoding clock sysvar: %s", err))
	}
	return buf.Bytes()
}

func ReadClockSysvar(accts accounts.Accounts) (SysvarClock, error) {
	var clock SysvarClock

	clockAccount, err := accts.GetAccount(&SysvarClockAddr)
	if err != nil {
		klog.Errorf("failed to read clock sysvar account: %s", err)
		return clock, InstrErrUnsupportedSysvar
	}

	if err = clock.UnmarshalWithDecoder(bin.NewBinDecoder(clockAccount.Data)); err != nil {
		klog.Errorf("malformed clock sysvar: %s", err)
		return clock, InstrErrUnsupportedSysvar
	}
	return clock, nil
}

func WriteClockSysvar(accts accounts.Accounts, clock SysvarClock) error {
	return accts.SetAccount(&SysvarClockAddr, NewSysvarAccount(SysvarClockAddr, clock.Marshal()))
}

// NewSysvarAccount builds the read-only account that carries a sysvar.
func NewSysvarAccount(key solana.PublicKey, data []byte) *accounts.Account {
	return &accounts.Account{
		Key:      key,
		Lamports: 1,
		Data:     data,
		Owner:    SysvarOwnerAddr,
	}
}
