package sealevel

import (
	"bytes"
	"fmt"
	"math"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/stakeledger/pkg/accounts"
	"go.firedancer.io/stakeledger/pkg/base58"
	"k8s.io/klog/v2"
)

const SysvarRentAddrStr = "SysvarRent111111111111111111111111111111111"

var SysvarRentAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarRentAddrStr))

const SysvarRentStructLen = 17

// bytes of per-account metadata that rent is charged for on top of the data
const AccountStorageOverhead = 128

const (
	DefaultLamportsPerByteYear = 3480
	DefaultExemptionThreshold  = 2.0
	DefaultBurnPercent         = 50
)

type SysvarRent struct {
	LamportsPerUint8Year uint64
	ExemptionThreshold   float64
	BurnPercent          byte
}

func DefaultRent() SysvarRent {
	return SysvarRent{
		LamportsPerUint8Year: DefaultLamportsPerByteYear,
		ExemptionThreshold:   DefaultExemptionThreshold,
		BurnPercent:          DefaultBurnPercent,
	}
}

func (sr *SysvarRent) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	lamportsPerUint8Year, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read LamportsPerUint8Year when decoding SysvarRent: %w", err)
	}
	sr.LamportsPerUint8Year = lamportsPerUint8Year

	exemptionThreshold, err := decoder.ReadFloat64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read ExemptionThreshold when decoding SysvarRent: %w", err)
	}
	sr.ExemptionThreshold = exemptionThreshold

	burnPercent, err := decoder.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read BurnPercent when decoding SysvarRent: %w", err)
	}
	sr.BurnPercent = burnPercent

	return
}

func (sr *SysvarRent) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint64(sr.LamportsPerUint8Year, bin.LE)
	_ = encoder.WriteUint64(math.Float64bits(sr.ExemptionThreshold), bin.LE)
	return encoder.WriteByte(sr.BurnPercent)
}

func (sr *SysvarRent) Marshal() []byte {
	buf := new(bytes.Buffer)
	if err := sr.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		panic(fmt.Sprintf("encoding rent sysvar: %s", err))
	}
	return buf.Bytes()
}

// MinimumBalance returns the lamports an account holding dataLen bytes needs
// to be exempt from rent.
func (sr *SysvarRent) MinimumBalance(dataLen uint64) uint64 {
	size := AccountStorageOverhead + dataLen
	return uint64(float64(size*sr.LamportsPerUint8Year) * sr.ExemptionThreshold)
}

func (sr *SysvarRent) IsExempt(lamports uint64, dataLen uint64) bool {
	return lamports >= sr.MinimumBalance(dataLen)
}

func ReadRentSysvar(accts accounts.Accounts) (SysvarRent, error) {
	var rent SysvarRent

	rentAcct, err := accts.GetAccount(&SysvarRentAddr)
	if err != nil {
		klog.Errorf("failed to read rent sysvar account: %s", err)
		return rent, InstrErrUnsupportedSysvar
	}

	if err = rent.UnmarshalWithDecoder(bin.NewBinDecoder(rentAcct.Data)); err != nil {
		klog.Errorf("malformed rent sysvar: %s", err)
		return rent, InstrErrUnsupportedSysvar
	}
	return rent, nil
}

func WriteRentSysvar(accts accounts.Accounts, rent SysvarRent) error {
	return accts.SetAccount(&SysvarRentAddr, NewSysvarAccount(SysvarRentAddr, rent.Marshal()))
}

// rentFromInstructionAccount decodes the rent sysvar passed as an instruction
// account.
func rentFromInstructionAccount(execCtx *ExecutionCtx, instrAcctIdx uint64) (SysvarRent, error) {
	var rent SysvarRent

	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return rent, err
	}

	acct, err := instrCtx.BorrowInstructionAccount(txCtx, instrAcctIdx)
	if err != nil {
		return rent, err
	}
	defer acct.Drop()

	if acct.Key() != SysvarRentAddr {
		return rent, InstrErrInvalidArgument
	}

	if err = rent.UnmarshalWithDecoder(bin.NewBinDecoder(acct.Data())); err != nil {
		return rent, InstrErrInvalidArgument
	}
	return rent, nil
}
