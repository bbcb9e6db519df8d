package sealevel

import (
	"bytes"
	"errors"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"k8s.io/klog/v2"
)

const MaxPermittedDataLength = 10 * 1024 * 1024

// system instructions are tagged with a u32; only account creation and
// lamport transfers are supported.
const (
	SystemProgramInstrTypeCreateAccount = 0
	SystemProgramInstrTypeTransfer      = 2
)

const systemInstrMaxLen = 1232

var (
	SystemProgErrAccountAlreadyInUse        = errors.New("SystemProgErrAccountAlreadyInUse")
	SystemProgErrInvalidAccountDataLength   = errors.New("SystemProgErrInvalidAccountDataLength")
	SystemProgErrResultWithNegativeLamports = errors.New("SystemProgErrResultWithNegativeLamports")
)

// SystemInstr is a decoded system program instruction. Space and Owner are
// only meaningful for CreateAccount.
type SystemInstr struct {
	Type     uint32
	Lamports uint64
	Space    uint64
	Owner    solana.PublicKey
}

func (instr *SystemInstr) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	instr.Type, err = decoder.ReadUint32(bin.LE)
	if err != nil {
		return err
	}

	switch instr.Type {
	case SystemProgramInstrTypeCreateAccount:
		if instr.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
			return err
		}
		if instr.Space, err = decoder.ReadUint64(bin.LE); err != nil {
			return err
		}
		if instr.Owner, err = readPubkey(decoder); err != nil {
			return err
		}
	case SystemProgramInstrTypeTransfer:
		if instr.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
			return err
		}
	default:
		return InstrErrInvalidInstructionData
	}

	if decoder.Position() > systemInstrMaxLen {
		return InstrErrInvalidInstructionData
	}
	return nil
}

func (instr *SystemInstr) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(instr.Type, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(instr.Lamports, bin.LE); err != nil {
		return err
	}
	if instr.Type != SystemProgramInstrTypeCreateAccount {
		return nil
	}
	if err := encoder.WriteUint64(instr.Space, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes(instr.Owner[:], false)
}

func newSystemInstruction(instr SystemInstr, metas ...AccountMeta) *Instruction {
	buf := new(bytes.Buffer)
	if err := instr.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		panic("shouldn't fail")
	}
	return &Instruction{Accounts: metas, Data: buf.Bytes(), ProgramId: SystemProgramAddr}
}

func newCreateAccountInstruction(from, to solana.PublicKey, lamports uint64, space uint64, owner solana.PublicKey) *Instruction {
	return newSystemInstruction(
		SystemInstr{Type: SystemProgramInstrTypeCreateAccount, Lamports: lamports, Space: space, Owner: owner},
		AccountMeta{Pubkey: from, IsSigner: true, IsWritable: true},
		AccountMeta{Pubkey: to, IsSigner: true, IsWritable: true})
}

// NewTransferInstruction builds a system program lamport transfer.
func NewTransferInstruction(from, to solana.PublicKey, lamports uint64) *Instruction {
	return newSystemInstruction(
		SystemInstr{Type: SystemProgramInstrTypeTransfer, Lamports: lamports},
		AccountMeta{Pubkey: from, IsSigner: true, IsWritable: true},
		AccountMeta{Pubkey: to, IsWritable: true})
}

func SystemProgramExecute(execCtx *ExecutionCtx) error {
	if err := execCtx.consumeCompute(CUSystemProgramDefaultComputeUnits); err != nil {
		return err
	}

	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	var instr SystemInstr
	if err = instr.UnmarshalWithDecoder(bin.NewBinDecoder(instrCtx.Data)); err != nil {
		return InstrErrInvalidInstructionData
	}

	if err = instrCtx.CheckNumOfInstructionAccounts(2); err != nil {
		return err
	}

	switch instr.Type {
	case SystemProgramInstrTypeCreateAccount:
		signers, err := instrCtx.Signers(txCtx)
		if err != nil {
			return err
		}
		return systemCreateAccount(execCtx, instr, signers)
	default:
		return systemTransfer(execCtx, instr.Lamports)
	}
}

// systemCreateAccount funds account 1 from account 0 and hands it to the
// requested owner with space bytes of zeroed data. Account 1 must sign and
// must not hold lamports yet.
func systemCreateAccount(execCtx *ExecutionCtx, instr SystemInstr, signers []solana.PublicKey) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	to, err := instrCtx.BorrowInstructionAccount(txCtx, 1)
	if err != nil {
		return err
	}
	err = allocateAndAssign(to, instr.Space, instr.Owner, signers)
	to.Drop()
	if err != nil {
		return err
	}

	return systemTransfer(execCtx, instr.Lamports)
}

func allocateAndAssign(acct *BorrowedAccount, space uint64, owner solana.PublicKey, signers []solana.PublicKey) error {
	address := acct.Key()

	if acct.Lamports() > 0 || len(acct.Data()) != 0 || acct.Owner() != SystemProgramAddr {
		klog.Errorf("CreateAccount: account %s already in use", address)
		return SystemProgErrAccountAlreadyInUse
	}
	if verifySigner(address, signers) != nil {
		klog.Errorf("CreateAccount: new account %s must sign", address)
		return InstrErrMissingRequiredSignature
	}
	if space > MaxPermittedDataLength {
		klog.Errorf("CreateAccount: requested %d bytes, max allowed %d", space, MaxPermittedDataLength)
		return SystemProgErrInvalidAccountDataLength
	}

	if err := acct.SetDataLength(space); err != nil {
		return err
	}
	return acct.SetOwner(owner)
}

// systemTransfer moves lamports from instruction account 0, which must sign
// and carry no data, to instruction account 1.
func systemTransfer(execCtx *ExecutionCtx, lamports uint64) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	isSigner, err := instrCtx.IsInstructionAccountSigner(0)
	if err != nil {
		return err
	}
	if !isSigner {
		return InstrErrMissingRequiredSignature
	}

	from, err := instrCtx.BorrowInstructionAccount(txCtx, 0)
	if err != nil {
		return err
	}
	if len(from.Data()) != 0 {
		from.Drop()
		klog.Errorf("Transfer: source %s carries data", from.Key())
		return InstrErrInvalidArgument
	}
	if lamports > from.Lamports() {
		klog.Errorf("Transfer: %s holds %d lamports, need %d", from.Key(), from.Lamports(), lamports)
		from.Drop()
		return SystemProgErrResultWithNegativeLamports
	}
	err = from.CheckedSubLamports(lamports)
	from.Drop()
	if err != nil {
		return err
	}

	to, err := instrCtx.BorrowInstructionAccount(txCtx, 1)
	if err != nil {
		return err
	}
	defer to.Drop()

	return to.CheckedAddLamports(lamports)
}
