package sealevel

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.firedancer.io/stakeledger/pkg/safemath"
	"k8s.io/klog/v2"
)

const (
	TokenAccountSize = 165
	TokenMintSize    = 82
)

const (
	TokenInstrTypeTransfer           = 3
	TokenInstrTypeMintTo             = 7
	TokenInstrTypeInitializeAccount3 = 18
)

const (
	TokenAccountStateUninitialized = iota
	TokenAccountStateInitialized
	TokenAccountStateFrozen
)

// TokenError is a token program failure surfaced as a custom error code.
type TokenError struct {
	code uint32
	name string
}

func (e *TokenError) Error() string { return e.name }
func (e *TokenError) Code() uint32  { return e.code }

var (
	TokenErrNotRentExempt      = &TokenError{0, "TokenErrNotRentExempt"}
	TokenErrInsufficientFunds  = &TokenError{1, "TokenErrInsufficientFunds"}
	TokenErrInvalidMint        = &TokenError{2, "TokenErrInvalidMint"}
	TokenErrMintMismatch       = &TokenError{3, "TokenErrMintMismatch"}
	TokenErrOwnerMismatch      = &TokenError{4, "TokenErrOwnerMismatch"}
	TokenErrFixedSupply        = &TokenError{5, "TokenErrFixedSupply"}
	TokenErrAlreadyInUse       = &TokenError{6, "TokenErrAlreadyInUse"}
	TokenErrUninitializedState = &TokenError{9, "TokenErrUninitializedState"}
	TokenErrOverflow           = &TokenError{14, "TokenErrOverflow"}
	TokenErrAccountFrozen      = &TokenError{17, "TokenErrAccountFrozen"}
)

var errInvalidCOptionTag = errors.New("invalid COption tag")

// TokenAccount is the 165-byte SPL token account layout.
type TokenAccount struct {
	Mint            solana.PublicKey
	Owner           solana.PublicKey
	Amount          uint64
	Delegate        *solana.PublicKey
	State           byte
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *solana.PublicKey
}

// TokenMint is the 82-byte SPL mint layout.
type TokenMint struct {
	MintAuthority   *solana.PublicKey
	Supply          uint64
	Decimals        byte
	IsInitialized   bool
	FreezeAuthority *solana.PublicKey
}

func readPubkey(decoder *bin.Decoder) (solana.PublicKey, error) {
	var pk solana.PublicKey
	b, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return pk, err
	}
	copy(pk[:], b)
	return pk, nil
}

func readCOptionPubkey(decoder *bin.Decoder) (*solana.PublicKey, error) {
	tag, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	pk, err := readPubkey(decoder)
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		return &pk, nil
	default:
		return nil, errInvalidCOptionTag
	}
}

func writeCOptionPubkey(encoder *bin.Encoder, pk *solana.PublicKey) error {
	if pk == nil {
		_ = encoder.WriteUint32(0, bin.LE)
		return encoder.WriteBytes(make([]byte, solana.PublicKeyLength), false)
	}
	_ = encoder.WriteUint32(1, bin.LE)
	return encoder.WriteBytes(pk[:], false)
}

func (ta *TokenAccount) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if ta.Mint, err = readPubkey(decoder); err != nil {
		return fmt.Errorf("failed to read Mint when decoding TokenAccount: %w", err)
	}
	if ta.Owner, err = readPubkey(decoder); err != nil {
		return fmt.Errorf("failed to read Owner when decoding TokenAccount: %w", err)
	}
	if ta.Amount, err = decoder.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("failed to read Amount when decoding TokenAccount: %w", err)
	}
	if ta.Delegate, err = readCOptionPubkey(decoder); err != nil {
		return fmt.Errorf("failed to read Delegate when decoding TokenAccount: %w", err)
	}
	if ta.State, err = decoder.ReadByte(); err != nil {
		return fmt.Errorf("failed to read State when decoding TokenAccount: %w", err)
	}
	if ta.State > TokenAccountStateFrozen {
		return fmt.Errorf("invalid token account state %d", ta.State)
	}

	isNativeTag, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read IsNative when decoding TokenAccount: %w", err)
	}
	isNative, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read IsNative when decoding TokenAccount: %w", err)
	}
	switch isNativeTag {
	case 0:
		ta.IsNative = nil
	case 1:
		ta.IsNative = &isNative
	default:
		return errInvalidCOptionTag
	}

	if ta.DelegatedAmount, err = decoder.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("failed to read DelegatedAmount when decoding TokenAccount: %w", err)
	}
	if ta.CloseAuthority, err = readCOptionPubkey(decoder); err != nil {
		return fmt.Errorf("failed to read CloseAuthority when decoding TokenAccount: %w", err)
	}
	return nil
}

func (ta *TokenAccount) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteBytes(ta.Mint[:], false)
	_ = encoder.WriteBytes(ta.Owner[:], false)
	_ = encoder.WriteUint64(ta.Amount, bin.LE)
	_ = writeCOptionPubkey(encoder, ta.Delegate)
	_ = encoder.WriteByte(ta.State)
	if ta.IsNative == nil {
		_ = encoder.WriteUint32(0, bin.LE)
		_ = encoder.WriteUint64(0, bin.LE)
	} else {
		_ = encoder.WriteUint32(1, bin.LE)
		_ = encoder.WriteUint64(*ta.IsNative, bin.LE)
	}
	_ = encoder.WriteUint64(ta.DelegatedAmount, bin.LE)
	return writeCOptionPubkey(encoder, ta.CloseAuthority)
}

func (ta *TokenAccount) Marshal() []byte {
	buf := new(bytes.Buffer)
	if err := ta.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		panic(fmt.Sprintf("encoding token account: %s", err))
	}
	return buf.Bytes()
}

func (ta *TokenAccount) IsInitialized() bool {
	return ta.State != TokenAccountStateUninitialized
}

func (ta *TokenAccount) IsFrozen() bool {
	return ta.State == TokenAccountStateFrozen
}

func UnmarshalTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) != TokenAccountSize {
		return nil, InstrErrInvalidAccountData
	}
	ta := new(TokenAccount)
	if err := ta.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, InstrErrInvalidAccountData
	}
	return ta, nil
}

func (mint *TokenMint) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if mint.MintAuthority, err = readCOptionPubkey(decoder); err != nil {
		return fmt.Errorf("failed to read MintAuthority when decoding TokenMint: %w", err)
	}
	if mint.Supply, err = decoder.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("failed to read Supply when decoding TokenMint: %w", err)
	}
	if mint.Decimals, err = decoder.ReadByte(); err != nil {
		return fmt.Errorf("failed to read Decimals when decoding TokenMint: %w", err)
	}
	if mint.IsInitialized, err = decoder.ReadBool(); err != nil {
		return fmt.Errorf("failed to read IsInitialized when decoding TokenMint: %w", err)
	}
	if mint.FreezeAuthority, err = readCOptionPubkey(decoder); err != nil {
		return fmt.Errorf("failed to read FreezeAuthority when decoding TokenMint: %w", err)
	}
	return nil
}

func (mint *TokenMint) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = writeCOptionPubkey(encoder, mint.MintAuthority)
	_ = encoder.WriteUint64(mint.Supply, bin.LE)
	_ = encoder.WriteByte(mint.Decimals)
	_ = encoder.WriteBool(mint.IsInitialized)
	return writeCOptionPubkey(encoder, mint.FreezeAuthority)
}

func (mint *TokenMint) Marshal() []byte {
	buf := new(bytes.Buffer)
	if err := mint.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		panic(fmt.Sprintf("encoding token mint: %s", err))
	}
	return buf.Bytes()
}

func UnmarshalTokenMint(data []byte) (*TokenMint, error) {
	if len(data) != TokenMintSize {
		return nil, InstrErrInvalidAccountData
	}
	mint := new(TokenMint)
	if err := mint.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, InstrErrInvalidAccountData
	}
	return mint, nil
}

func newTokenInstruction(data []byte, metas ...AccountMeta) *Instruction {
	return &Instruction{Accounts: metas, Data: data, ProgramId: TokenProgramAddr}
}

func tokenAmountInstrData(instrType byte, amount uint64) []byte {
	buf := new(bytes.Buffer)
	encoder := bin.NewBinEncoder(buf)
	_ = encoder.WriteByte(instrType)
	_ = encoder.WriteUint64(amount, bin.LE)
	return buf.Bytes()
}

func NewTokenTransferInstruction(source, destination, authority solana.PublicKey, amount uint64) *Instruction {
	return newTokenInstruction(tokenAmountInstrData(TokenInstrTypeTransfer, amount),
		AccountMeta{Pubkey: source, IsWritable: true},
		AccountMeta{Pubkey: destination, IsWritable: true},
		AccountMeta{Pubkey: authority, IsSigner: true})
}

func NewTokenMintToInstruction(mint, destination, authority solana.PublicKey, amount uint64) *Instruction {
	return newTokenInstruction(tokenAmountInstrData(TokenInstrTypeMintTo, amount),
		AccountMeta{Pubkey: mint, IsWritable: true},
		AccountMeta{Pubkey: destination, IsWritable: true},
		AccountMeta{Pubkey: authority, IsSigner: true})
}

func NewInitializeAccount3Instruction(account, mint, owner solana.PublicKey) *Instruction {
	data := append([]byte{TokenInstrTypeInitializeAccount3}, owner[:]...)
	return newTokenInstruction(data,
		AccountMeta{Pubkey: account, IsWritable: true},
		AccountMeta{Pubkey: mint})
}

func TokenProgramExecute(execCtx *ExecutionCtx) error {
	err := execCtx.consumeCompute(CUTokenProgramDefaultComputeUnits)
	if err != nil {
		return err
	}

	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	decoder := bin.NewBinDecoder(instrCtx.Data)
	instrType, err := decoder.ReadByte()
	if err != nil {
		return InstrErrInvalidInstructionData
	}

	switch instrType {
	case TokenInstrTypeTransfer:
		amount, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return InstrErrInvalidInstructionData
		}
		err = instrCtx.CheckNumOfInstructionAccounts(3)
		if err != nil {
			return err
		}
		return tokenTransfer(execCtx, amount)

	case TokenInstrTypeMintTo:
		amount, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return InstrErrInvalidInstructionData
		}
		err = instrCtx.CheckNumOfInstructionAccounts(3)
		if err != nil {
			return err
		}
		return tokenMintTo(execCtx, amount)

	case TokenInstrTypeInitializeAccount3:
		owner, err := readPubkey(decoder)
		if err != nil {
			return InstrErrInvalidInstructionData
		}
		err = instrCtx.CheckNumOfInstructionAccounts(2)
		if err != nil {
			return err
		}
		return tokenInitializeAccount3(execCtx, owner)

	default:
		return InstrErrInvalidInstructionData
	}
}

// borrowTokenProgramAccount borrows an instruction account and checks that
// the token program owns it.
func borrowTokenProgramAccount(execCtx *ExecutionCtx, instrAcctIdx uint64) (*BorrowedAccount, error) {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return nil, err
	}

	acct, err := instrCtx.BorrowInstructionAccount(txCtx, instrAcctIdx)
	if err != nil {
		return nil, err
	}

	if acct.Owner() != TokenProgramAddr {
		acct.Drop()
		return nil, InstrErrIncorrectProgramId
	}
	return acct, nil
}

func readInitializedTokenAccount(execCtx *ExecutionCtx, instrAcctIdx uint64) (*TokenAccount, solana.PublicKey, error) {
	acct, err := borrowTokenProgramAccount(execCtx, instrAcctIdx)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	defer acct.Drop()

	ta, err := UnmarshalTokenAccount(acct.Data())
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	if !ta.IsInitialized() {
		return nil, solana.PublicKey{}, TokenErrUninitializedState
	}
	return ta, acct.Key(), nil
}

func writeTokenProgramAccount(execCtx *ExecutionCtx, instrAcctIdx uint64, data []byte) error {
	acct, err := borrowTokenProgramAccount(execCtx, instrAcctIdx)
	if err != nil {
		return err
	}
	defer acct.Drop()

	return acct.SetData(data)
}

func tokenInitializeAccount3(execCtx *ExecutionCtx, owner solana.PublicKey) error {
	acct, err := borrowTokenProgramAccount(execCtx, 0)
	if err != nil {
		return err
	}
	ta, err := UnmarshalTokenAccount(acct.Data())
	lamports := acct.Lamports()
	acct.Drop()
	if err != nil {
		return err
	}

	if ta.IsInitialized() {
		return TokenErrAlreadyInUse
	}

	rent, err := ReadRentSysvar(execCtx.Accounts)
	if err != nil {
		return err
	}
	if !rent.IsExempt(lamports, TokenAccountSize) {
		return TokenErrNotRentExempt
	}

	mintAcct, err := borrowTokenProgramAccount(execCtx, 1)
	if err != nil {
		return TokenErrInvalidMint
	}
	mint, err := UnmarshalTokenMint(mintAcct.Data())
	mintKey := mintAcct.Key()
	mintAcct.Drop()
	if err != nil || !mint.IsInitialized {
		return TokenErrInvalidMint
	}

	ta = &TokenAccount{Mint: mintKey, Owner: owner, State: TokenAccountStateInitialized}
	return writeTokenProgramAccount(execCtx, 0, ta.Marshal())
}

func tokenTransfer(execCtx *ExecutionCtx, amount uint64) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	source, sourceKey, err := readInitializedTokenAccount(execCtx, 0)
	if err != nil {
		return err
	}
	dest, destKey, err := readInitializedTokenAccount(execCtx, 1)
	if err != nil {
		return err
	}

	if source.IsFrozen() || dest.IsFrozen() {
		return TokenErrAccountFrozen
	}
	if source.Amount < amount {
		klog.Errorf("token transfer: %s holds %d, need %d", sourceKey, source.Amount, amount)
		return TokenErrInsufficientFunds
	}
	if source.Mint != dest.Mint {
		return TokenErrMintMismatch
	}

	authority, err := instrCtx.InstructionAccountKey(txCtx, 2)
	if err != nil {
		return err
	}
	if authority != source.Owner {
		return TokenErrOwnerMismatch
	}
	isSigner, err := instrCtx.IsInstructionAccountSigner(2)
	if err != nil {
		return err
	}
	if !isSigner {
		return InstrErrMissingRequiredSignature
	}

	if sourceKey == destKey {
		return nil
	}

	source.Amount -= amount
	dest.Amount, err = safemath.CheckedAddU64(dest.Amount, amount)
	if err != nil {
		return TokenErrOverflow
	}

	if err = writeTokenProgramAccount(execCtx, 0, source.Marshal()); err != nil {
		return err
	}
	return writeTokenProgramAccount(execCtx, 1, dest.Marshal())
}

func tokenMintTo(execCtx *ExecutionCtx, amount uint64) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	dest, _, err := readInitializedTokenAccount(execCtx, 1)
	if err != nil {
		return err
	}
	if dest.IsFrozen() {
		return TokenErrAccountFrozen
	}

	mintAcct, err := borrowTokenProgramAccount(execCtx, 0)
	if err != nil {
		return err
	}
	mint, err := UnmarshalTokenMint(mintAcct.Data())
	mintKey := mintAcct.Key()
	mintAcct.Drop()
	if err != nil {
		return err
	}
	if !mint.IsInitialized {
		return TokenErrUninitializedState
	}
	if dest.Mint != mintKey {
		return TokenErrMintMismatch
	}
	if mint.MintAuthority == nil {
		return TokenErrFixedSupply
	}

	authority, err := instrCtx.InstructionAccountKey(txCtx, 2)
	if err != nil {
		return err
	}
	if authority != *mint.MintAuthority {
		return TokenErrOwnerMismatch
	}
	isSigner, err := instrCtx.IsInstructionAccountSigner(2)
	if err != nil {
		return err
	}
	if !isSigner {
		return InstrErrMissingRequiredSignature
	}

	dest.Amount, err = safemath.CheckedAddU64(dest.Amount, amount)
	if err != nil {
		return TokenErrOverflow
	}
	mint.Supply, err = safemath.CheckedAddU64(mint.Supply, amount)
	if err != nil {
		return TokenErrOverflow
	}

	if err = writeTokenProgramAccount(execCtx, 1, dest.Marshal()); err != nil {
		return err
	}
	return writeTokenProgramAccount(execCtx, 0, mint.Marshal())
}
