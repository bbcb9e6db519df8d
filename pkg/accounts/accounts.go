package accounts

import (
	"bytes"
	"errors"
	"io"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var ErrNoAccount = errors.New("account not found")

// Accounts is a key/value store of account state. GetAccount returns
// ErrNoAccount for keys that have never been written. SetAccounts applies a
// set of writes atomically.
type Accounts interface {
	GetAccount(pubkey *solana.PublicKey) (*Account, error)
	SetAccount(pubkey *solana.PublicKey, acc *Account) error
	SetAccounts(accts []*Account) error
}

type Account struct {
	Key        solana.PublicKey
	Lamports   uint64
	Data       []byte
	Owner      solana.PublicKey
	Executable bool
	RentEpoch  uint64
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

func (a *Account) IsEmpty() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

func (a *Account) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	a.Lamports, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	var dataLen uint64
	dataLen, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if dataLen > uint64(decoder.Remaining()) {
		return io.ErrUnexpectedEOF
	}
	data, err := decoder.ReadNBytes(int(dataLen))
	if err != nil {
		return err
	}
	a.Data = append([]byte(nil), data...)
	owner, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(a.Owner[:], owner)
	a.Executable, err = decoder.ReadBool()
	if err != nil {
		return err
	}
	a.RentEpoch, err = decoder.ReadUint64(bin.LE)
	return
}

func (a *Account) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint64(a.Lamports, bin.LE)
	_ = encoder.WriteUint64(uint64(len(a.Data)), bin.LE)
	_ = encoder.WriteBytes(a.Data, false)
	_ = encoder.WriteBytes(a.Owner[:], false)
	_ = encoder.WriteBool(a.Executable)
	return encoder.WriteUint64(a.RentEpoch, bin.LE)
}

func (a *Account) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := a.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes an account stored under key.
func Unmarshal(key solana.PublicKey, data []byte) (*Account, error) {
	acct := &Account{Key: key}
	if err := acct.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, err
	}
	return acct, nil
}
