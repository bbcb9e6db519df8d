package accounts

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/lotusdblabs/lotusdb/v2"
	"go.firedancer.io/stakeledger/pkg/base58"
	"k8s.io/klog/v2"
)

// PersistentAccountsDb stores accounts in a lotusdb directory keyed by
// pubkey. Writes made through SetAccounts land in one lotusdb batch.
type PersistentAccountsDb struct {
	db *lotusdb.DB
}

func OpenAccountsDb(dir string) (*PersistentAccountsDb, error) {
	options := lotusdb.DefaultOptions
	options.DirPath = dir

	db, err := lotusdb.Open(options)
	if err != nil {
		return nil, fmt.Errorf("opening accounts db %s: %w", dir, err)
	}

	klog.Infof("opened accounts db at %s", dir)
	return &PersistentAccountsDb{db: db}, nil
}

func (m *PersistentAccountsDb) Close() error {
	return m.db.Close()
}

func (m *PersistentAccountsDb) GetAccount(pubkey *solana.PublicKey) (*Account, error) {
	acctBytes, err := m.db.Get(pubkey[:])
	if errors.Is(err, lotusdb.ErrKeyNotFound) {
		return nil, ErrNoAccount
	} else if err != nil {
		return nil, fmt.Errorf("error whilst retrieving account %s: %w", base58.Encode(pubkey[:]), err)
	}

	acct, err := Unmarshal(*pubkey, acctBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize account %s: %w", base58.Encode(pubkey[:]), err)
	}

	return acct, nil
}

func (m *PersistentAccountsDb) SetAccount(pubkey *solana.PublicKey, acct *Account) error {
	c := acct.Clone()
	c.Key = *pubkey
	return m.SetAccounts([]*Account{c})
}

// SetAccounts writes accts in a single batch. Accounts are serialized
// before the batch is opened so an encoding failure writes nothing.
func (m *PersistentAccountsDb) SetAccounts(accts []*Account) error {
	encoded := make([][]byte, len(accts))
	for idx, acct := range accts {
		acctBytes, err := acct.Marshal()
		if err != nil {
			return fmt.Errorf("failed to serialize account %s: %w", acct.Key, err)
		}
		encoded[idx] = acctBytes
	}

	batch := m.db.NewBatch(lotusdb.DefaultBatchOptions)
	for idx, acct := range accts {
		if err := batch.Put(acct.Key[:], encoded[idx]); err != nil {
			// Put only fails on a closed db, where Commit writes nothing and
			// releases the batch lock
			_ = batch.Commit()
			return fmt.Errorf("error setting account for %s: %w", acct.Key, err)
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("committing %d accounts: %w", len(accts), err)
	}
	return nil
}
