package accounts

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

type MemAccounts struct {
	mu  *sync.RWMutex
	Map map[solana.PublicKey]*Account
}

func NewMemAccounts() MemAccounts {
	return MemAccounts{
		mu:  new(sync.RWMutex),
		Map: make(map[solana.PublicKey]*Account),
	}
}

func (m MemAccounts) GetAccount(pubkey *solana.PublicKey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.Map[*pubkey]
	if !ok {
		return nil, ErrNoAccount
	}
	return acct.Clone(), nil
}

func (m MemAccounts) SetAccount(pubkey *solana.PublicKey, acc *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := acc.Clone()
	c.Key = *pubkey
	m.Map[*pubkey] = c
	return nil
}

func (m MemAccounts) SetAccounts(accts []*Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acct := range accts {
		m.Map[acct.Key] = acct.Clone()
	}
	return nil
}
