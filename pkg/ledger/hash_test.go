package ledger

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	sha256 "github.com/minio/sha256-simd"
	"github.com/stretchr/testify/assert"
	"go.firedancer.io/stakeledger/pkg/accounts"
)

func TestComputeMerkleRoot(t *testing.T) {
	assert.Nil(t, computeMerkleRoot(nil))

	leaf := sha256.Sum256([]byte("leaf"))
	single := sha256.Sum256(leaf[:])
	assert.Equal(t, single[:], computeMerkleRoot([][]byte{leaf[:]}))

	// 17 leaves need a second level: one full chunk and one chunk of one
	leaves := make([][]byte, merkleFanout+1)
	for i := range leaves {
		leaves[i] = leaf[:]
	}
	first := sha256.New()
	for i := 0; i < merkleFanout; i++ {
		first.Write(leaf[:])
	}
	second := sha256.Sum256(leaf[:])
	root := sha256.New()
	root.Write(first.Sum(nil))
	root.Write(second[:])
	assert.Equal(t, root.Sum(nil), computeMerkleRoot(leaves))
}

func TestDeltaHash_OrderIndependent(t *testing.T) {
	a := &accounts.Account{Key: solana.NewWallet().PublicKey(), Lamports: 1, Owner: solana.SystemProgramID}
	b := &accounts.Account{Key: solana.NewWallet().PublicKey(), Lamports: 2, Data: []byte{7}, Owner: solana.SystemProgramID}

	assert.Equal(t, deltaHash([]*accounts.Account{a, b}), deltaHash([]*accounts.Account{b, a}))

	changed := a.Clone()
	changed.Lamports++
	assert.NotEqual(t, deltaHash([]*accounts.Account{a, b}), deltaHash([]*accounts.Account{changed, b}))
}

func TestNextDigest(t *testing.T) {
	var parent, delta [32]byte
	delta[0] = 1

	d0 := nextDigest(parent, delta, 0)
	assert.NotEqual(t, d0, nextDigest(parent, delta, 1))
	assert.NotEqual(t, d0, nextDigest(d0, delta, 0))
	assert.Equal(t, d0, nextDigest(parent, delta, 0))
}
