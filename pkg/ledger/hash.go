package ledger

import (
	"bytes"
	"encoding/binary"
	"sort"

	sha256 "github.com/minio/sha256-simd"
	"go.firedancer.io/stakeledger/pkg/accounts"
)

const merkleFanout = 16

type acctHash struct {
	key  [32]byte
	hash [32]byte
}

func computeMerkleRoot(hashes [][]byte) []byte {
	if len(hashes) == 0 {
		return nil
	}

	chunks := (len(hashes) + merkleFanout - 1) / merkleFanout
	results := make([][]byte, chunks)
	for i := 0; i < chunks; i++ {
		start := i * merkleFanout
		end := min(start+merkleFanout, len(hashes))

		hasher := sha256.New()
		for _, h := range hashes[start:end] {
			hasher.Write(h)
		}
		results[i] = hasher.Sum(nil)
	}

	if len(results) == 1 {
		return results[0]
	}
	return computeMerkleRoot(results)
}

// deltaHash is the merkle root over the hashes of the accounts committed by
// one transaction, ordered by key.
func deltaHash(accts []*accounts.Account) [32]byte {
	pairs := make([]acctHash, len(accts))
	for idx, acct := range accts {
		pairs[idx] = acctHash{key: acct.Key, hash: accounts.Hash(acct)}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return bytes.Compare(pairs[i].key[:], pairs[j].key[:]) < 0
	})

	hashes := make([][]byte, len(pairs))
	for idx := range pairs {
		hashes[idx] = pairs[idx].hash[:]
	}

	var out [32]byte
	copy(out[:], computeMerkleRoot(hashes))
	return out
}

// nextDigest chains the delta hash of a commit onto the previous digest.
func nextDigest(parent [32]byte, delta [32]byte, slot uint64) [32]byte {
	hasher := sha256.New()
	hasher.Write(parent[:])
	hasher.Write(delta[:])

	var slotBytes [8]byte
	binary.LittleEndian.PutUint64(slotBytes[:], slot)
	hasher.Write(slotBytes[:])

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}
