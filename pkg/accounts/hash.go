package accounts

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Hash returns the blake3 digest of an account's state. Accounts with zero
// lamports hash to the zero value.
func Hash(acct *Account) [32]byte {
	var out [32]byte
	if acct.Lamports == 0 {
		return out
	}

	hasher := blake3.New()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], acct.Lamports)
	hasher.Write(buf[:])

	binary.LittleEndian.PutUint64(buf[:], acct.RentEpoch)
	hasher.Write(buf[:])

	hasher.Write(acct.Data)

	if acct.Executable {
		hasher.Write([]byte{1})
	} else {
		hasher.Write([]byte{0})
	}

	hasher.Write(acct.Owner[:])
	hasher.Write(acct.Key[:])

	copy(out[:], hasher.Sum(nil))
	return out
}
