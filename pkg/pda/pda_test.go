package pda

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindProgramAddress_MatchesSolanaGo(t *testing.T) {
	programID := solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	mint := solana.NewWallet().PublicKey()

	seeds := [][]byte{[]byte("pool"), mint[:]}
	addr, bump, err := FindProgramAddress(seeds, programID)
	require.NoError(t, err)

	expected, expectedBump, err := solana.FindProgramAddress(seeds, programID)
	require.NoError(t, err)

	assert.Equal(t, expected, addr)
	assert.Equal(t, expectedBump, bump)
	assert.False(t, IsOnCurve(addr[:]))
}

func TestCreateProgramAddress_BumpRoundTrip(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	addr, bump, err := FindProgramAddress([][]byte{[]byte("user"), owner[:]}, programID)
	require.NoError(t, err)

	again, err := CreateProgramAddress([][]byte{[]byte("user"), owner[:], {bump}}, programID)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
}

func TestCreateProgramAddress_SeedLimits(t *testing.T) {
	programID := solana.NewWallet().PublicKey()

	_, err := CreateProgramAddress([][]byte{make([]byte, MaxSeedLen+1)}, programID)
	assert.ErrorIs(t, err, ErrSeedLength)

	tooMany := make([][]byte, MaxSeeds+1)
	_, err = CreateProgramAddress(tooMany, programID)
	assert.ErrorIs(t, err, ErrSeedLength)

	_, err = CreateProgramAddressBytes(nil, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrAddressLength)
}

func TestIsOnCurve_WalletKey(t *testing.T) {
	key := solana.NewWallet().PublicKey()
	assert.True(t, IsOnCurve(key[:]))
}
