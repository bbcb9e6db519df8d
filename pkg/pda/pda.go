// Package pda derives program-derived addresses: 32-byte addresses that are
// guaranteed to lie off the ed25519 curve, so no private key can sign for
// them and only the owning program can authorize on their behalf.
package pda

import (
	"errors"

	"filippo.io/edwards25519"
	"github.com/gagliardetto/solana-go"
	sha256 "github.com/minio/sha256-simd"
)

const MaxSeeds = 16
const MaxSeedLen = 32
const PublicKeyLength = 32
const PdaMarker = "ProgramDerivedAddress"

var (
	ErrSeedLength          = errors.New("Max seeds (16) exceeded")
	ErrAddressLength       = errors.New("Wrong key length; addresses are 32 bytes long")
	ErrOnCurveInvalidSeeds = errors.New("Invalid seeds - generated address must be off-curve")
	ErrNoViableBump        = errors.New("Unable to find a viable program address bump seed")
)

func CreateProgramAddressBytes(seeds [][]byte, programID []byte) ([]byte, error) {
	if len(seeds) > MaxSeeds {
		return nil, ErrSeedLength
	}

	if len(programID) != PublicKeyLength {
		return nil, ErrAddressLength
	}

	hasher := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return nil, ErrSeedLength
		}
		hasher.Write(seed)
	}

	hasher.Write(programID)
	hasher.Write([]byte(PdaMarker))
	hash := hasher.Sum(nil)

	if IsOnCurve(hash) {
		return nil, ErrOnCurveInvalidSeeds
	}

	return hash, nil
}

func CreateProgramAddress(seeds [][]byte, programID solana.PublicKey) (solana.PublicKey, error) {
	b, err := CreateProgramAddressBytes(seeds, programID[:])
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

// FindProgramAddress searches bump seeds from 255 down to 1 and returns the
// first off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return solana.PublicKey{}, 0, ErrSeedLength
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := uint8(255); bump > 0; bump-- {
		withBump[len(seeds)] = []byte{bump}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, bump, nil
		}
		if !errors.Is(err, ErrOnCurveInvalidSeeds) {
			return solana.PublicKey{}, 0, err
		}
	}

	return solana.PublicKey{}, 0, ErrNoViableBump
}

// IsOnCurve checks if 'b' is on the ed25519 curve
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	onCurve := err == nil
	return onCurve
}
