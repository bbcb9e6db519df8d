package base58

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMustDecodeFromString_RoundTrip(t *testing.T) {
	const addr = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	b := MustDecodeFromString(addr)
	assert.Equal(t, addr, Encode(b[:]))
}

func TestMustDecodeFromString_SystemProgram(t *testing.T) {
	b := MustDecodeFromString("11111111111111111111111111111111")
	assert.Equal(t, [32]byte{}, b)
}

func TestMustDecodeFromString_PanicsOnShortInput(t *testing.T) {
	assert.Panics(t, func() { MustDecodeFromString("abc") })
}
