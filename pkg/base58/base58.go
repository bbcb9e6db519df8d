package base58

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// MustDecodeFromString decodes a base58 string into a 32-byte address and
// panics if the input is malformed or of the wrong length.
func MustDecodeFromString(s string) [32]byte {
	var out [32]byte
	b, err := base58.Decode(s)
	if err != nil {
		panic(fmt.Sprintf("invalid base58 %q: %s", s, err))
	}
	if len(b) != len(out) {
		panic(fmt.Sprintf("invalid address %q: decoded to %d bytes", s, len(b)))
	}
	copy(out[:], b)
	return out
}

func Encode(b []byte) string {
	return base58.Encode(b)
}
