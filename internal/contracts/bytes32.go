package contracts

import "bytes"

// ToBytes32 right-pads a short string into a bytes32 word, truncating anything
// past 32 bytes.
func ToBytes32(value string) [32]byte {
	var out [32]byte
	copy(out[:], []byte(value))
	return out
}

// FromBytes32 decodes a bytes32 word the way web3.toUtf8 does: trailing zero
// bytes are dropped.
func FromBytes32(word [32]byte) string {
	return string(bytes.TrimRight(word[:], "\x00"))
}

// Expected returns ExpectedValue as a bytes32 word.
func Expected() [32]byte {
	return ToBytes32(ExpectedValue)
}
