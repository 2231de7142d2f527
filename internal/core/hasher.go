package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "PoolLedger:genesis:v1"

// HashChain links every applied event to the state it produced:
// tip[N] = SHA-256(tip[N-1] || le64(sequence) || state_digest).
type HashChain [32]byte

func GenesisHash() HashChain { return sha256.Sum256([]byte(GenesisHashSeed)) }

// Extend returns the tip after the event at sequence. The receiver is unchanged,
// so a failed commit keeps the previous tip.
func (c HashChain) Extend(sequence int64, stateDigest []byte) HashChain {
	buf := make([]byte, 0, len(c)+8+len(stateDigest))
	buf = append(buf, c[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(sequence))
	buf = append(buf, stateDigest...)
	return sha256.Sum256(buf)
}

// HashChainFrom rebuilds a tip from a stored hash, or genesis when none is stored.
func HashChainFrom(stored []byte) HashChain {
	var c HashChain
	if len(stored) != len(c) {
		return GenesisHash()
	}
	copy(c[:], stored)
	return c
}
