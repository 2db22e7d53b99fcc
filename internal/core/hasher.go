package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const genesisSeed = "VesselLedger:genesis:v1"

// GenesisHash is the chain tip before the first command.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(genesisSeed))
}

// StateHasher chains state digests:
// hash[N] = SHA-256(hash[N-1] || big-endian sequence || digest[N]).
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: GenesisHash()}
}

// Next extends the chain with one digest and returns the new tip.
func (h *StateHasher) Next(sequence int64, digest []byte) [32]byte {
	buf := make([]byte, 0, len(h.tip)+8+len(digest))
	buf = append(buf, h.tip[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(sequence))
	buf = append(buf, digest...)
	h.tip = sha256.Sum256(buf)
	return h.tip
}

func (h *StateHasher) Tip() [32]byte { return h.tip }

// Reset moves the tip, for restoring from a snapshot.
func (h *StateHasher) Reset(tip [32]byte) { h.tip = tip }
