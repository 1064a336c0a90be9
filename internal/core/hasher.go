package core

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/google/uuid"
)

const GenesisHashSeed = "RaffleLedger:genesis:v1"

// StateHasher computes the per-raffle state hash chain
type StateHasher struct {
	prevHash [32]byte
}

// GenesisHash is the chain start of one raffle: SHA-256(seed || raffle_id).
func GenesisHash(raffleID uuid.UUID) [32]byte {
	buf := make([]byte, 0, len(GenesisHashSeed)+16)
	buf = append(buf, GenesisHashSeed...)
	buf = append(buf, raffleID[:]...)
	return sha256.Sum256(buf)
}

// NewStateHasher initializes with the raffle's genesis hash
func NewStateHasher(raffleID uuid.UUID) *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(raffleID),
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resumes the chain from a persisted tip.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
