// Package fairness implements the commit-reveal scheme used to resolve coin
// flips.
//
// At creation the server draws a secret seed and publishes only its SHA-256
// digest. The joining party then contributes a client seed. The outcome is
// HMAC-SHA256(serverSeed, clientSeed) reduced to 52 bits and mapped onto
// [0, 1); values below 0.5 land on heads, the rest on tails. Once the wager
// settles the server seed is revealed and anyone can recompute both the
// digest and the outcome.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"coinflip-backend/internal/models"
)

const (
	serverSeedBytes = 32
	clientSeedBytes = 16

	// outcomeBits is the precision of the unit-interval mapping; 52 bits fit
	// a float64 mantissa exactly.
	outcomeBits = 52

	// Threshold is the fixed, published heads/tails boundary.
	Threshold = 0.5
)

// Commit draws a fresh server seed and returns it with its public digest.
func Commit() (serverSeed, serverSeedHash string, err error) {
	seed, err := randomHex(serverSeedBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate server seed: %w", err)
	}
	return seed, Hash(seed), nil
}

// Hash is the commitment digest for a server seed.
func Hash(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether serverSeed is the preimage of serverSeedHash.
func Verify(serverSeedHash, serverSeed string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(serverSeed)), []byte(serverSeedHash)) == 1
}

// Resolve combines both seeds into a deterministic outcome in [0, 1).
func Resolve(serverSeed, clientSeed string) float64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed))
	sum := mac.Sum(nil)

	n := binary.BigEndian.Uint64(sum[:8]) >> (64 - outcomeBits)
	return float64(n) / float64(uint64(1)<<outcomeBits)
}

func SideFromOutcome(outcome float64) models.Side {
	if outcome < Threshold {
		return models.SideHeads
	}
	return models.SideTails
}

// NewClientSeed is used when the joining party does not supply a seed.
func NewClientSeed() (string, error) {
	seed, err := randomHex(clientSeedBytes)
	if err != nil {
		return "", fmt.Errorf("generate client seed: %w", err)
	}
	return seed, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
