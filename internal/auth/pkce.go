package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	MinVerifierLength     = 43
	MaxVerifierLength     = 128
	DefaultVerifierLength = MaxVerifierLength

	// ChallengeMethod is the only method this package emits.
	ChallengeMethod = "S256"
)

const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// PKCEPair binds a verifier to its challenge for a single authorization
// attempt.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

func (PKCEPair) Method() string { return ChallengeMethod }

// GenerateVerifier returns a random verifier of the given length drawn
// uniformly from [A-Za-z0-9]. Lengths outside [43,128] yield 128.
func GenerateVerifier(length int) (string, error) {
	if length < MinVerifierLength || length > MaxVerifierLength {
		length = DefaultVerifierLength
	}

	max := big.NewInt(int64(len(verifierAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code verifier: %w", err)
		}
		b[i] = verifierAlphabet[n.Int64()]
	}
	return string(b), nil
}

// DeriveChallenge returns base64url(sha256(verifier)) without padding.
func DeriveChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NewPKCEPair generates a fresh verifier and its challenge.
func NewPKCEPair(length int) (PKCEPair, error) {
	verifier, err := GenerateVerifier(length)
	if err != nil {
		return PKCEPair{}, err
	}
	return PKCEPair{Verifier: verifier, Challenge: DeriveChallenge(verifier)}, nil
}

// VerifyChallenge reports whether challenge was derived from verifier.
func VerifyChallenge(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	expected := DeriveChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(challenge), []byte(expected)) == 1
}
