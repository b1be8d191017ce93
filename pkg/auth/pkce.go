// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	// CodeChallengeMethodS256 is the only challenge method ever sent.
	CodeChallengeMethodS256 = "S256"

	DefaultVerifierBytes = 32
	DefaultStateBytes    = 32

	// 32 bytes encode to 43 characters and 96 bytes to 128, the RFC 7636 bounds.
	minVerifierBytes = 32
	maxVerifierBytes = 96
	minStateBytes    = 16
)

// PKCEParameters belong to exactly one authorization attempt.
type PKCEParameters struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
}

// PKCEGenerator produces PKCE parameters. The zero value uses crypto/rand and
// the default sizes.
type PKCEGenerator struct {
	VerifierBytes int
	StateBytes    int
	// Random overrides the entropy source. Tests only.
	Random io.Reader
}

// GeneratePKCE returns fresh parameters with the default sizes.
func GeneratePKCE() (*PKCEParameters, error) {
	return (&PKCEGenerator{}).Generate()
}

func (g *PKCEGenerator) Generate() (*PKCEParameters, error) {
	verifierBytes := g.VerifierBytes
	if verifierBytes == 0 {
		verifierBytes = DefaultVerifierBytes
	}
	stateBytes := g.StateBytes
	if stateBytes == 0 {
		stateBytes = DefaultStateBytes
	}
	if verifierBytes < minVerifierBytes || verifierBytes > maxVerifierBytes {
		return nil, newError(KindInvalidConfig, fmt.Sprintf("code verifier entropy must be between %d and %d bytes", minVerifierBytes, maxVerifierBytes), nil)
	}
	if stateBytes < minStateBytes {
		return nil, newError(KindInvalidConfig, fmt.Sprintf("state entropy must be at least %d bytes", minStateBytes), nil)
	}

	verifier, err := g.randomString(verifierBytes)
	if err != nil {
		return nil, err
	}
	state, err := g.randomString(stateBytes)
	if err != nil {
		return nil, err
	}
	return &PKCEParameters{
		CodeVerifier:        verifier,
		CodeChallenge:       CodeChallenge(verifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
		State:               state,
	}, nil
}

// CodeChallenge derives the S256 challenge for verifier.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (g *PKCEGenerator) randomString(n int) (string, error) {
	src := g.Random
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
