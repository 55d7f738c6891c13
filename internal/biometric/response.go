package biometric

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	responseLength = 32
	keySalt        = "attendguard/biometric"
	keyInfo        = "challenge-response v1"
)

// DeriveKey expands the configured secret into the HMAC key used for responses.
func DeriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("biometric secret is required")
	}
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, secret, []byte(keySalt), []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive biometric key: %w", err)
	}
	return key, nil
}

// ExpectedResponse is the answer a trusted client computes for a nonce and its
// device evidence: hex(HMAC-SHA256(key, nonce|evidence)) truncated to 32 chars.
func ExpectedResponse(key []byte, nonce, deviceEvidence string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(nonce))
	mac.Write([]byte{'|'})
	mac.Write([]byte(deviceEvidence))
	return hex.EncodeToString(mac.Sum(nil))[:responseLength]
}

func responseMatches(key []byte, nonce, deviceEvidence, response string) bool {
	expected := ExpectedResponse(key, nonce, deviceEvidence)
	return hmac.Equal([]byte(expected), []byte(response))
}

func newNonce(length int) (string, error) {
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b)[:length], nil
}
