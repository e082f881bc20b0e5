package util

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns the hex sha256 of token.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskIdentifier keeps the country prefix and last four digits of a phone number.
func MaskIdentifier(identifier string) string {
	if len(identifier) <= 6 {
		return "****"
	}
	return identifier[:3] + "****" + identifier[len(identifier)-4:]
}
