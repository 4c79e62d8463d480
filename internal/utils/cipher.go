package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

func Rand(len int) ([]byte, error) {
	buf := make([]byte, len)
	if n, err := rand.Read(buf); err != nil || n != len {
		return nil, fmt.Errorf("failed to generate random bytes: %v", err)
	}
	return buf, nil
}

// DigestSHA returns the hex sha256 of data. Sessions are keyed and
// audited by this digest; the raw token never touches disk.
func DigestSHA(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two secrets without leaking a timing
// signal on mismatch position.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func EncodeBase64(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func DecodeBase64(data string) []byte {
	decoded, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil
	}
	return decoded
}
