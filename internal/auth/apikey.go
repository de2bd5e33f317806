package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	keyMarker    = "sk"
	keyMinLength = 50
	keyRandBytes = 32
)

// GenerateKey returns a fresh key of the form sk_<base36 ms>_<64 hex> and
// its lookup prefix.
func GenerateKey(now time.Time) (key, prefix string, err error) {
	var buf [keyRandBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", "", err
	}
	prefix = keyMarker + "_" + strconv.FormatInt(now.UnixMilli(), 36)
	return prefix + "_" + hex.EncodeToString(buf[:]), prefix, nil
}

// HashKey returns the hex sha256 of pepper followed by key.
func HashKey(pepper, key string) string {
	sum := sha256.Sum256([]byte(pepper + key))
	return hex.EncodeToString(sum[:])
}

// ParseKey checks the key format and returns its prefix.
func ParseKey(key string) (prefix string, ok bool) {
	if !strings.HasPrefix(key, keyMarker+"_") || len(key) < keyMinLength {
		return "", false
	}
	parts := strings.SplitN(key, "_", 3)
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	return parts[0] + "_" + parts[1], true
}
