package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) [HashLength]byte {
	return sha256.Sum256(data)
}

// HMACSHA256 returns the HMAC-SHA-256 of data under key.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
