package utils

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"math/big"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateUsername returns a random alphanumeric reviewer username.
func GenerateUsername(length int) string {
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			log.Printf("Error generating username: %s\n", err.Error())
			return ""
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}

// GeneratePassword returns a random reviewer password derived from length
// bytes of entropy.
func GeneratePassword(length int) string {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		log.Printf("Error generating password: %s\n", err.Error())
		return ""
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	out := make([]byte, len(encoded))
	for i := range encoded {
		out[i] = alphabet[int(encoded[i])%len(alphabet)]
	}
	return string(out)
}
