package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateToken returns an opaque bearer token (32 random bytes, hex encoded,
// 256 bits of entropy) together with the sha256 hash stored server-side.
func GenerateToken() (string, []byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	token := hex.EncodeToString(buf)
	return token, HashToken(token), nil
}

// HashToken maps a plaintext token to its stored lookup hash.
func HashToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// GenerateBackupCode returns one recovery code: 8 uppercase hex characters
// formatted XXXX-XXXX for readability.
func GenerateBackupCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate backup code: %w", err)
	}

	code := strings.ToUpper(hex.EncodeToString(buf))
	return code[:4] + "-" + code[4:], nil
}
