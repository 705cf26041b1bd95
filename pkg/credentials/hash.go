package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const saltBytes = 16

// ErrMalformedHash is returned when a stored hash is not in salt:hash form.
var ErrMalformedHash = errors.New("credentials: malformed token hash")

// HashSecret returns "salt:hash" for secret using a fresh random salt.
func HashSecret(secret string) (string, error) {
	var buf [saltBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	salt := hex.EncodeToString(buf[:])
	return salt + ":" + digest(salt, secret), nil
}

// VerifySecret reports whether secret matches a stored "salt:hash" value.
func VerifySecret(secret, stored string) (bool, error) {
	salt, hash, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || hash == "" {
		return false, ErrMalformedHash
	}
	want, err := hex.DecodeString(hash)
	if err != nil {
		return false, ErrMalformedHash
	}
	sum := sha256.Sum256([]byte(salt + secret))
	return subtle.ConstantTimeCompare(sum[:], want) == 1, nil
}

func digest(salt, secret string) string {
	sum := sha256.Sum256([]byte(salt + secret))
	return hex.EncodeToString(sum[:])
}

// GenerateSecret creates a random secret suitable for handing to a deployment.
func GenerateSecret() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
