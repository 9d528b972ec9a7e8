package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingKey = errors.New("missing API key")
	ErrInvalidKey = errors.New("invalid API key")
)

// KeySet holds the API keys accepted by the worker host. Entries may be
// plaintext keys or bcrypt hashes of keys, so a deployment secret never
// has to carry the key itself.
type KeySet struct {
	plain  [][]byte
	hashed [][]byte
}

// NewKeySet parses a comma-separated list of keys and bcrypt hashes.
// Blank entries are ignored.
func NewKeySet(list string) (*KeySet, error) {
	ks := &KeySet{}
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if isBcryptHash(entry) {
			if _, err := bcrypt.Cost([]byte(entry)); err != nil {
				return nil, fmt.Errorf("malformed bcrypt hash in key list: %w", err)
			}
			ks.hashed = append(ks.hashed, []byte(entry))
			continue
		}
		ks.plain = append(ks.plain, []byte(entry))
	}
	return ks, nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// Len returns the number of configured keys
func (ks *KeySet) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.plain) + len(ks.hashed)
}

// Validate reports whether key matches any configured entry
func (ks *KeySet) Validate(key string) error {
	if key == "" {
		return ErrMissingKey
	}
	for _, p := range ks.plain {
		if subtle.ConstantTimeCompare(p, []byte(key)) == 1 {
			return nil
		}
	}
	for _, h := range ks.hashed {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return nil
		}
	}
	return ErrInvalidKey
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Middleware rejects requests without a valid bearer key. An empty key
// set lets every request through.
func (ks *KeySet) Middleware(next http.Handler) http.Handler {
	if ks.Len() == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ks.Validate(BearerToken(r)); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="whisperq-worker"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GenerateKey returns a random URL-safe API key
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey returns the bcrypt hash of key for use in a key list
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}
