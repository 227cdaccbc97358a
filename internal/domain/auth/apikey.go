package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for missing, unknown or inactive keys.
var ErrUnauthorized = errors.New("unauthorized")

// ErrKeyNotFound is returned by repositories when no active key matches.
var ErrKeyNotFound = errors.New("api key not found")

// ErrForbidden is returned when a valid key lacks the required scope.
var ErrForbidden = errors.New("forbidden")

// ScopeStaff grants access to the POS and kitchen routes.
const ScopeStaff = "staff"

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Authorize returns ErrForbidden unless the key in ctx has scope.
func Authorize(ctx context.Context, scope string) error {
	info, ok := FromContext(ctx)
	if !ok {
		return ErrUnauthorized
	}
	if !info.HasScope(scope) {
		return ErrForbidden
	}
	return nil
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored.
func HashKey(pepper []byte, key string) string {
	return hex.EncodeToString(mac(pepper, key))
}

func mac(pepper []byte, key string) []byte {
	m := hmac.New(sha256.New, pepper)
	m.Write([]byte(key))
	return m.Sum(nil)
}

// Authenticator validates staff API keys.
type Authenticator struct {
	apikeys Repository
	pepper  []byte
}

// NewAuthenticator creates an Authenticator with the given API key
// repository and HMAC pepper.
func NewAuthenticator(apikeys Repository, pepper []byte) *Authenticator {
	return &Authenticator{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate hashes key, looks it up and compares the stored hash in
// constant time.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrUnauthorized
	}

	hash := mac(a.pepper, key)
	info, err := a.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}

type keyCtx struct{}

// WithKey returns a context carrying the authenticated key.
func WithKey(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, keyCtx{}, info)
}

// FromContext returns the authenticated key, if any.
func FromContext(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(keyCtx{}).(*APIKeyInfo)
	return info, ok
}
