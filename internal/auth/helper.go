package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
)

var ErrInvalidCredential = errors.New("invalid authorization credential")

// CredentialKind is the first component of an authorization header.
type CredentialKind string

const (
	CredentialServer CredentialKind = "server"
	CredentialAPI    CredentialKind = "api"
)

var credentialRx = regexp.MustCompile(`^(?i)(server|api)[ _]([a-zA-Z0-9-]+)[ _]([a-zA-Z0-9]+)$`)

// Credential is a parsed `<TYPE> <ID> <SECRET>` authorization value.
type Credential struct {
	Kind   CredentialKind
	ID     string
	Secret string
}

func ParseCredential(value string) (Credential, error) {
	value = strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))

	match := credentialRx.FindStringSubmatch(value)
	if match == nil {
		return Credential{}, ErrInvalidCredential
	}

	return Credential{Kind: CredentialKind(strings.ToLower(match[1])), ID: match[2], Secret: match[3]}, nil
}

func (c Credential) String() string {
	return strings.ToUpper(string(c.Kind)) + " " + c.ID + " " + c.Secret
}

// HashKey returns the salted digest stored in place of a secret.
func HashKey(secret string, salt string) string {
	sum := sha512.Sum512([]byte(secret + salt))

	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func VerifyKey(secret string, salt string, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashKey(secret, salt)), []byte(strings.ToUpper(hash))) == 1
}

// NewSecret generates a random alphanumeric secret.
func NewSecret() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)

	return hex.EncodeToString(buf)
}
